package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"onion-alerts/internal/domain"
)

// Message is a formatted alert. Text is Telegram HTML.
type Message struct {
	Text       string
	ButtonText string
	ButtonURL  string
}

var levelEmoji = map[domain.AlertLevel]string{
	domain.LevelMin:      "🆕",
	domain.LevelMedium:   "📈",
	domain.LevelMax:      "🚀",
	domain.LevelLargeBuy: "🐋",
	domain.LevelUpgrade:  "⬆️",
}

// FormatAlert renders an alert for obs at level.
func FormatAlert(obs domain.PairObservation, level domain.AlertLevel, spikeRatio float64) Message {
	esc := func(s string) string { return tgbotapi.EscapeText(tgbotapi.ModeHTML, s) }
	link := obs.DeepLink()

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b> | %s\n", levelEmoji[level], esc(level.Label()), esc(string(obs.Chain)))
	fmt.Fprintf(&b, "<b>$%s</b>\n\n", esc(obs.Symbol))
	fmt.Fprintf(&b, "CA: <code>%s</code>\n", esc(obs.TokenAddress))
	fmt.Fprintf(&b, "💧 Liquidity: %s\n", FormatUSD(obs.LiquidityUSD))
	fmt.Fprintf(&b, "🏦 FDV: %s\n", FormatUSD(obs.FDVUSD))
	fmt.Fprintf(&b, "📊 Vol 5m: %s", FormatUSD(obs.Volume5mUSD))
	if spikeRatio > 1 {
		fmt.Fprintf(&b, " (x%.1f)", spikeRatio)
	}
	b.WriteString("\n")
	if largest := largestBuy(obs); largest > 0 && (level == domain.LevelMax || level == domain.LevelLargeBuy) {
		fmt.Fprintf(&b, "🐋 Buy: %s\n", FormatUSD(largest))
	}
	fmt.Fprintf(&b, "\n<a href=\"%s\">DexScreener</a>", esc(link))

	return Message{
		Text:       b.String(),
		ButtonText: "📈 DexScreener",
		ButtonURL:  link,
	}
}

func largestBuy(obs domain.PairObservation) float64 {
	var best float64
	for _, b := range obs.OriginTxBuys {
		if b.AmountUSD > best {
			best = b.AmountUSD
		}
	}
	return best
}

// FormatUSD prints compact dollar amounts: $950, $12.5K, $3.20M, $1.05B.
func FormatUSD(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("$%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("$%.1fK", v/1e3)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}
