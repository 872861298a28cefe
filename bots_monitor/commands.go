package bots_monitor

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"onion-alerts/internal/domain"
	"onion-alerts/internal/features/payments"
	"onion-alerts/internal/features/tg_charts"
	log "onion-alerts/internal/infra/log"
	"onion-alerts/internal/state"
)

const verifyTimeout = 30 * time.Second

// UpdatesTimeout is the long-poll window for getUpdates.
const UpdatesTimeout = 60 * time.Second

type CommandOptions struct {
	IsAdmin   func(userID int64) bool
	BSCWallet string
	SOLWallet string
}

// CommandHandler answers user and admin commands.
type CommandHandler struct {
	bot      Sender
	store    *state.Store
	payments *payments.Service
	opts     CommandOptions
	now      func() time.Time
}

func NewCommandHandler(bot Sender, store *state.Store, pay *payments.Service, opts CommandOptions) *CommandHandler {
	if opts.IsAdmin == nil {
		opts.IsAdmin = func(int64) bool { return false }
	}
	return &CommandHandler{
		bot:      bot,
		store:    store,
		payments: pay,
		opts:     opts,
		now:      time.Now,
	}
}

// RunCommandHandler polls updates until ctx is cancelled.
func RunCommandHandler(ctx context.Context, bot *tgbotapi.BotAPI, h *CommandHandler) {
	if bot == nil {
		log.LogWarn("Bot is nil, command handler not started")
		return
	}

	log.LogInfo("Starting command handler", zap.String("bot", bot.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(UpdatesTimeout / time.Second)
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			log.LogInfo("Command handler stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			h.Handle(ctx, update)
		}
	}
}

// Handle processes one update. Non-command messages are ignored.
func (h *CommandHandler) Handle(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.From == nil {
		return
	}

	command := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())

	log.LogDebug("Received command",
		zap.String("command", command),
		zap.String("args", args),
		zap.Int64("chatID", msg.Chat.ID),
		zap.String("username", msg.From.UserName))

	switch command {
	case "start":
		h.handleStart(msg)
	case "help":
		h.reply(msg, helpText(h.opts.IsAdmin(msg.From.ID)))
	case "pay":
		h.handlePay(msg)
	case "verify":
		h.handleVerify(ctx, msg, args)
	case "status":
		h.handleStatus(msg)
	case "filters":
		h.handleFilters(msg)
	case "levels":
		h.handleLevels(msg, args)
	case "chains":
		h.handleChains(msg, args)
	case "grant":
		if h.opts.IsAdmin(msg.From.ID) {
			h.handleGrant(msg, args)
		}
	case "stats":
		if h.opts.IsAdmin(msg.From.ID) {
			h.handleStats(msg)
		}
	}
}

func helpText(admin bool) string {
	text := "" +
		"Commands:\n" +
		"• <code>/start</code> - register and get free alerts\n" +
		"• <code>/pay</code> - subscription payment details\n" +
		"• <code>/verify {txhash}</code> - confirm your payment\n" +
		"• <code>/status</code> - quota and subscription\n" +
		"• <code>/filters</code> - current alert filters\n" +
		"• <code>/levels MIN,MEDIUM,MAX</code> - levels to receive\n" +
		"• <code>/chains SOL,BSC</code> - chains to receive\n"
	if admin {
		text += "\nAdmin:\n" +
			"• <code>/grant {userID} {days}</code> - extend a subscription\n" +
			"• <code>/stats</code> - alert distribution chart\n"
	}
	return text
}

func (h *CommandHandler) handleStart(msg *tgbotapi.Message) {
	u, created := h.store.EnsureUser(msg.From.ID, msg.From.UserName, h.now())
	if created {
		log.LogInfo("New user registered", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	}

	var b strings.Builder
	b.WriteString("🧅 <b>Onion Alerts</b>\n\n")
	b.WriteString("New-pair alerts for Solana and BSC, filtered for honeypots.\n\n")
	if u.SubscriptionActive(h.now()) {
		fmt.Fprintf(&b, "✅ Subscription active until %s\n", formatUntil(u.PaidUntil))
	} else {
		fmt.Fprintf(&b, "🎁 Free alerts left: <b>%d</b>\n", u.FreeRemaining)
		fmt.Fprintf(&b, "💳 Subscription: <b>$%s</b>, send /pay for details\n", h.payments.Price().StringFixed(2))
	}
	b.WriteString("\n")
	b.WriteString(helpText(h.opts.IsAdmin(u.ID)))
	h.reply(msg, b.String())
}

func (h *CommandHandler) handlePay(msg *tgbotapi.Message) {
	h.store.EnsureUser(msg.From.ID, msg.From.UserName, h.now())
	memo, err := h.payments.IssueMemo(msg.From.ID, h.now())
	if err != nil {
		log.LogWarn("Failed to issue payment memo", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		h.reply(msg, "Payments are unavailable right now, try again later")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "💳 Subscription: <b>$%s</b> in USDT\n\n", h.payments.Price().StringFixed(2))
	if h.opts.BSCWallet != "" {
		fmt.Fprintf(&b, "BSC (BEP-20): <code>%s</code>\n", h.opts.BSCWallet)
	}
	if h.opts.SOLWallet != "" {
		fmt.Fprintf(&b, "Solana: <code>%s</code>\n", h.opts.SOLWallet)
	}
	fmt.Fprintf(&b, "\nSupport reference: <code>%s</code>\n", memo)
	b.WriteString("\nAfter paying on BSC, send <code>/verify {txhash}</code>.")
	h.reply(msg, b.String())
}

func (h *CommandHandler) handleVerify(ctx context.Context, msg *tgbotapi.Message, args string) {
	if args == "" {
		h.reply(msg, "Usage: /verify {txhash}\n\nExample: /verify 0x5c50...e1a9")
		return
	}

	vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	u, amount, err := h.payments.Verify(vctx, msg.From.ID, strings.Fields(args)[0], h.now())
	if err != nil {
		log.LogWarn("Payment verification failed",
			zap.Int64("user_id", msg.From.ID),
			zap.String("tx", args),
			zap.Error(err))
		h.reply(msg, "❌ "+verifyErrorText(err))
		return
	}
	h.reply(msg, fmt.Sprintf("✅ Payment of $%s confirmed.\nSubscription active until %s", amount.StringFixed(2), formatUntil(u.PaidUntil)))
}

func verifyErrorText(err error) string {
	for _, known := range []error{
		payments.ErrInvalidHash,
		payments.ErrUnknownUser,
		payments.ErrAlreadyRedeemed,
		payments.ErrNotFound,
		payments.ErrWrongRecipient,
		payments.ErrInsufficientAmount,
		payments.ErrNotConfigured,
	} {
		if errors.Is(err, known) {
			return capitalize(known.Error())
		}
	}
	return "Could not check the transaction right now, try again in a few minutes"
}

func (h *CommandHandler) handleStatus(msg *tgbotapi.Message) {
	u, ok := h.store.User(msg.From.ID)
	if !ok {
		h.reply(msg, "You are not registered yet, send /start")
		return
	}
	var b strings.Builder
	if u.SubscriptionActive(h.now()) {
		fmt.Fprintf(&b, "✅ Subscription active until %s\n", formatUntil(u.PaidUntil))
	} else {
		b.WriteString("Subscription: none\n")
		fmt.Fprintf(&b, "Free alerts left: %d\n", u.FreeRemaining)
	}
	b.WriteString("\n")
	b.WriteString(filtersText(u.Filters))
	h.reply(msg, b.String())
}

func (h *CommandHandler) handleFilters(msg *tgbotapi.Message) {
	u, ok := h.store.User(msg.From.ID)
	if !ok {
		h.reply(msg, "You are not registered yet, send /start")
		return
	}
	h.reply(msg, filtersText(u.Filters))
}

func (h *CommandHandler) handleLevels(msg *tgbotapi.Message, args string) {
	if args == "" {
		h.reply(msg, "Usage: /levels MIN,MEDIUM,MAX,LARGE_BUY,UPGRADE or /levels all")
		return
	}
	levels := domain.NewLevelSet()
	if strings.EqualFold(args, "all") {
		levels = domain.NewLevelSet(domain.AllLevels...)
	} else {
		for _, part := range splitList(args) {
			l, err := domain.ParseLevel(part)
			if err != nil {
				h.reply(msg, fmt.Sprintf("Unknown level {%s}", html.EscapeString(part)))
				return
			}
			levels[l] = true
		}
	}

	u, ok := h.store.UpdateUser(msg.From.ID, func(u *domain.User) { u.Filters.Levels = levels })
	if !ok {
		h.reply(msg, "You are not registered yet, send /start")
		return
	}
	h.reply(msg, "Saved.\n\n"+filtersText(u.Filters))
}

func (h *CommandHandler) handleChains(msg *tgbotapi.Message, args string) {
	if args == "" {
		h.reply(msg, "Usage: /chains SOL,BSC or /chains all")
		return
	}
	chains := domain.NewChainSet()
	if strings.EqualFold(args, "all") {
		chains = domain.NewChainSet(domain.AllChains...)
	} else {
		for _, part := range splitList(args) {
			c, err := domain.ParseChain(part)
			if err != nil {
				h.reply(msg, fmt.Sprintf("Unknown chain {%s}", html.EscapeString(part)))
				return
			}
			chains[c] = true
		}
	}

	u, ok := h.store.UpdateUser(msg.From.ID, func(u *domain.User) { u.Filters.Chains = chains })
	if !ok {
		h.reply(msg, "You are not registered yet, send /start")
		return
	}
	h.reply(msg, "Saved.\n\n"+filtersText(u.Filters))
}

func (h *CommandHandler) handleGrant(msg *tgbotapi.Message, args string) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		h.reply(msg, "Usage: /grant {userID} {days}")
		return
	}
	userID, err1 := strconv.ParseInt(parts[0], 10, 64)
	days, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || days <= 0 {
		h.reply(msg, "Usage: /grant {userID} {days}")
		return
	}

	u, err := h.payments.Grant(userID, days, h.now())
	if err != nil {
		h.reply(msg, "❌ "+capitalize(err.Error()))
		return
	}
	log.LogInfo("Admin granted subscription",
		zap.Int64("admin_id", msg.From.ID),
		zap.Int64("user_id", userID),
		zap.Int("days", days))
	h.reply(msg, fmt.Sprintf("✅ User %d active until %s", userID, formatUntil(u.PaidUntil)))
}

func (h *CommandHandler) handleStats(msg *tgbotapi.Message) {
	now := h.now()
	counts := h.store.LevelCounts()
	tracked := h.store.TokenCount()

	var paid, free int
	for _, u := range h.store.Users() {
		if u.SubscriptionActive(now) {
			paid++
		} else {
			free++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Stats</b>\n\nUsers: %d paid / %d free\nTracked tokens: %d\n\n", paid, free, tracked)
	for _, l := range domain.AllLevels {
		fmt.Fprintf(&b, "%s: %d\n", l.Label(), counts[l])
	}
	caption := b.String()

	chart, err := tg_charts.AlertsChartPNG(counts, tracked, now)
	if err != nil {
		log.LogWarn("Failed to render alerts chart", zap.Error(err))
		h.reply(msg, caption)
		return
	}

	photo := tgbotapi.NewPhoto(msg.Chat.ID, tgbotapi.FileBytes{Name: "alerts_chart.png", Bytes: chart})
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeHTML
	photo.ReplyToMessageID = msg.MessageID
	if _, err := h.bot.Send(photo); err != nil {
		log.LogError("Failed to send stats chart", zap.Error(err))
		h.reply(msg, caption)
	}
}

func (h *CommandHandler) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyToMessageID = msg.MessageID
	out.DisableWebPagePreview = true
	if _, err := h.bot.Send(out); err != nil {
		log.LogError("Failed to send reply", zap.Int64("chatID", msg.Chat.ID), zap.Error(err))
	}
}

func filtersText(f domain.AlertFilters) string {
	levels := make([]string, 0, len(f.Levels))
	for _, l := range f.Levels.Slice() {
		levels = append(levels, string(l))
	}
	chains := make([]string, 0, len(f.Chains))
	for _, c := range f.Chains.Slice() {
		chains = append(chains, string(c))
	}
	return fmt.Sprintf("Levels: %s\nChains: %s", joinOrNone(levels), joinOrNone(chains))
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func formatUntil(t *time.Time) string {
	if t == nil {
		return "forever"
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
