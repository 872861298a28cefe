package bots_monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"onion-alerts/internal/features/notify"
	log "onion-alerts/internal/infra/log"
)

// Sender is the part of tgbotapi.BotAPI the bot uses to talk to chats.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramMessenger delivers alerts through the Bot API, throttled below
// Telegram's global ~30 msg/s limit.
type TelegramMessenger struct {
	bot     Sender
	limiter *rate.Limiter
}

func NewTelegramMessenger(bot Sender, perSecond float64) *TelegramMessenger {
	if perSecond <= 0 {
		perSecond = 25
	}
	return &TelegramMessenger{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Send implements notify.Messenger. A 429 from Telegram becomes a
// notify.FloodError carrying retry_after.
func (m *TelegramMessenger) Send(ctx context.Context, target int64, msg notify.Message) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	out := tgbotapi.NewMessage(target, msg.Text)
	out.ParseMode = tgbotapi.ModeHTML
	out.DisableWebPagePreview = true
	if msg.ButtonURL != "" {
		text := msg.ButtonText
		if text == "" {
			text = "Open"
		}
		out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL(text, msg.ButtonURL),
			),
		)
	}

	// bot.Send takes no context; a stuck request is abandoned on ctx expiry
	// and bounded by the http.Client timeout.
	done := make(chan error, 1)
	go func() {
		_, err := m.bot.Send(out)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return classifySendError(err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram send: %w", ctx.Err())
	}
}

func classifySendError(err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.Code == 429 {
		wait := time.Duration(tgErr.RetryAfter) * time.Second
		log.LogDebug("Telegram flood control", zap.Int("retry_after", tgErr.RetryAfter))
		return &notify.FloodError{RetryAfter: wait}
	}
	return fmt.Errorf("telegram send: %w", err)
}
