package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"onion-alerts/internal/infra/log"
	"onion-alerts/internal/infra/retry"
)

// Messenger sends one message to one target.
type Messenger interface {
	Send(ctx context.Context, target int64, msg Message) error
}

// FloodError is returned by a Messenger when the provider asks us to slow down.
type FloodError struct {
	RetryAfter time.Duration
}

func (e *FloodError) Error() string {
	return fmt.Sprintf("flood control: retry after %s", e.RetryAfter)
}

type Options struct {
	PauseEvery   int           // pause after this many sends in one broadcast
	Pause        time.Duration // length of that pause
	SendTimeout  time.Duration // per message
	MaxFloodWait time.Duration // cap on a provider-requested wait
}

type Recipient struct {
	UserID int64
	Target int64
}

type BroadcastResult struct {
	Sent   int
	Failed int
}

// Notifier delivers alerts. A failing recipient never stops a broadcast.
type Notifier struct {
	messenger Messenger
	opts      Options
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewNotifier(m Messenger, opts Options) *Notifier {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.MaxFloodWait <= 0 {
		opts.MaxFloodWait = 30 * time.Second
	}
	return &Notifier{messenger: m, opts: opts, sleep: retry.Sleep}
}

// Deliver sends msg to target and reports success. On a flood signal it
// waits (capped) and tries once more.
func (n *Notifier) Deliver(ctx context.Context, target int64, msg Message) bool {
	err := n.send(ctx, target, msg)
	if err == nil {
		return true
	}

	var flood *FloodError
	if errors.As(err, &flood) {
		wait := flood.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		if wait > n.opts.MaxFloodWait {
			wait = n.opts.MaxFloodWait
		}
		log.LogWarn("Messenger flood control, backing off", zap.Int64("target", target), zap.Duration("wait", wait))
		if n.sleep(ctx, wait) != nil {
			return false
		}
		if err = n.send(ctx, target, msg); err == nil {
			return true
		}
	}

	log.LogWarn("Alert delivery failed", zap.Int64("target", target), zap.Error(err))
	return false
}

func (n *Notifier) send(ctx context.Context, target int64, msg Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, n.opts.SendTimeout)
	defer cancel()
	return n.messenger.Send(sendCtx, target, msg)
}

// Broadcast delivers msg to every recipient in order, pausing every
// PauseEvery sends. onDelivered runs after each successful send.
func (n *Notifier) Broadcast(ctx context.Context, recipients []Recipient, msg Message, onDelivered func(Recipient)) BroadcastResult {
	var res BroadcastResult
	for i, r := range recipients {
		if ctx.Err() != nil {
			res.Failed += len(recipients) - i
			break
		}
		if i > 0 && n.opts.PauseEvery > 0 && i%n.opts.PauseEvery == 0 && n.opts.Pause > 0 {
			if n.sleep(ctx, n.opts.Pause) != nil {
				res.Failed += len(recipients) - i
				break
			}
		}
		if n.Deliver(ctx, r.Target, msg) {
			res.Sent++
			if onDelivered != nil {
				onDelivered(r)
			}
		} else {
			res.Failed++
		}
	}
	return res
}
