package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onion-alerts/internal/domain"
)

type fakeMessenger struct {
	mu      sync.Mutex
	fail    map[int64]error
	floodOn map[int64]int // remaining flood replies per target
	sent    []int64
}

func (f *fakeMessenger) Send(_ context.Context, target int64, _ Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.floodOn[target]; n > 0 {
		f.floodOn[target] = n - 1
		return &FloodError{RetryAfter: 3 * time.Second}
	}
	if err := f.fail[target]; err != nil {
		return err
	}
	f.sent = append(f.sent, target)
	return nil
}

func newTestNotifier(m Messenger, opts Options) (*Notifier, *[]time.Duration) {
	n := NewNotifier(m, opts)
	var sleeps []time.Duration
	n.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return n, &sleeps
}

func recipients(ids ...int64) []Recipient {
	out := make([]Recipient, 0, len(ids))
	for _, id := range ids {
		out = append(out, Recipient{UserID: id, Target: id})
	}
	return out
}

func TestBroadcastSkipsFailedRecipient(t *testing.T) {
	m := &fakeMessenger{fail: map[int64]error{2: errors.New("chat not found")}}
	n, _ := newTestNotifier(m, Options{})

	var delivered []int64
	res := n.Broadcast(context.Background(), recipients(1, 2, 3), Message{Text: "x"}, func(r Recipient) {
		delivered = append(delivered, r.UserID)
	})
	assert.Equal(t, BroadcastResult{Sent: 2, Failed: 1}, res)
	assert.Equal(t, []int64{1, 3}, delivered)
}

func TestFloodBacksOffAndRetriesOnce(t *testing.T) {
	m := &fakeMessenger{floodOn: map[int64]int{1: 1, 2: 2}}
	n, sleeps := newTestNotifier(m, Options{MaxFloodWait: 2 * time.Second})

	assert.True(t, n.Deliver(context.Background(), 1, Message{}))
	assert.False(t, n.Deliver(context.Background(), 2, Message{}), "second flood gives up")
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, *sleeps, "wait is capped")
}

func TestBroadcastPausesEveryN(t *testing.T) {
	m := &fakeMessenger{}
	n, sleeps := newTestNotifier(m, Options{PauseEvery: 2, Pause: time.Second})

	res := n.Broadcast(context.Background(), recipients(1, 2, 3, 4, 5), Message{}, nil)
	assert.Equal(t, 5, res.Sent)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *sleeps)
}

func TestBroadcastStopsOnCancel(t *testing.T) {
	m := &fakeMessenger{}
	n, _ := newTestNotifier(m, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := n.Broadcast(ctx, recipients(1, 2), Message{}, nil)
	assert.Equal(t, BroadcastResult{Failed: 2}, res)
	assert.Empty(t, m.sent)
}

func TestFormatAlertEscapes(t *testing.T) {
	obs := domain.PairObservation{
		TokenAddress: "0xAAA",
		PairAddress:  "0xPAIR",
		Chain:        domain.ChainBSC,
		Symbol:       "<b>&RUG",
		LiquidityUSD: 30000,
		FDVUSD:       1_250_000,
		Volume5mUSD:  3500,
	}
	msg := FormatAlert(obs, domain.LevelUpgrade, 2.5)

	assert.Contains(t, msg.Text, "&lt;b&gt;&amp;RUG")
	assert.NotContains(t, msg.Text, "<b>&RUG")
	assert.Contains(t, msg.Text, "UPGRADE")
	assert.Contains(t, msg.Text, "BSC")
	assert.Contains(t, msg.Text, "0xAAA")
	assert.Contains(t, msg.Text, "$30.0K")
	assert.Contains(t, msg.Text, "$1.25M")
	assert.Contains(t, msg.Text, "$3.5K (x2.5)")
	assert.Equal(t, "https://dexscreener.com/bsc/0xPAIR", msg.ButtonURL)
}

func TestFormatUSD(t *testing.T) {
	require.Equal(t, "$950", FormatUSD(950))
	require.Equal(t, "$12.5K", FormatUSD(12_500))
	require.Equal(t, "$3.20M", FormatUSD(3_200_000))
	require.Equal(t, "$1.05B", FormatUSD(1_050_000_000))
}
