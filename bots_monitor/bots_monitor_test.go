package bots_monitor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onion-alerts/internal/clients_api/bscscan"
	"onion-alerts/internal/domain"
	"onion-alerts/internal/features/notify"
	"onion-alerts/internal/features/payments"
	"onion-alerts/internal/features/scanner"
	"onion-alerts/internal/infra/config"
	"onion-alerts/internal/infra/fs"
	"onion-alerts/internal/state"
)

const adminID = 900

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) lastText(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	switch m := f.sent[len(f.sent)-1].(type) {
	case tgbotapi.MessageConfig:
		return m.Text
	case tgbotapi.PhotoConfig:
		return m.Caption
	default:
		t.Fatalf("unexpected chattable %T", m)
		return ""
	}
}

type fakeSource struct {
	transfers map[string]*bscscan.Transfer
}

func (f *fakeSource) FindTransfer(_ context.Context, _, _, txHash string) (*bscscan.Transfer, error) {
	return f.transfers[strings.ToLower(txHash)], nil
}

var paidTx = "0x" + strings.Repeat("e", 64)

func newHandler(t *testing.T) (*CommandHandler, *fakeSender, *state.Store) {
	t.Helper()
	store := state.New(3, 24*time.Hour)
	src := &fakeSource{transfers: map[string]*bscscan.Transfer{
		paidTx: {Hash: paidTx, To: "0xwallet", Contract: "0xusdt", Amount: decimal.RequireFromString("30")},
	}}
	pay := payments.NewService(src, store, payments.Options{
		Price:            decimal.RequireFromString("29.99"),
		SubscriptionDays: 30,
		Wallet:           "0xwallet",
		Contract:         "0xusdt",
	})
	sender := &fakeSender{}
	cfg := &config.Config{Telegram: config.TelegramConfig{AdminIDs: []int64{adminID}}}
	h := NewCommandHandler(sender, store, pay, CommandOptions{
		IsAdmin:   cfg.IsAdmin,
		BSCWallet: "0xwallet",
	})
	h.now = func() time.Time { return now }
	return h, sender, store
}

func command(from int64, text string) tgbotapi.Update {
	cmdLen := len(text)
	if i := strings.IndexByte(text, ' '); i >= 0 {
		cmdLen = i
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: from, UserName: "tester"},
		Chat:      &tgbotapi.Chat{ID: from},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func TestStartRegistersUser(t *testing.T) {
	h, sender, store := newHandler(t)
	h.Handle(context.Background(), command(1, "/start"))

	u, ok := store.User(1)
	require.True(t, ok)
	assert.Equal(t, 3, u.FreeRemaining)
	assert.Equal(t, "tester", u.Username)

	text := sender.lastText(t)
	assert.Contains(t, text, "Free alerts left: <b>3</b>")
	assert.Contains(t, text, "$29.99")
	assert.NotContains(t, text, "/grant")
}

func TestNonCommandIgnored(t *testing.T) {
	h, sender, _ := newHandler(t)
	h.Handle(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 1},
		Chat: &tgbotapi.Chat{ID: 1},
		Text: "hello",
	}})
	assert.Empty(t, sender.sent)
}

func TestLevelsAndChainsUpdateFilters(t *testing.T) {
	h, sender, store := newHandler(t)
	h.Handle(context.Background(), command(1, "/start"))

	h.Handle(context.Background(), command(1, "/levels min, max"))
	u, _ := store.User(1)
	assert.Equal(t, []domain.AlertLevel{domain.LevelMin, domain.LevelMax}, u.Filters.Levels.Slice())

	h.Handle(context.Background(), command(1, "/chains solana"))
	u, _ = store.User(1)
	assert.Equal(t, []domain.Chain{domain.ChainSOL}, u.Filters.Chains.Slice())
	assert.Contains(t, sender.lastText(t), "Chains: SOL")

	h.Handle(context.Background(), command(1, "/chains eth"))
	assert.Contains(t, sender.lastText(t), "Unknown chain {eth}")
	u, _ = store.User(1)
	assert.Equal(t, []domain.Chain{domain.ChainSOL}, u.Filters.Chains.Slice())
}

func TestPayAndVerify(t *testing.T) {
	h, sender, store := newHandler(t)
	h.Handle(context.Background(), command(5, "/pay"))
	assert.Contains(t, sender.lastText(t), "Support reference: <code>PAY_5_1748736000</code>")
	assert.Contains(t, sender.lastText(t), "0xwallet")

	h.Handle(context.Background(), command(5, "/verify "+paidTx))
	assert.Contains(t, sender.lastText(t), "Payment of $30.00 confirmed")
	u, _ := store.User(5)
	assert.True(t, u.SubscriptionActive(now))

	h.Handle(context.Background(), command(6, "/start"))
	h.Handle(context.Background(), command(6, "/verify "+paidTx))
	assert.Contains(t, sender.lastText(t), "Transaction already used")

	h.Handle(context.Background(), command(6, "/verify 0xnope"))
	assert.Contains(t, sender.lastText(t), "Invalid transaction hash")
}

func TestAdminCommands(t *testing.T) {
	h, sender, store := newHandler(t)
	h.Handle(context.Background(), command(1, "/start"))
	before := len(sender.sent)

	h.Handle(context.Background(), command(1, "/grant 1 10"))
	assert.Len(t, sender.sent, before, "non-admins are ignored")

	h.Handle(context.Background(), command(adminID, "/grant 1 10"))
	assert.Contains(t, sender.lastText(t), "User 1 active until 2025-06-11")
	u, _ := store.User(1)
	assert.True(t, u.SubscriptionActive(now))

	h.Handle(context.Background(), command(adminID, "/stats"))
	require.IsType(t, tgbotapi.PhotoConfig{}, sender.sent[len(sender.sent)-1])
	assert.Contains(t, sender.lastText(t), "Users: 1 paid / 0 free")
}

func TestMessengerMapsFloodControl(t *testing.T) {
	sender := &fakeSender{err: &tgbotapi.Error{
		Code:               429,
		Message:            "Too Many Requests: retry after 7",
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 7},
	}}
	m := NewTelegramMessenger(sender, 1000)

	err := m.Send(context.Background(), 1, notify.Message{Text: "x"})
	var flood *notify.FloodError
	require.ErrorAs(t, err, &flood)
	assert.Equal(t, 7*time.Second, flood.RetryAfter)

	sender.err = errors.New("Forbidden: bot was blocked by the user")
	err = m.Send(context.Background(), 1, notify.Message{Text: "x"})
	require.Error(t, err)
	assert.False(t, errors.As(err, &flood))
}

func TestMessengerAddsButton(t *testing.T) {
	sender := &fakeSender{}
	m := NewTelegramMessenger(sender, 1000)
	require.NoError(t, m.Send(context.Background(), 42, notify.Message{
		Text:       "<b>hi</b>",
		ButtonText: "📈 DexScreener",
		ButtonURL:  "https://dexscreener.com/bsc/0xpair",
	}))

	out, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), out.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, out.ParseMode)
	kb, ok := out.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.NotNil(t, kb.InlineKeyboard[0][0].URL)
	assert.Equal(t, "https://dexscreener.com/bsc/0xpair", *kb.InlineKeyboard[0][0].URL)
}

type stuckSender struct {
	release chan struct{}
}

func (s *stuckSender) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	<-s.release
	return tgbotapi.Message{}, nil
}

func TestMessengerSendIsBoundedByContext(t *testing.T) {
	sender := &stuckSender{release: make(chan struct{})}
	defer close(sender.release)
	m := NewTelegramMessenger(sender, 1000)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Send(ctx, 1, notify.Message{Text: "x"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeliverGivesUpOnStuckTelegram(t *testing.T) {
	sender := &stuckSender{release: make(chan struct{})}
	defer close(sender.release)
	n := notify.NewNotifier(NewTelegramMessenger(sender, 1000), notify.Options{SendTimeout: 50 * time.Millisecond})

	start := time.Now()
	ok := n.Deliver(context.Background(), 1, notify.Message{Text: "x"})
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSaveMonitorSavesChanges(t *testing.T) {
	store := state.New(3, 24*time.Hour)
	p := fs.NewJSONStore(filepath.Join(t.TempDir(), "state.json"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunSaveMonitor(ctx, store, p, 10*time.Millisecond)

	store.EnsureUser(77, "saved", time.Now())
	require.Eventually(t, func() bool {
		snap, err := p.Load()
		return err == nil && snap != nil && len(snap.Users) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSaveMonitorWritesNothingOnCancel(t *testing.T) {
	store := state.New(3, 24*time.Hour)
	p := fs.NewJSONStore(filepath.Join(t.TempDir(), "state.json"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSaveMonitor(ctx, store, p, time.Hour)
		close(done)
	}()

	store.EnsureUser(77, "late", time.Now())
	cancel()
	<-done

	snap, err := p.Load()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestFlushAfterWaitsForInFlightWork(t *testing.T) {
	store := state.New(3, 24*time.Hour)
	store.EnsureUser(77, "late", now)
	p := fs.NewJSONStore(filepath.Join(t.TempDir(), "state.json"))

	// a delivery that completes after shutdown began still spends its quota
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		store.ConsumeFreeAlert(77, now)
	}()

	stopped, err := FlushAfter(&wg, store, p, time.Second)
	require.NoError(t, err)
	assert.True(t, stopped)

	snap, err := p.Load()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.Users[77].FreeRemaining)
}

func TestFlushAfterSavesOnTimeout(t *testing.T) {
	store := state.New(3, 24*time.Hour)
	store.EnsureUser(77, "late", now)
	p := fs.NewJSONStore(filepath.Join(t.TempDir(), "state.json"))

	var wg sync.WaitGroup
	wg.Add(1)
	defer wg.Done()

	stopped, err := FlushAfter(&wg, store, p, 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, stopped)

	snap, err := p.Load()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Contains(t, snap.Users, int64(77))
}

type fakeRunner struct {
	calls  int
	err    error
	cancel context.CancelFunc
}

func (f *fakeRunner) RunCycle(context.Context) (scanner.CycleReport, error) {
	f.calls++
	f.cancel()
	return scanner.CycleReport{}, f.err
}

func TestScanMonitorRunsImmediatelyAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeRunner{cancel: cancel}
	RunScanMonitor(ctx, r, time.Hour, time.Minute)
	assert.Equal(t, 1, r.calls)
}

func TestRunOnceCountsFailures(t *testing.T) {
	ctx := context.Background()
	r := &fakeRunner{err: errors.New("all feeds failed"), cancel: func() {}}
	assert.Equal(t, 1, runOnce(ctx, r, 0))
	assert.Equal(t, 3, runOnce(ctx, r, 2))

	r.err = nil
	assert.Equal(t, 0, runOnce(ctx, r, 3))
}
