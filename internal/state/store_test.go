package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onion-alerts/internal/domain"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func observation(addr string, vol float64) domain.PairObservation {
	return domain.PairObservation{
		TokenAddress: addr,
		PairAddress:  "pair-" + addr,
		Chain:        domain.ChainBSC,
		Symbol:       "TKN",
		Volume5mUSD:  vol,
	}
}

func emitLevel(level domain.AlertLevel) func(domain.LevelSet) (domain.AlertLevel, domain.LevelSet, bool) {
	return func(sent domain.LevelSet) (domain.AlertLevel, domain.LevelSet, bool) {
		if sent.Has(level) {
			return "", sent, false
		}
		return level, sent.Add(level), true
	}
}

func TestEnsureUserDefaults(t *testing.T) {
	s := New(3, 24*time.Hour)
	u, created := s.EnsureUser(42, "alice", t0)
	require.True(t, created)
	assert.Equal(t, 3, u.FreeRemaining)
	assert.Equal(t, int64(42), u.Target())
	assert.True(t, u.Filters.Chains.Has(domain.ChainSOL))
	assert.True(t, u.Filters.Levels.Has(domain.LevelUpgrade))

	_, created = s.EnsureUser(42, "alice", t0)
	assert.False(t, created)
}

func TestConsumeFreeAlert(t *testing.T) {
	s := New(1, 24*time.Hour)
	s.EnsureUser(1, "", t0)

	left, ok := s.ConsumeFreeAlert(1, t0)
	require.True(t, ok)
	assert.Equal(t, 0, left)

	_, ok = s.ConsumeFreeAlert(1, t0)
	assert.False(t, ok, "quota never goes negative")

	// subscribers are never charged
	s.EnsureUser(2, "", t0)
	s.UpdateUser(2, func(u *domain.User) { u.IsPaid = true })
	_, ok = s.ConsumeFreeAlert(2, t0)
	assert.False(t, ok)
	u, _ := s.User(2)
	assert.Equal(t, 1, u.FreeRemaining)
}

func TestRecordVolumeNormalizesKey(t *testing.T) {
	s := New(3, 24*time.Hour)
	assert.Equal(t, 1.0, s.RecordVolume(observation("0xAbC", 100), t0))
	assert.InDelta(t, 2.0, s.RecordVolume(observation("0xabc", 200), t0), 1e-9)
	assert.Equal(t, 1, s.TokenCount())

	ts, ok := s.Token("0XABC")
	require.True(t, ok)
	assert.Equal(t, t0, ts.FirstSeen)
	assert.Equal(t, []float64{100, 200}, ts.Window.Samples)
}

func TestEscalateStoresDecision(t *testing.T) {
	s := New(3, 24*time.Hour)
	s.RecordVolume(observation("0xAAA", 1), t0)

	lvl, ok := s.Escalate("0xAAA", t0, emitLevel(domain.LevelMin))
	require.True(t, ok)
	assert.Equal(t, domain.LevelMin, lvl)

	_, ok = s.Escalate("0xaaa", t0, emitLevel(domain.LevelMin))
	assert.False(t, ok)

	ts, _ := s.Token("0xAAA")
	assert.True(t, ts.SentLevels.Has(domain.LevelMin))
	require.NotNil(t, ts.LastAlertedAt)
}

func TestConcurrentEscalateEmitsOnce(t *testing.T) {
	s := New(3, 24*time.Hour)
	var wg sync.WaitGroup
	var mu sync.Mutex
	emitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.Escalate("0xAAA", t0, emitLevel(domain.LevelMax)); ok {
				mu.Lock()
				emitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, emitted)
}

func TestPaymentSingleUse(t *testing.T) {
	s := New(3, 24*time.Hour)
	assert.True(t, s.MarkPaymentUsed("0xTX", 1))
	assert.False(t, s.MarkPaymentUsed("0xtx", 2))
	id, ok := s.PaymentUsedBy("0xTx")
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := New(3, 24*time.Hour)
	s.EnsureUser(7, "bob", t0)
	s.UpdateUser(7, func(u *domain.User) {
		u.Filters.Chains = domain.NewChainSet(domain.ChainSOL)
	})
	s.RecordVolume(observation("0xAAA", 10), t0)
	s.Escalate("0xAAA", t0, emitLevel(domain.LevelMin))
	s.MarkPaymentUsed("0xtx", 7)

	snap := s.Snapshot(t0)

	restored := New(3, 24*time.Hour)
	restored.Restore(snap, t0)
	assert.Equal(t, snap, restored.Snapshot(t0))
}

func TestRetentionDropsOldTokens(t *testing.T) {
	s := New(3, 24*time.Hour)
	s.RecordVolume(observation("old", 1), t0)
	s.RecordVolume(observation("new", 1), t0.Add(23*time.Hour))

	snap := s.Snapshot(t0.Add(25 * time.Hour))
	assert.NotContains(t, snap.Tokens, "old")
	assert.Contains(t, snap.Tokens, "new")

	restored := New(3, 24*time.Hour)
	restored.Restore(snap, t0.Add(48*time.Hour))
	assert.Equal(t, 0, restored.TokenCount())
}

func TestLevelCounts(t *testing.T) {
	s := New(3, 24*time.Hour)
	s.Escalate("a", t0, emitLevel(domain.LevelMin))
	s.Escalate("b", t0, emitLevel(domain.LevelMin))
	s.Escalate("b", t0, emitLevel(domain.LevelMedium))

	counts := s.LevelCounts()
	assert.Equal(t, 2, counts[domain.LevelMin])
	assert.Equal(t, 1, counts[domain.LevelMedium])
	assert.Equal(t, 0, counts[domain.LevelMax])
}

func TestRevisionChangesOnMutation(t *testing.T) {
	s := New(3, 24*time.Hour)
	r0 := s.Revision()
	s.EnsureUser(1, "", t0)
	assert.NotEqual(t, r0, s.Revision())
}
