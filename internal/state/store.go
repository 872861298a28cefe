package state

import (
	"sort"
	"sync"
	"time"

	"onion-alerts/internal/domain"
	"onion-alerts/internal/features/volume"
)

// SnapshotVersion is bumped when the persisted layout changes.
const SnapshotVersion = 1

// TokenState is the per-address record kept between cycles.
type TokenState struct {
	Chain         domain.Chain    `json:"chain"`
	Symbol        string          `json:"symbol"`
	FirstSeen     time.Time       `json:"first_seen"`
	SentLevels    domain.LevelSet `json:"sent_levels"`
	Window        volume.Window   `json:"volume_window"`
	LastAlertedAt *time.Time      `json:"last_alerted_at,omitempty"`
}

func (t TokenState) clone() TokenState {
	out := t
	out.SentLevels = t.SentLevels.Clone()
	out.Window = t.Window.Clone()
	if t.LastAlertedAt != nil {
		ts := *t.LastAlertedAt
		out.LastAlertedAt = &ts
	}
	return out
}

// Snapshot is the durable form of the store.
type Snapshot struct {
	Version      int                   `json:"version"`
	SavedAt      time.Time             `json:"saved_at"`
	Users        map[int64]domain.User `json:"users"`
	Tokens       map[string]TokenState `json:"tokens"`
	UsedPayments map[string]int64      `json:"used_payments"`
}

// NewSnapshot returns an empty snapshot with all maps allocated.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:      SnapshotVersion,
		Users:        map[int64]domain.User{},
		Tokens:       map[string]TokenState{},
		UsedPayments: map[string]int64{},
	}
}

// Store owns users, token state and redeemed payments. Every read and write
// goes through one mutex; values handed out are copies.
type Store struct {
	mu           sync.Mutex
	users        map[int64]domain.User
	tokens       map[string]TokenState
	usedPayments map[string]int64
	freeAlerts   int
	retention    time.Duration
	revision     uint64
}

func New(freeAlerts int, retention time.Duration) *Store {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Store{
		users:        map[int64]domain.User{},
		tokens:       map[string]TokenState{},
		usedPayments: map[string]int64{},
		freeAlerts:   freeAlerts,
		retention:    retention,
	}
}

func (s *Store) touch() { s.revision++ }

// Revision changes on every mutation. The save loop uses it to skip no-op writes.
func (s *Store) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// EnsureUser registers id with the free quota and default filters if unknown.
func (s *Store) EnsureUser(id int64, username string, now time.Time) (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[id]; ok {
		if username != "" && u.Username != username {
			u.Username = username
			s.users[id] = u
			s.touch()
		}
		return u.Clone(), false
	}
	u := domain.User{
		ID:             id,
		Username:       username,
		FreeRemaining:  s.freeAlerts,
		Filters:        domain.DefaultFilters(),
		DeliveryTarget: id,
		CreatedAt:      now,
	}
	s.users[id] = u
	s.touch()
	return u.Clone(), true
}

func (s *Store) User(id int64) (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, false
	}
	return u.Clone(), true
}

// Users returns copies ordered by id.
func (s *Store) Users() []domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateUser applies fn to the stored user under the lock.
func (s *Store) UpdateUser(id int64, fn func(u *domain.User)) (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, false
	}
	u = u.Clone()
	fn(&u)
	if u.FreeRemaining < 0 {
		u.FreeRemaining = 0
	}
	s.users[id] = u
	s.touch()
	return u.Clone(), true
}

// ConsumeFreeAlert decrements the free quota of a non-subscribed user.
// Callers invoke it only after a successful counted delivery.
func (s *Store) ConsumeFreeAlert(id int64, now time.Time) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.SubscriptionActive(now) || u.FreeRemaining <= 0 {
		return u.FreeRemaining, false
	}
	u.FreeRemaining--
	s.users[id] = u
	s.touch()
	return u.FreeRemaining, true
}

// RecordVolume appends the observation's 5m volume to its window and returns
// the spike ratio. The token record is created on first sight.
func (s *Store) RecordVolume(obs domain.PairObservation, now time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := obs.Key()
	ts, ok := s.tokens[key]
	if !ok {
		ts = TokenState{
			FirstSeen:  now,
			SentLevels: domain.NewLevelSet(),
		}
	} else {
		ts = ts.clone()
	}
	ts.Chain = obs.Chain
	if obs.Symbol != "" {
		ts.Symbol = obs.Symbol
	}
	ratio := ts.Window.Record(obs.Volume5mUSD)
	s.tokens[key] = ts
	s.touch()
	return ratio
}

// Escalate runs decide against the address's sent levels and stores the
// result atomically. decide returns the level to emit, the new sent set, and
// whether anything is emitted.
func (s *Store) Escalate(address string, now time.Time, decide func(sent domain.LevelSet) (domain.AlertLevel, domain.LevelSet, bool)) (domain.AlertLevel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.AddressKey(address)
	ts, ok := s.tokens[key]
	if !ok {
		ts = TokenState{FirstSeen: now, SentLevels: domain.NewLevelSet()}
	}
	level, sent, emit := decide(ts.SentLevels.Clone())
	if !emit {
		return "", false
	}
	ts = ts.clone()
	ts.SentLevels = sent.Clone()
	at := now
	ts.LastAlertedAt = &at
	s.tokens[key] = ts
	s.touch()
	return level, true
}

func (s *Store) Token(address string) (TokenState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tokens[domain.AddressKey(address)]
	if !ok {
		return TokenState{}, false
	}
	return ts.clone(), true
}

func (s *Store) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// MarkPaymentUsed records tx as redeemed by userID. It returns false if the
// hash was already redeemed.
func (s *Store) MarkPaymentUsed(txHash string, userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.AddressKey(txHash)
	if _, used := s.usedPayments[key]; used {
		return false
	}
	s.usedPayments[key] = userID
	s.touch()
	return true
}

// PaymentUsedBy returns the user a transaction was redeemed by.
func (s *Store) PaymentUsedBy(txHash string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usedPayments[domain.AddressKey(txHash)]
	return id, ok
}

// LevelCounts counts tracked tokens per sent level.
func (s *Store) LevelCounts() map[domain.AlertLevel]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.AlertLevel]int, len(domain.AllLevels))
	for _, l := range domain.AllLevels {
		out[l] = 0
	}
	for _, ts := range s.tokens {
		for l, ok := range ts.SentLevels {
			if ok {
				out[l]++
			}
		}
	}
	return out
}

// Sweep drops tokens first seen longer ago than the retention window.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.sweepLocked(now)
	if n > 0 {
		s.touch()
	}
	return n
}

func (s *Store) sweepLocked(now time.Time) int {
	cutoff := now.Add(-s.retention)
	removed := 0
	for k, ts := range s.tokens {
		if ts.FirstSeen.Before(cutoff) {
			delete(s.tokens, k)
			removed++
		}
	}
	return removed
}

// Snapshot sweeps expired tokens and returns a deep copy of the state.
func (s *Store) Snapshot(now time.Time) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)

	snap := NewSnapshot()
	snap.SavedAt = now
	for id, u := range s.users {
		snap.Users[id] = u.Clone()
	}
	for k, ts := range s.tokens {
		snap.Tokens[k] = ts.clone()
	}
	for k, v := range s.usedPayments {
		snap.UsedPayments[k] = v
	}
	return snap
}

// Restore replaces the in-memory state with snap, dropping tokens outside
// the retention window. A nil snapshot leaves the store empty.
func (s *Store) Restore(snap *Snapshot, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = map[int64]domain.User{}
	s.tokens = map[string]TokenState{}
	s.usedPayments = map[string]int64{}
	if snap != nil {
		for id, u := range snap.Users {
			if u.ID == 0 {
				u.ID = id
			}
			if u.Filters.Levels == nil && u.Filters.Chains == nil {
				u.Filters = domain.DefaultFilters()
			}
			s.users[id] = u.Clone()
		}
		for k, ts := range snap.Tokens {
			ts = ts.clone()
			if ts.SentLevels == nil {
				ts.SentLevels = domain.NewLevelSet()
			}
			s.tokens[domain.AddressKey(k)] = ts
		}
		for k, v := range snap.UsedPayments {
			s.usedPayments[domain.AddressKey(k)] = v
		}
	}
	s.sweepLocked(now)
	s.touch()
}
