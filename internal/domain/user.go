package domain

import "time"

// AlertFilters is the per-user opt-in set for levels and chains.
type AlertFilters struct {
	Levels LevelSet `json:"levels"`
	Chains ChainSet `json:"chains"`
}

// DefaultFilters opts a new user into every level and chain.
func DefaultFilters() AlertFilters {
	return AlertFilters{
		Levels: NewLevelSet(AllLevels...),
		Chains: NewChainSet(AllChains...),
	}
}

// User is a subscriber. ID doubles as the Telegram chat id unless DeliveryTarget is set.
type User struct {
	ID             int64        `json:"id"`
	Username       string       `json:"username,omitempty"`
	FreeRemaining  int          `json:"free_remaining"`
	IsPaid         bool         `json:"is_paid"`
	PaidUntil      *time.Time   `json:"paid_until,omitempty"`
	Filters        AlertFilters `json:"filters"`
	DeliveryTarget int64        `json:"delivery_target"`
	PaymentMemo    string       `json:"payment_memo,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// SubscriptionActive: paid and either open-ended or not yet expired.
func (u User) SubscriptionActive(now time.Time) bool {
	if !u.IsPaid {
		return false
	}
	return u.PaidUntil == nil || u.PaidUntil.After(now)
}

// Target is where the notifier should deliver.
func (u User) Target() int64 {
	if u.DeliveryTarget != 0 {
		return u.DeliveryTarget
	}
	return u.ID
}

// Clone deep-copies the mutable parts.
func (u User) Clone() User {
	out := u
	if u.PaidUntil != nil {
		t := *u.PaidUntil
		out.PaidUntil = &t
	}
	out.Filters = AlertFilters{
		Levels: u.Filters.Levels.Clone(),
		Chains: NewChainSet(u.Filters.Chains.Slice()...),
	}
	return out
}
