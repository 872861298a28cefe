package entitlement

import (
	"time"

	"onion-alerts/internal/domain"
)

// Reason explains a rejection; empty when admitted.
type Reason string

const (
	Admitted      Reason = ""
	NoEntitlement Reason = "no_entitlement"
	LevelFiltered Reason = "level_filtered"
	ChainFiltered Reason = "chain_filtered"
	PremiumOnly   Reason = "premium_only"
)

// Gate decides who receives which alert.
type Gate struct{}

// Check returns Admitted or the first reason the user is rejected.
func (Gate) Check(u domain.User, level domain.AlertLevel, chain domain.Chain, now time.Time) Reason {
	subscribed := u.SubscriptionActive(now)
	if !subscribed && u.FreeRemaining <= 0 {
		return NoEntitlement
	}
	if !u.Filters.Levels.Has(level) {
		return LevelFiltered
	}
	if !u.Filters.Chains.Has(chain) {
		return ChainFiltered
	}
	if !subscribed && !level.IsReal() {
		return PremiumOnly
	}
	return Admitted
}

// Admits reports whether u should receive an alert of level on chain.
func (g Gate) Admits(u domain.User, level domain.AlertLevel, chain domain.Chain, now time.Time) bool {
	return g.Check(u, level, chain, now) == Admitted
}

// Counts reports whether a successful delivery must consume one free alert.
// Only real tiers delivered to non-subscribers count.
func (Gate) Counts(u domain.User, level domain.AlertLevel, now time.Time) bool {
	return level.IsReal() && !u.SubscriptionActive(now)
}
