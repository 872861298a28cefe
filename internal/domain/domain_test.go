package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChain(t *testing.T) {
	c, err := ParseChain("solana")
	require.NoError(t, err)
	assert.Equal(t, ChainSOL, c)

	c, err = ParseChain(" BSC ")
	require.NoError(t, err)
	assert.Equal(t, ChainBSC, c)

	_, err = ParseChain("eth")
	assert.Error(t, err)
}

func TestChainDeepLink(t *testing.T) {
	assert.Equal(t, "https://dexscreener.com/solana/PAIR", ChainSOL.DeepLink("PAIR"))
	assert.Equal(t, "https://dexscreener.com/bsc/0xpair", ChainBSC.DeepLink("0xpair"))
}

func TestLevelSet(t *testing.T) {
	s := NewLevelSet()
	s2 := s.Add(LevelMin)
	assert.False(t, s.Has(LevelMin), "Add must not mutate the receiver")
	assert.True(t, s2.Has(LevelMin))

	s3 := s2.Add(LevelMax).Add(LevelUpgrade)
	assert.Equal(t, []AlertLevel{LevelMin, LevelMax, LevelUpgrade}, s3.Slice())
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("large-buy")
	require.NoError(t, err)
	assert.Equal(t, LevelLargeBuy, l)

	l, err = ParseLevel("med")
	require.NoError(t, err)
	assert.Equal(t, LevelMedium, l)

	_, err = ParseLevel("ultra")
	assert.Error(t, err)
}

func TestSubscriptionActive(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.False(t, User{}.SubscriptionActive(now))
	assert.True(t, User{IsPaid: true}.SubscriptionActive(now))
	assert.True(t, User{IsPaid: true, PaidUntil: &future}.SubscriptionActive(now))
	assert.False(t, User{IsPaid: true, PaidUntil: &past}.SubscriptionActive(now))
}

func TestUserCloneIsDeep(t *testing.T) {
	until := time.Now()
	u := User{ID: 1, PaidUntil: &until, Filters: DefaultFilters()}
	c := u.Clone()
	c.Filters.Levels[LevelMin] = false
	*c.PaidUntil = until.Add(time.Hour)

	assert.True(t, u.Filters.Levels.Has(LevelMin))
	assert.Equal(t, until, *u.PaidUntil)
}
