//go:build integration

package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onion-alerts/internal/clients_api/dexscreener"
	"onion-alerts/internal/domain"
	"onion-alerts/internal/features/ingest"
)

func TestIntegration_DexScreener_NewPairs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := dexscreener.NewClient(dexscreener.Options{})
	for _, chain := range domain.AllChains {
		pairs, err := client.FetchNewPairs(ctx, chain.DexScreenerID(), 10)
		require.NoError(t, err, chain)

		accepted := 0
		for _, p := range pairs {
			if _, ok := ingest.Normalize(p, chain, true, ingest.Options{}); ok {
				accepted++
			}
		}
		t.Logf("%s: %d pairs, %d normalized", chain, len(pairs), accepted)
	}
}

func TestIntegration_DexScreener_Trending(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := dexscreener.NewClient(dexscreener.Options{})
	pairs, err := client.FetchTrendingPairs(ctx, "solana", 20)
	require.NoError(t, err)
	assert.NotEmpty(t, pairs)
	for _, p := range pairs {
		assert.Equal(t, "solana", p.ChainID)
	}
}
