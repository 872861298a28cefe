package ingest

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onion-alerts/internal/clients_api/dexscreener"
	"onion-alerts/internal/domain"
)

const (
	bscToken = "0x1111111111111111111111111111111111111111"
	bscPair  = "0x2222222222222222222222222222222222222222"
	solToken = "So11111111111111111111111111111111111111112"
)

func decode(t *testing.T, raw string) dexscreener.Pair {
	t.Helper()
	var p dexscreener.Pair
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return p
}

func TestNormalizeBSC(t *testing.T) {
	raw := decode(t, `{"chainId":"bsc","pairAddress":"`+bscPair+`",
		"baseToken":{"address":"`+bscToken+`","symbol":"PEPE"},
		"liquidity":{"usd":"2000.5"},"fdv":15000,"volume":{"m5":600},
		"txns":{"m5":{"buys":3,"sells":1}}}`)

	obs, ok := Normalize(raw, domain.ChainBSC, true, Options{})
	require.True(t, ok)
	assert.Equal(t, bscToken, obs.TokenAddress)
	assert.Equal(t, bscPair, obs.PairAddress)
	assert.Equal(t, "PEPE", obs.Symbol)
	assert.Equal(t, 2000.5, obs.LiquidityUSD)
	assert.Equal(t, 15000.0, obs.FDVUSD)
	assert.Equal(t, 600.0, obs.Volume5mUSD)
	assert.True(t, obs.IsNewlyListed)
	// 600 * 3/4 / 3
	require.Len(t, obs.OriginTxBuys, 1)
	assert.InDelta(t, 150.0, obs.OriginTxBuys[0].AmountUSD, 1e-9)
}

func TestNormalizeSOL(t *testing.T) {
	raw := decode(t, `{"chainId":"solana","pairAddress":"pairX","baseToken":{"address":"`+solToken+`"}}`)
	obs, ok := Normalize(raw, domain.ChainSOL, false, Options{})
	require.True(t, ok)
	assert.False(t, obs.IsNewlyListed)
	assert.Equal(t, "?", obs.Symbol)
	assert.Nil(t, obs.OriginTxBuys)
}

func TestNormalizeRejects(t *testing.T) {
	cases := map[string]string{
		"missing token":   `{"chainId":"bsc","pairAddress":"` + bscPair + `"}`,
		"missing pair":    `{"chainId":"bsc","baseToken":{"address":"` + bscToken + `"}}`,
		"bad bsc address": `{"chainId":"bsc","pairAddress":"p","baseToken":{"address":"0xnothex"}}`,
		"wrong chain":     `{"chainId":"ethereum","pairAddress":"p","baseToken":{"address":"` + bscToken + `"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := Normalize(decode(t, raw), domain.ChainBSC, true, Options{})
			assert.False(t, ok)
		})
	}

	_, ok := Normalize(decode(t, `{"pairAddress":"p","baseToken":{"address":"0OIl"}}`), domain.ChainSOL, true, Options{})
	assert.False(t, ok, "not base58")
}

func TestNormalizeClampsNegativeAndUsesOriginBuys(t *testing.T) {
	raw := decode(t, `{"pairAddress":"`+bscPair+`","baseToken":{"address":"`+bscToken+`"},
		"liquidity":{"usd":-5},"volume":{"m5":"-1"},
		"originTxBuys":[{"amountUsd":100},{"amountUsd":"7000"},{"amountUsd":null}]}`)
	obs, ok := Normalize(raw, domain.ChainBSC, false, Options{})
	require.True(t, ok)
	assert.Zero(t, obs.LiquidityUSD)
	assert.Zero(t, obs.Volume5mUSD)
	assert.Equal(t, []domain.TxBuy{{AmountUSD: 100}, {AmountUSD: 7000}}, obs.OriginTxBuys)
}

func TestCleanSymbol(t *testing.T) {
	assert.Equal(t, "ABC", CleanSymbol(" A\x00B\nC ", 20))
	assert.Equal(t, "ДОГЕ", CleanSymbol("ДОГЕКОИН", 4))
	assert.Equal(t, strings.Repeat("x", 20), CleanSymbol(strings.Repeat("x", 50), 0))
}

func TestMerge(t *testing.T) {
	a := domain.PairObservation{TokenAddress: "0xAAA", LiquidityUSD: 100, IsNewlyListed: true}
	b := domain.PairObservation{TokenAddress: "0xBBB", LiquidityUSD: 5}
	a2 := domain.PairObservation{TokenAddress: "0xaaa", LiquidityUSD: 900, PairAddress: "deeper"}

	out := Merge([]domain.PairObservation{a, b, a2})
	require.Len(t, out, 2)
	assert.Equal(t, "deeper", out[0].PairAddress)
	assert.True(t, out[0].IsNewlyListed)
	assert.Equal(t, "0xBBB", out[1].TokenAddress)
}
