//go:build integration

package tests

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onion-alerts/internal/clients_api/bscscan"
	"onion-alerts/internal/clients_api/goplus"
)

// BSC-USD (USDT BEP-20), verified and not a honeypot.
const bscUSDT = "0x55d398326f99059fF775485246999027B3197955"

func TestIntegration_GoPlus_TokenSecurity(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := goplus.NewClient("", 15*time.Second)
	reports, err := client.TokenSecurity(ctx, "56", []string{bscUSDT})
	require.NoError(t, err)

	r, ok := reports[strings.ToLower(bscUSDT)]
	require.True(t, ok, "USDT must be indexed")
	assert.True(t, r.Safe())
}

func TestIntegration_BscScan_TokenTransfers(t *testing.T) {
	apiKey := os.Getenv("BSCSCAN_API_KEY")
	wallet := os.Getenv("BSC_WALLET")
	if apiKey == "" || wallet == "" {
		t.Skip("BSCSCAN_API_KEY and BSC_WALLET are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := bscscan.NewClient("", apiKey)
	transfers, err := client.TokenTransfers(ctx, wallet, bscUSDT, 10)
	require.NoError(t, err)
	t.Logf("%d transfers", len(transfers))
}
