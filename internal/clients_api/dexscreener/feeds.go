package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"onion-alerts/internal/infra/log"

	"go.uber.org/zap"
)

// tokensBatchSize is the address limit of /tokens/v1.
const tokensBatchSize = 30

// FetchNewPairs returns pairs for the most recently listed tokens on chainID
// ("solana", "bsc"). limit caps the number of tokens looked up.
func (c *Client) FetchNewPairs(ctx context.Context, chainID string, limit int) ([]Pair, error) {
	body, err := c.MakeRequest(ctx, "/token-profiles/latest/v1")
	if err != nil {
		return nil, fmt.Errorf("failed to get latest token profiles: %w", err)
	}

	var rawProfiles []json.RawMessage
	if err := json.Unmarshal(body, &rawProfiles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token profiles: %w", err)
	}

	seen := make(map[string]bool)
	addresses := make([]string, 0, len(rawProfiles))
	for _, raw := range rawProfiles {
		var p TokenProfile
		if err := json.Unmarshal(raw, &p); err != nil {
			log.LogDebug("Skipping malformed token profile", zap.Error(err))
			continue
		}
		if !strings.EqualFold(p.ChainID, chainID) || p.TokenAddress == "" {
			continue
		}
		key := strings.ToLower(p.TokenAddress)
		if seen[key] {
			continue
		}
		seen[key] = true
		addresses = append(addresses, p.TokenAddress)
		if limit > 0 && len(addresses) >= limit {
			break
		}
	}

	if len(addresses) == 0 {
		return []Pair{}, nil
	}
	return c.FetchTokenPairs(ctx, chainID, addresses)
}

// FetchTokenPairs looks up pairs for token addresses, batching as the API requires.
// A failed batch fails the call only if no batch succeeded.
func (c *Client) FetchTokenPairs(ctx context.Context, chainID string, addresses []string) ([]Pair, error) {
	pairs := make([]Pair, 0, len(addresses))
	var lastErr error
	okBatches := 0

	for start := 0; start < len(addresses); start += tokensBatchSize {
		end := start + tokensBatchSize
		if end > len(addresses) {
			end = len(addresses)
		}
		endpoint := fmt.Sprintf("/tokens/v1/%s/%s", url.PathEscape(chainID), strings.Join(addresses[start:end], ","))

		body, err := c.MakeRequest(ctx, endpoint)
		if err != nil {
			lastErr = err
			continue
		}

		var raw []json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			lastErr = fmt.Errorf("failed to unmarshal token pairs: %w", err)
			continue
		}
		okBatches++
		pairs = append(pairs, decodePairs(raw, chainID)...)
	}

	if okBatches == 0 && lastErr != nil {
		return nil, fmt.Errorf("failed to get token pairs: %w", lastErr)
	}
	return pairs, nil
}

// FetchTrendingPairs returns pairs from the search endpoint queried by chain name.
func (c *Client) FetchTrendingPairs(ctx context.Context, chainID string, limit int) ([]Pair, error) {
	body, err := c.MakeRequest(ctx, "/latest/dex/search?q="+url.QueryEscape(chainID))
	if err != nil {
		return nil, fmt.Errorf("failed to search pairs: %w", err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search response: %w", err)
	}

	pairs := decodePairs(resp.Pairs, chainID)
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs, nil
}

// decodePairs decodes records one by one so a single bad record does not
// drop the rest, and keeps only pairs on chainID.
func decodePairs(raw []json.RawMessage, chainID string) []Pair {
	out := make([]Pair, 0, len(raw))
	for _, r := range raw {
		var p Pair
		if err := json.Unmarshal(r, &p); err != nil {
			log.LogDebug("Skipping malformed pair record", zap.Error(err))
			continue
		}
		if p.ChainID != "" && !strings.EqualFold(p.ChainID, chainID) {
			continue
		}
		out = append(out, p)
	}
	return out
}
