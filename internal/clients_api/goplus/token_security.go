package goplus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// TokenSecurity is the subset of the token_security report the bot reads.
// Flags are "1"/"0" strings; an empty string means the field was absent.
type TokenSecurity struct {
	IsOpenSource         string `json:"is_open_source"`
	IsHoneypot           string `json:"is_honeypot"`
	CanTakeBackOwnership string `json:"can_take_back_ownership"`
	IsProxy              string `json:"is_proxy"`
	IsMintable           string `json:"is_mintable"`
	BuyTax               string `json:"buy_tax"`
	SellTax              string `json:"sell_tax"`
	TokenSymbol          string `json:"token_symbol"`
	HolderCount          string `json:"holder_count"`
	CannotSellAll        string `json:"cannot_sell_all"`
	TransferPausable     string `json:"transfer_pausable"`
	HiddenOwner          string `json:"hidden_owner"`
}

// Safe reports the three explicit conditions: open source, not a honeypot,
// ownership not reclaimable. A missing flag is not safe.
func (t TokenSecurity) Safe() bool {
	return t.IsOpenSource == "1" && t.IsHoneypot == "0" && t.CanTakeBackOwnership == "0"
}

type tokenSecurityResponse struct {
	Code    int                        `json:"code"`
	Message string                     `json:"message"`
	Result  map[string]json.RawMessage `json:"result"`
}

// TokenSecurity queries up to len(addresses) contracts on chainID in one call.
// Result keys are lower-cased addresses; addresses the oracle did not report
// are absent from the map.
func (c *Client) TokenSecurity(ctx context.Context, chainID string, addresses []string) (map[string]TokenSecurity, error) {
	if len(addresses) == 0 {
		return map[string]TokenSecurity{}, nil
	}
	endpoint := fmt.Sprintf("/token_security/%s?contract_addresses=%s",
		url.PathEscape(chainID), url.QueryEscape(strings.Join(addresses, ",")))

	body, err := c.doGET(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var resp tokenSecurityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token security: %w", err)
	}
	if resp.Code != 1 {
		return nil, fmt.Errorf("goplus error code %d: %s", resp.Code, resp.Message)
	}

	out := make(map[string]TokenSecurity, len(resp.Result))
	for addr, raw := range resp.Result {
		var ts TokenSecurity
		if err := json.Unmarshal(raw, &ts); err != nil {
			continue
		}
		out[strings.ToLower(addr)] = ts
	}
	return out, nil
}
