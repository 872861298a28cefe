package bscscan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transfer is one BEP-20 transfer with the amount already scaled by the
// token's decimals.
type Transfer struct {
	Hash          string
	From          string
	To            string
	Contract      string
	Amount        decimal.Decimal
	Timestamp     time.Time
	Confirmations int64
}

type rawTransfer struct {
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
	Value           string `json:"value"`
	TokenDecimal    string `json:"tokenDecimal"`
	TimeStamp       string `json:"timeStamp"`
	Confirmations   string `json:"confirmations"`
}

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// TokenTransfers lists the latest transfers of contract into or out of wallet.
func (c *Client) TokenTransfers(ctx context.Context, wallet, contract string, limit int) ([]Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "tokentx")
	q.Set("address", wallet)
	if contract != "" {
		q.Set("contractaddress", contract)
	}
	q.Set("page", "1")
	q.Set("offset", strconv.Itoa(limit))
	q.Set("sort", "desc")
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}

	body, err := c.doGET(ctx, c.baseURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tokentx response: %w", err)
	}
	if resp.Status != "1" {
		if strings.HasPrefix(strings.ToLower(resp.Message), "no transactions found") {
			return []Transfer{}, nil
		}
		var detail string
		_ = json.Unmarshal(resp.Result, &detail)
		return nil, fmt.Errorf("bscscan error: %s %s", resp.Message, detail)
	}

	var raws []rawTransfer
	if err := json.Unmarshal(resp.Result, &raws); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tokentx result: %w", err)
	}

	out := make([]Transfer, 0, len(raws))
	for _, r := range raws {
		t, err := r.toTransfer()
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// FindTransfer looks for txHash among the wallet's recent transfers of contract.
func (c *Client) FindTransfer(ctx context.Context, wallet, contract, txHash string) (*Transfer, error) {
	transfers, err := c.TokenTransfers(ctx, wallet, contract, 100)
	if err != nil {
		return nil, err
	}
	for i := range transfers {
		if strings.EqualFold(transfers[i].Hash, txHash) {
			return &transfers[i], nil
		}
	}
	return nil, nil
}

func (r rawTransfer) toTransfer() (Transfer, error) {
	value, err := decimal.NewFromString(r.Value)
	if err != nil {
		return Transfer{}, fmt.Errorf("value %q: %w", r.Value, err)
	}
	decimals, err := strconv.ParseInt(r.TokenDecimal, 10, 32)
	if err != nil {
		decimals = 18
	}
	ts, _ := strconv.ParseInt(r.TimeStamp, 10, 64)
	conf, _ := strconv.ParseInt(r.Confirmations, 10, 64)

	return Transfer{
		Hash:          r.Hash,
		From:          r.From,
		To:            r.To,
		Contract:      r.ContractAddress,
		Amount:        value.Shift(-int32(decimals)),
		Timestamp:     time.Unix(ts, 0).UTC(),
		Confirmations: conf,
	}, nil
}
