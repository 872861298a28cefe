package dexscreener

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number decodes a JSON number, a numeric string or null. Anything it
// cannot parse becomes 0 instead of failing the whole record.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	s = strings.Trim(s, `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		*n = 0
		return nil
	}
	*n = Number(f)
	return nil
}

func (n Number) Float() float64 { return float64(n) }

// Token is the base or quote side of a pair.
type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type TxnSummary struct {
	Buys  Number `json:"buys"`
	Sells Number `json:"sells"`
}

type Txns struct {
	M5  TxnSummary `json:"m5"`
	H1  TxnSummary `json:"h1"`
	H24 TxnSummary `json:"h24"`
}

type Volume struct {
	M5  Number `json:"m5"`
	H1  Number `json:"h1"`
	H6  Number `json:"h6"`
	H24 Number `json:"h24"`
}

type Liquidity struct {
	USD   Number `json:"usd"`
	Base  Number `json:"base"`
	Quote Number `json:"quote"`
}

// Buy is an individual buy attached to a record by an upstream that has
// per-transaction data. DexScreener itself only reports aggregates.
type Buy struct {
	AmountUSD Number `json:"amountUsd"`
}

// Pair is one trading pair as returned by /tokens/v1 and /latest/dex/search.
type Pair struct {
	ChainID       string    `json:"chainId"`
	DexID         string    `json:"dexId"`
	URL           string    `json:"url"`
	PairAddress   string    `json:"pairAddress"`
	BaseToken     Token     `json:"baseToken"`
	QuoteToken    Token     `json:"quoteToken"`
	PriceUSD      Number    `json:"priceUsd"`
	Txns          Txns      `json:"txns"`
	Volume        Volume    `json:"volume"`
	Liquidity     Liquidity `json:"liquidity"`
	FDV           Number    `json:"fdv"`
	MarketCap     Number    `json:"marketCap"`
	PairCreatedAt Number    `json:"pairCreatedAt"`
	OriginTxBuys  []Buy     `json:"originTxBuys,omitempty"`
}

// TokenProfile is an entry of /token-profiles/latest/v1, the feed of newly
// listed tokens.
type TokenProfile struct {
	URL          string `json:"url"`
	ChainID      string `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
	Description  string `json:"description"`
}

type searchResponse struct {
	SchemaVersion string            `json:"schemaVersion"`
	Pairs         []json.RawMessage `json:"pairs"`
}
