package domain

import "strings"

// TxBuy is a single buy attributed to the pair.
type TxBuy struct {
	AmountUSD float64 `json:"amount_usd"`
}

// PairObservation is a snapshot of a trading pair at scan time.
// Only the ingestor builds these; treat them as read-only.
type PairObservation struct {
	TokenAddress  string
	PairAddress   string
	Chain         Chain
	Symbol        string
	LiquidityUSD  float64
	FDVUSD        float64
	Volume5mUSD   float64
	IsNewlyListed bool
	OriginTxBuys  []TxBuy
}

// Key is the case-normalized token address used for state lookups.
func (o PairObservation) Key() string {
	return AddressKey(o.TokenAddress)
}

// AddressKey normalizes an address for comparison.
func AddressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// DeepLink points at the pair on DexScreener.
func (o PairObservation) DeepLink() string {
	return o.Chain.DeepLink(o.PairAddress)
}
