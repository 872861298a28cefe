package ingest

import (
	"encoding/hex"
	"math"
	"strings"
	"unicode"

	"github.com/mr-tron/base58"

	"onion-alerts/internal/clients_api/dexscreener"
	"onion-alerts/internal/domain"
)

const defaultSymbolMaxLen = 20

type Options struct {
	SymbolMaxLen int
}

// Normalize turns a raw feed record into an observation. It never fails
// loudly: a record without a usable token or pair address is rejected with
// ok=false, and bad numeric fields become 0.
func Normalize(raw dexscreener.Pair, chain domain.Chain, isNewFeed bool, opts Options) (domain.PairObservation, bool) {
	if raw.ChainID != "" {
		if c, ok := domain.ChainFromDexScreenerID(raw.ChainID); !ok || c != chain {
			return domain.PairObservation{}, false
		}
	}

	token := strings.TrimSpace(raw.BaseToken.Address)
	pair := strings.TrimSpace(raw.PairAddress)
	if token == "" || pair == "" {
		return domain.PairObservation{}, false
	}
	if !ValidAddress(chain, token) {
		return domain.PairObservation{}, false
	}

	obs := domain.PairObservation{
		TokenAddress:  token,
		PairAddress:   pair,
		Chain:         chain,
		Symbol:        CleanSymbol(raw.BaseToken.Symbol, opts.SymbolMaxLen),
		LiquidityUSD:  nonNegative(raw.Liquidity.USD.Float()),
		FDVUSD:        nonNegative(raw.FDV.Float()),
		Volume5mUSD:   nonNegative(raw.Volume.M5.Float()),
		IsNewlyListed: isNewFeed,
	}
	obs.OriginTxBuys = originBuys(raw, obs.Volume5mUSD)
	return obs, true
}

// originBuys uses per-transaction buys when the record carries them.
// Otherwise it estimates one buy as the buy share of 5m volume divided by
// the 5m buy count.
func originBuys(raw dexscreener.Pair, vol5m float64) []domain.TxBuy {
	if len(raw.OriginTxBuys) > 0 {
		out := make([]domain.TxBuy, 0, len(raw.OriginTxBuys))
		for _, b := range raw.OriginTxBuys {
			if v := nonNegative(b.AmountUSD.Float()); v > 0 {
				out = append(out, domain.TxBuy{AmountUSD: v})
			}
		}
		return out
	}

	buys := nonNegative(raw.Txns.M5.Buys.Float())
	sells := nonNegative(raw.Txns.M5.Sells.Float())
	if buys < 1 || vol5m <= 0 {
		return nil
	}
	buyVolume := vol5m * buys / (buys + sells)
	return []domain.TxBuy{{AmountUSD: buyVolume / buys}}
}

// ValidAddress checks the address shape for chain: 32-byte base58 for SOL,
// 0x-prefixed 20-byte hex for BSC.
func ValidAddress(chain domain.Chain, address string) bool {
	switch chain {
	case domain.ChainSOL:
		b, err := base58.Decode(address)
		return err == nil && len(b) == 32
	case domain.ChainBSC:
		if len(address) != 42 || !strings.HasPrefix(strings.ToLower(address), "0x") {
			return false
		}
		_, err := hex.DecodeString(address[2:])
		return err == nil
	default:
		return address != ""
	}
}

// CleanSymbol drops control characters and caps the rune length.
func CleanSymbol(symbol string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = defaultSymbolMaxLen
	}
	symbol = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(symbol))

	runes := []rune(symbol)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}
	if len(runes) == 0 {
		return "?"
	}
	return string(runes)
}

// Merge collapses observations of the same token seen on several feeds in
// one cycle. The record with the deepest liquidity wins; it counts as newly
// listed if any source was the new-pairs feed. Order of first appearance is kept.
func Merge(observations []domain.PairObservation) []domain.PairObservation {
	index := make(map[string]int, len(observations))
	out := make([]domain.PairObservation, 0, len(observations))

	for _, o := range observations {
		key := o.Key()
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, o)
			continue
		}
		isNew := out[i].IsNewlyListed || o.IsNewlyListed
		if o.LiquidityUSD > out[i].LiquidityUSD {
			out[i] = o
		}
		out[i].IsNewlyListed = isNew
	}
	return out
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
