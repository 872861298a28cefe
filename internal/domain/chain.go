package domain

import (
	"fmt"
	"strings"
)

// Chain identifies the network a pair trades on.
type Chain string

const (
	ChainSOL Chain = "SOL"
	ChainBSC Chain = "BSC"
)

// AllChains in display order.
var AllChains = []Chain{ChainSOL, ChainBSC}

// ParseChain accepts "SOL", "sol", "solana", "BSC", "bsc".
func ParseChain(s string) (Chain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sol", "solana":
		return ChainSOL, nil
	case "bsc", "bnb":
		return ChainBSC, nil
	default:
		return "", fmt.Errorf("unknown chain %q", s)
	}
}

// DexScreenerID is the chainId DexScreener uses in URLs and payloads.
func (c Chain) DexScreenerID() string {
	switch c {
	case ChainSOL:
		return "solana"
	case ChainBSC:
		return "bsc"
	default:
		return strings.ToLower(string(c))
	}
}

// DeepLink points at the pair page on DexScreener.
func (c Chain) DeepLink(pairAddress string) string {
	return fmt.Sprintf("https://dexscreener.com/%s/%s", c.DexScreenerID(), pairAddress)
}

// ChainFromDexScreenerID maps "solana"/"bsc" back to a Chain.
func ChainFromDexScreenerID(id string) (Chain, bool) {
	for _, c := range AllChains {
		if c.DexScreenerID() == strings.ToLower(id) {
			return c, true
		}
	}
	return "", false
}

// ChainSet is a set of chains.
type ChainSet map[Chain]bool

func NewChainSet(chains ...Chain) ChainSet {
	s := make(ChainSet, len(chains))
	for _, c := range chains {
		s[c] = true
	}
	return s
}

func (s ChainSet) Has(c Chain) bool { return s[c] }

// Slice returns the members in AllChains order.
func (s ChainSet) Slice() []Chain {
	out := make([]Chain, 0, len(s))
	for _, c := range AllChains {
		if s[c] {
			out = append(out, c)
		}
	}
	return out
}
