package safety

import (
	"context"
	"errors"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"onion-alerts/internal/clients_api/goplus"
	"onion-alerts/internal/domain"
	"onion-alerts/internal/infra/log"
)

// ErrUnsupportedChain is returned by an oracle with no mapping for a chain.
var ErrUnsupportedChain = errors.New("chain not supported by safety oracle")

// Oracle answers whether contracts are safe. The returned map holds only the
// addresses the oracle actually reported on, keyed by lower-cased address.
type Oracle interface {
	Supports(chain domain.Chain) bool
	CheckBatch(ctx context.Context, chain domain.Chain, addresses []string) (map[string]bool, error)
}

type Options struct {
	Enabled        bool
	CacheTTL       time.Duration
	Timeout        time.Duration
	FailOpenChains domain.ChainSet
}

// Filter admits or rejects addresses before classification. It fails closed:
// errors, timeouts and unreported addresses are unsafe.
type Filter struct {
	oracle   Oracle
	cache    *gocache.Cache
	enabled  bool
	timeout  time.Duration
	failOpen domain.ChainSet
}

func NewFilter(oracle Oracle, opts Options) *Filter {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	failOpen := opts.FailOpenChains
	if failOpen == nil {
		failOpen = domain.NewChainSet()
	}
	return &Filter{
		oracle:   oracle,
		cache:    gocache.New(ttl, 2*ttl),
		enabled:  opts.Enabled,
		timeout:  opts.Timeout,
		failOpen: failOpen,
	}
}

func cacheKey(chain domain.Chain, address string) string {
	return string(chain) + ":" + domain.AddressKey(address)
}

// Check returns a verdict for every input address, keyed by lower-cased address.
// Cache misses for the chain go to the oracle in a single batch.
func (f *Filter) Check(ctx context.Context, addresses []string, chain domain.Chain) map[string]bool {
	verdicts := make(map[string]bool, len(addresses))
	if len(addresses) == 0 {
		return verdicts
	}

	if !f.enabled {
		for _, a := range addresses {
			verdicts[domain.AddressKey(a)] = true
		}
		return verdicts
	}

	if f.oracle == nil || !f.oracle.Supports(chain) {
		open := f.failOpen.Has(chain)
		for _, a := range addresses {
			verdicts[domain.AddressKey(a)] = open
		}
		return verdicts
	}

	misses := make([]string, 0, len(addresses))
	seen := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		key := domain.AddressKey(a)
		if seen[key] {
			continue
		}
		seen[key] = true
		if v, ok := f.cache.Get(cacheKey(chain, key)); ok {
			verdicts[key] = v.(bool)
			continue
		}
		verdicts[key] = false
		misses = append(misses, a)
	}
	if len(misses) == 0 {
		return verdicts
	}

	callCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	reported, err := f.oracle.CheckBatch(callCtx, chain, misses)
	if err != nil {
		log.LogWarn("Safety oracle failed, treating batch as unsafe",
			zap.String("chain", string(chain)),
			zap.Int("addresses", len(misses)),
			zap.Error(err))
		return verdicts
	}

	for _, a := range misses {
		key := domain.AddressKey(a)
		safe, ok := reported[key]
		if !ok {
			// not indexed yet; ask again next cycle
			continue
		}
		verdicts[key] = safe
		f.cache.SetDefault(cacheKey(chain, key), safe)
	}
	return verdicts
}

// GoPlusOracle adapts the GoPlus client to Oracle.
type GoPlusOracle struct {
	client   *goplus.Client
	chainIDs map[domain.Chain]string
}

func NewGoPlusOracle(client *goplus.Client, chainIDs map[domain.Chain]string) *GoPlusOracle {
	return &GoPlusOracle{client: client, chainIDs: chainIDs}
}

func (o *GoPlusOracle) Supports(chain domain.Chain) bool {
	_, ok := o.chainIDs[chain]
	return ok
}

func (o *GoPlusOracle) CheckBatch(ctx context.Context, chain domain.Chain, addresses []string) (map[string]bool, error) {
	id, ok := o.chainIDs[chain]
	if !ok {
		return nil, ErrUnsupportedChain
	}
	reports, err := o.client.TokenSecurity(ctx, id, addresses)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(reports))
	for addr, r := range reports {
		out[strings.ToLower(addr)] = r.Safe()
	}
	return out, nil
}
