package safety

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onion-alerts/internal/clients_api/goplus"
	"onion-alerts/internal/domain"
)

type fakeOracle struct {
	supported domain.ChainSet
	reply     map[string]bool
	err       error
	delay     time.Duration
	calls     [][]string
}

func (f *fakeOracle) Supports(c domain.Chain) bool { return f.supported.Has(c) }

func (f *fakeOracle) CheckBatch(ctx context.Context, _ domain.Chain, addresses []string) (map[string]bool, error) {
	f.calls = append(f.calls, append([]string(nil), addresses...))
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func enabled() Options {
	return Options{Enabled: true, CacheTTL: time.Hour}
}

func TestBatchesAndCaches(t *testing.T) {
	o := &fakeOracle{
		supported: domain.NewChainSet(domain.ChainBSC),
		reply:     map[string]bool{"0xaaa": true, "0xbbb": false},
	}
	f := NewFilter(o, enabled())

	got := f.Check(context.Background(), []string{"0xAAA", "0xBBB", "0xCCC"}, domain.ChainBSC)
	assert.Equal(t, map[string]bool{"0xaaa": true, "0xbbb": false, "0xccc": false}, got)
	require.Len(t, o.calls, 1, "one oracle call per chain per cycle")

	got = f.Check(context.Background(), []string{"0xAAA", "0xBBB", "0xCCC"}, domain.ChainBSC)
	assert.True(t, got["0xaaa"])
	require.Len(t, o.calls, 2)
	assert.Equal(t, []string{"0xCCC"}, o.calls[1], "unreported address is asked again, reported ones come from cache")
}

func TestOracleErrorFailsClosed(t *testing.T) {
	o := &fakeOracle{supported: domain.NewChainSet(domain.ChainBSC), err: errors.New("503")}
	f := NewFilter(o, enabled())

	got := f.Check(context.Background(), []string{"0xAAA"}, domain.ChainBSC)
	assert.False(t, got["0xaaa"])
}

func TestTimeoutFailsClosed(t *testing.T) {
	o := &fakeOracle{
		supported: domain.NewChainSet(domain.ChainBSC),
		reply:     map[string]bool{"0xaaa": true},
		delay:     time.Second,
	}
	opts := enabled()
	opts.Timeout = 10 * time.Millisecond
	f := NewFilter(o, opts)

	got := f.Check(context.Background(), []string{"0xAAA"}, domain.ChainBSC)
	assert.False(t, got["0xaaa"])
}

func TestUnsupportedChain(t *testing.T) {
	o := &fakeOracle{supported: domain.NewChainSet(domain.ChainBSC)}

	closed := NewFilter(o, enabled())
	assert.False(t, closed.Check(context.Background(), []string{"So1"}, domain.ChainSOL)["so1"])

	opts := enabled()
	opts.FailOpenChains = domain.NewChainSet(domain.ChainSOL)
	open := NewFilter(o, opts)
	assert.True(t, open.Check(context.Background(), []string{"So1"}, domain.ChainSOL)["so1"])
	assert.Empty(t, o.calls)
}

func TestDisabledAdmitsAll(t *testing.T) {
	f := NewFilter(nil, Options{Enabled: false})
	got := f.Check(context.Background(), []string{"A", "B"}, domain.ChainSOL)
	assert.Equal(t, map[string]bool{"a": true, "b": true}, got)
}

func TestGoPlusOracle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token_security/56", r.URL.Path)
		_, _ = w.Write([]byte(`{"code":1,"message":"OK","result":{
			"0xaaa":{"is_open_source":"1","is_honeypot":"0","can_take_back_ownership":"0"},
			"0xbbb":{"is_open_source":"1","is_honeypot":"0"}
		}}`))
	}))
	defer srv.Close()

	o := NewGoPlusOracle(goplus.NewClient(srv.URL, time.Second), map[domain.Chain]string{domain.ChainBSC: "56"})
	f := NewFilter(o, enabled())

	got := f.Check(context.Background(), []string{"0xAAA", "0xBBB"}, domain.ChainBSC)
	assert.True(t, got["0xaaa"])
	assert.False(t, got["0xbbb"], "missing ownership flag is unsafe")

	_, err := o.CheckBatch(context.Background(), domain.ChainSOL, []string{"x"})
	assert.ErrorIs(t, err, ErrUnsupportedChain)
}
