package scanner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"onion-alerts/internal/clients_api/dexscreener"
	"onion-alerts/internal/domain"
	"onion-alerts/internal/features/classify"
	"onion-alerts/internal/features/entitlement"
	"onion-alerts/internal/features/ingest"
	"onion-alerts/internal/features/notify"
	"onion-alerts/internal/features/safety"
	"onion-alerts/internal/infra/log"
	"onion-alerts/internal/infra/metrics"
	"onion-alerts/internal/state"
)

const (
	feedNew      = "new"
	feedTrending = "trending"
)

// ErrAllFeedsFailed means no feed answered, so the cycle saw no market data.
var ErrAllFeedsFailed = errors.New("all market-data feeds failed")

// Feed is the market-data source.
type Feed interface {
	FetchNewPairs(ctx context.Context, chainID string, limit int) ([]dexscreener.Pair, error)
	FetchTrendingPairs(ctx context.Context, chainID string, limit int) ([]dexscreener.Pair, error)
}

type Options struct {
	Chains          []domain.Chain
	MaxPairsPerFeed int
	Ingest          ingest.Options
	DryRun          bool // classify and record, deliver nothing
}

// Alert is one emitted alert and its delivery outcome.
type Alert struct {
	Observation domain.PairObservation
	Level       domain.AlertLevel
	SpikeRatio  float64
	Message     notify.Message
	Delivered   int
	Failed      int
}

// CycleReport summarizes one RunCycle.
type CycleReport struct {
	StartedAt    time.Time
	Duration     time.Duration
	FeedsOK      int
	FeedErrors   int
	Observations int
	Candidates   int
	Unsafe       int
	Alerts       []Alert
}

// Result is the metrics label for the cycle outcome.
func (r CycleReport) Result() string {
	switch {
	case r.FeedsOK == 0 && r.FeedErrors > 0:
		return "failed"
	case r.FeedErrors > 0:
		return "partial"
	default:
		return "ok"
	}
}

type candidate struct {
	obs      domain.PairObservation
	spike    float64
	largeBuy bool
	computed domain.AlertLevel
}

// Scanner runs scan cycles: fetch, normalize, record volume, filter unsafe
// contracts, classify, and deliver to entitled users.
type Scanner struct {
	feed     Feed
	filter   *safety.Filter
	engine   classify.Engine
	gate     entitlement.Gate
	notifier *notify.Notifier
	store    *state.Store
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
}

// New builds a Scanner. notifier may be nil in dry-run mode, m may be nil.
func New(feed Feed, filter *safety.Filter, engine classify.Engine, notifier *notify.Notifier, store *state.Store, m *metrics.Metrics, opts Options) *Scanner {
	if len(opts.Chains) == 0 {
		opts.Chains = domain.AllChains
	}
	return &Scanner{
		feed:     feed,
		filter:   filter,
		engine:   engine,
		notifier: notifier,
		store:    store,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
	}
}

// RunCycle performs one full scan. A panic inside the cycle is recovered and
// returned as an error so the caller's loop keeps running.
func (s *Scanner) RunCycle(ctx context.Context) (report CycleReport, err error) {
	report.StartedAt = s.now()
	defer func() {
		report.Duration = s.now().Sub(report.StartedAt)
		result := report.Result()
		if r := recover(); r != nil {
			log.LogError("Scan cycle panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("scan cycle panic: %v", r)
			result = "panic"
		}
		if s.metrics != nil {
			s.metrics.ScanCycles.WithLabelValues(result).Inc()
			s.metrics.ScanCycleSeconds.Observe(report.Duration.Seconds())
			s.metrics.TrackedTokens.Set(float64(s.store.TokenCount()))
			s.updateUserGauge(report.StartedAt)
		}
	}()

	now := report.StartedAt
	observations := s.fetchAll(ctx, &report)
	if report.FeedsOK == 0 && report.FeedErrors > 0 {
		return report, ErrAllFeedsFailed
	}
	report.Observations = len(observations)

	// every observed address feeds its volume window, alert or not
	candidates := make([]candidate, 0)
	for _, obs := range observations {
		spike := s.store.RecordVolume(obs, now)
		largeBuy := classify.LargeBuyDetected(obs, s.engine.Thresholds.LargeBuyUSD)
		computed, ok := s.engine.Compute(obs, spike, largeBuy)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{obs: obs, spike: spike, largeBuy: largeBuy, computed: computed})
	}
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		log.LogDebug("No alert candidates this cycle", zap.Int("observations", report.Observations))
		return report, nil
	}

	verdicts := s.checkSafety(ctx, candidates)

	for _, c := range candidates {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if !verdicts[c.obs.Chain][c.obs.Key()] {
			report.Unsafe++
			continue
		}

		level, emit := s.store.Escalate(c.obs.TokenAddress, now, func(sent domain.LevelSet) (domain.AlertLevel, domain.LevelSet, bool) {
			d := s.engine.Escalate(c.computed, c.largeBuy, sent)
			return d.Level, d.Sent, d.Emit
		})
		if !emit {
			continue
		}

		alert := Alert{
			Observation: c.obs,
			Level:       level,
			SpikeRatio:  c.spike,
			Message:     notify.FormatAlert(c.obs, level, c.spike),
		}
		if s.metrics != nil {
			s.metrics.Alerts.WithLabelValues(string(c.obs.Chain), string(level)).Inc()
		}
		if !s.opts.DryRun && s.notifier != nil {
			s.deliver(ctx, &alert)
		}
		log.LogInfo("Alert emitted",
			zap.String("chain", string(c.obs.Chain)),
			zap.String("token", c.obs.TokenAddress),
			zap.String("symbol", c.obs.Symbol),
			zap.String("level", string(level)),
			zap.Float64("spike", c.spike),
			zap.Int("delivered", alert.Delivered),
			zap.Int("failed", alert.Failed))
		report.Alerts = append(report.Alerts, alert)
	}

	log.LogInfo("Scan cycle finished",
		zap.Int("observations", report.Observations),
		zap.Int("candidates", report.Candidates),
		zap.Int("unsafe", report.Unsafe),
		zap.Int("alerts", len(report.Alerts)),
		zap.Int("feed_errors", report.FeedErrors))
	return report, nil
}

type feedResult struct {
	chain        domain.Chain
	observations []domain.PairObservation
	ok           int
	errs         int
}

// fetchAll queries both feeds for every chain, chains in parallel.
func (s *Scanner) fetchAll(ctx context.Context, report *CycleReport) []domain.PairObservation {
	results := make([]feedResult, len(s.opts.Chains))
	var wg sync.WaitGroup
	for i, chain := range s.opts.Chains {
		wg.Add(1)
		go func(i int, chain domain.Chain) {
			defer wg.Done()
			results[i] = s.fetchChain(ctx, chain)
		}(i, chain)
	}
	wg.Wait()

	all := make([]domain.PairObservation, 0)
	for _, r := range results {
		report.FeedsOK += r.ok
		report.FeedErrors += r.errs
		all = append(all, r.observations...)
		if s.metrics != nil && len(r.observations) > 0 {
			s.metrics.Observations.WithLabelValues(string(r.chain)).Add(float64(len(r.observations)))
		}
	}
	return ingest.Merge(all)
}

func (s *Scanner) fetchChain(ctx context.Context, chain domain.Chain) feedResult {
	res := feedResult{chain: chain}
	chainID := chain.DexScreenerID()

	feeds := []struct {
		name  string
		isNew bool
		fetch func(context.Context, string, int) ([]dexscreener.Pair, error)
	}{
		{feedNew, true, s.feed.FetchNewPairs},
		{feedTrending, false, s.feed.FetchTrendingPairs},
	}

	for _, f := range feeds {
		pairs, err := safeFetch(ctx, f.fetch, chainID, s.opts.MaxPairsPerFeed)
		if err != nil {
			res.errs++
			log.LogWarn("Feed request failed",
				zap.String("chain", string(chain)),
				zap.String("feed", f.name),
				zap.Error(err))
			if s.metrics != nil {
				s.metrics.FeedErrors.WithLabelValues(string(chain), f.name).Inc()
			}
			continue
		}
		res.ok++
		for _, raw := range pairs {
			if obs, ok := ingest.Normalize(raw, chain, f.isNew, s.opts.Ingest); ok {
				res.observations = append(res.observations, obs)
			}
		}
	}
	return res
}

// safeFetch turns a panic in a feed goroutine into an error.
func safeFetch(ctx context.Context, fetch func(context.Context, string, int) ([]dexscreener.Pair, error), chainID string, limit int) (pairs []dexscreener.Pair, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("feed panic: %v", r)
		}
	}()
	return fetch(ctx, chainID, limit)
}

// checkSafety runs one filter batch per chain, chains in parallel.
func (s *Scanner) checkSafety(ctx context.Context, candidates []candidate) map[domain.Chain]map[string]bool {
	byChain := make(map[domain.Chain][]string)
	for _, c := range candidates {
		byChain[c.obs.Chain] = append(byChain[c.obs.Chain], c.obs.TokenAddress)
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		verdicts = make(map[domain.Chain]map[string]bool, len(byChain))
	)
	for chain, addrs := range byChain {
		wg.Add(1)
		go func(chain domain.Chain, addrs []string) {
			defer wg.Done()
			v := s.filter.Check(ctx, addrs, chain)
			mu.Lock()
			verdicts[chain] = v
			mu.Unlock()
		}(chain, addrs)
	}
	wg.Wait()

	if s.metrics != nil {
		for chain, v := range verdicts {
			for _, safe := range v {
				verdict := "unsafe"
				if safe {
					verdict = "safe"
				}
				s.metrics.SafetyVerdicts.WithLabelValues(string(chain), verdict).Inc()
			}
		}
	}
	return verdicts
}

// deliver sends alert to every admitted user. Users are read fresh from the
// store so quota spent by an earlier alert in the same cycle is seen.
func (s *Scanner) deliver(ctx context.Context, alert *Alert) {
	now := s.now()
	level := alert.Level
	chain := alert.Observation.Chain

	recipients := make([]notify.Recipient, 0)
	for _, u := range s.store.Users() {
		if s.gate.Admits(u, level, chain, now) {
			recipients = append(recipients, notify.Recipient{UserID: u.ID, Target: u.Target()})
		}
	}
	if len(recipients) == 0 {
		return
	}

	res := s.notifier.Broadcast(ctx, recipients, alert.Message, func(r notify.Recipient) {
		u, ok := s.store.User(r.UserID)
		if !ok || !s.gate.Counts(u, level, now) {
			return
		}
		if left, ok := s.store.ConsumeFreeAlert(r.UserID, now); ok {
			log.LogDebug("Free alert consumed", zap.Int64("user_id", r.UserID), zap.Int("left", left))
		}
	})
	alert.Delivered = res.Sent
	alert.Failed = res.Failed
	if s.metrics != nil {
		s.metrics.Deliveries.WithLabelValues("sent").Add(float64(res.Sent))
		s.metrics.Deliveries.WithLabelValues("failed").Add(float64(res.Failed))
	}
}

func (s *Scanner) updateUserGauge(now time.Time) {
	var paid, free, exhausted int
	for _, u := range s.store.Users() {
		switch {
		case u.SubscriptionActive(now):
			paid++
		case u.FreeRemaining > 0:
			free++
		default:
			exhausted++
		}
	}
	s.metrics.Users.WithLabelValues("paid").Set(float64(paid))
	s.metrics.Users.WithLabelValues("free").Set(float64(free))
	s.metrics.Users.WithLabelValues("exhausted").Set(float64(exhausted))
}
