package bots_monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"onion-alerts/internal/features/scanner"
	log "onion-alerts/internal/infra/log"
	"onion-alerts/internal/infra/retry"
)

// CycleRunner runs one scan cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (scanner.CycleReport, error)
}

// RunScanMonitor runs a cycle right away and then every interval until ctx
// is cancelled. After consecutive failed cycles it waits an extra jittered
// backoff, capped at maxBackoff, before the next tick.
func RunScanMonitor(ctx context.Context, sc CycleRunner, interval, maxBackoff time.Duration) {
	if sc == nil {
		log.LogWarn("Scanner is nil, scan monitor not started")
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	log.LogInfo("Starting scan monitor",
		zap.Duration("interval", interval),
		zap.Duration("maxBackoff", maxBackoff))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		failures = runOnce(ctx, sc, failures)
		if failures > 0 && maxBackoff > 0 {
			wait := retry.FullJitterSleep(failures, interval, maxBackoff)
			log.LogWarn("Scan cycle failed, backing off",
				zap.Int("consecutiveFailures", failures),
				zap.Duration("wait", wait))
			if retry.Sleep(ctx, wait) != nil {
				log.LogInfo("Scan monitor stopped")
				return
			}
		}

		select {
		case <-ctx.Done():
			log.LogInfo("Scan monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// runOnce returns the updated count of consecutive failed cycles.
func runOnce(ctx context.Context, sc CycleRunner, failures int) int {
	report, err := sc.RunCycle(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return failures
		}
		log.LogError("Scan cycle failed",
			zap.Error(err),
			zap.Int("feedErrors", report.FeedErrors),
			zap.Duration("took", report.Duration))
		return failures + 1
	}
	if len(report.Alerts) > 0 {
		log.LogSuccess("Alerts sent",
			zap.Int("alerts", len(report.Alerts)),
			zap.Duration("took", report.Duration))
	}
	return 0
}
