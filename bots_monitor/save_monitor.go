package bots_monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"onion-alerts/internal/infra/fs"
	log "onion-alerts/internal/infra/log"
	"onion-alerts/internal/state"
)

// SaveState writes a snapshot of store to p.
func SaveState(store *state.Store, p fs.Persister) error {
	snap := store.Snapshot(time.Now())
	if err := p.Save(snap); err != nil {
		return err
	}
	log.LogDebug("State saved",
		zap.Int("users", len(snap.Users)),
		zap.Int("tokens", len(snap.Tokens)))
	return nil
}

// RunSaveMonitor persists the store every interval when it changed. Save
// failures are logged; the in-memory state stays authoritative. It writes
// nothing on cancellation: the final save belongs to FlushAfter.
func RunSaveMonitor(ctx context.Context, store *state.Store, p fs.Persister, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	log.LogInfo("Starting save monitor", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	saved := store.Revision()
	for {
		select {
		case <-ctx.Done():
			log.LogInfo("Save monitor stopped")
			return
		case <-ticker.C:
			rev := store.Revision()
			if rev == saved {
				continue
			}
			if err := SaveState(store, p); err != nil {
				log.LogError("Failed to save state", zap.Error(err))
				continue
			}
			saved = rev
		}
	}
}

// FlushAfter waits up to wait for the monitors in wg to return, then saves
// store once. It reports whether the monitors stopped in time; the save
// happens either way.
func FlushAfter(wg *sync.WaitGroup, store *state.Store, p fs.Persister, wait time.Duration) (bool, error) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	stopped := true
	select {
	case <-done:
	case <-time.After(wait):
		stopped = false
	}
	return stopped, SaveState(store, p)
}
