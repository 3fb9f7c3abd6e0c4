package logger

import (
	"context"
	"sync"
	"time"
)

// Per-component warn/error counters, drained into a periodic health report.
var (
	reportMu    sync.Mutex
	warnCounts  = map[string]int64{}
	errorCounts = map[string]int64{}
	reportOnce  sync.Once
)

func recordWarn(component string) {
	reportMu.Lock()
	warnCounts[component]++
	reportMu.Unlock()
}

func recordError(component string) {
	reportMu.Lock()
	errorCounts[component]++
	reportMu.Unlock()
}

// StartReport logs a component-health summary on the given interval until the
// context is cancelled. Starting it twice is a no-op.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	reportOnce.Do(func() {
		ticker := time.NewTicker(interval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					logReport(log)
				}
			}
		}()
	})
}

func logReport(log *Log) {
	reportMu.Lock()
	warns := make(Fields, len(warnCounts))
	errs := make(Fields, len(errorCounts))
	for c, n := range warnCounts {
		warns[c] = n
		delete(warnCounts, c)
	}
	for c, n := range errorCounts {
		errs[c] = n
		delete(errorCounts, c)
	}
	reportMu.Unlock()

	log.WithComponent("report").WithFields(Fields{
		"warnings": warns,
		"errors":   errs,
	}).Info("component health report")
}
