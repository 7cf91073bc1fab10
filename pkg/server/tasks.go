package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinygarden/pkg/config"
	"github.com/nicktill/tinygarden/pkg/pipeline"
	"github.com/nicktill/tinygarden/pkg/server/monitor"
	"github.com/nicktill/tinygarden/pkg/statestore"
	"github.com/nicktill/tinygarden/pkg/statestore/badger"
)

// RunPipeline runs the aggregation pipeline periodically with retry and
// exponential backoff, recording outcomes on the monitor.
func RunPipeline(p *pipeline.Pipeline, pm *monitor.PipelineMonitor, logger *zap.SugaredLogger, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.PipelineInterval)
	defer ticker.Stop()

	runWithRetry := func(ctx context.Context, isInitial bool) {
		maxRetries := 3
		baseDelay := 30 * time.Second

		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				delay := baseDelay * time.Duration(1<<(attempt-1))
				logger.Infow("retrying pipeline run",
					"delay", delay.String(), "attempt", attempt+1, "max", maxRetries+1)
				select {
				case <-time.After(delay):
				case <-stop:
					return
				}
			}

			start := time.Now()
			err := p.Run(ctx)

			if err == nil {
				pm.RecordSuccess()
				if isInitial {
					logger.Infow("initial pipeline run completed",
						"duration", time.Since(start).Round(time.Millisecond).String())
				} else {
					logger.Infow("pipeline run completed",
						"duration", time.Since(start).Round(time.Millisecond).String())
				}
				return
			}

			pm.RecordFailure(err)
			logger.Warnw("pipeline run failed",
				"attempt", attempt+1, "max", maxRetries+1, "error", err)

			if pm.ConsecutiveErrors() > 3 {
				logger.Errorw("pipeline has been failing",
					"consecutive_errors", pm.ConsecutiveErrors())
			}
		}

		logger.Warnw("pipeline run abandoned until next schedule", "attempts", maxRetries+1)
	}

	// Run once on startup so the rollups catch up before the first tick
	go func() {
		logger.Infow("running initial pipeline pass")
		runWithRetry(context.Background(), true)
	}()

	for {
		select {
		case <-ticker.C:
			logger.Infow("scheduled pipeline run started")
			runWithRetry(context.Background(), false)
		case <-stop:
			logger.Infow("stopping pipeline scheduler")
			return
		}
	}
}

// RunBadgerGC runs value log garbage collection periodically. The LSM tree
// accumulates dead versions of rewritten documents; GC keeps disk usage
// bounded.
func RunBadgerGC(store statestore.Store, logger *zap.SugaredLogger, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	badgerStore, ok := store.(*badger.Store)
	if !ok {
		logger.Infow("statestore is not badger, skipping GC")
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	logger.Infow("badger GC scheduler started", "interval", config.BadgerGCInterval.String())

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			// An error just means nothing needed rewriting
			if err := badgerStore.RunGC(0.5); err != nil {
				logger.Debugw("badger GC completed, no rewrite needed",
					"duration", time.Since(start).Round(time.Millisecond).String())
			} else {
				logger.Infow("badger GC completed, disk space reclaimed",
					"duration", time.Since(start).Round(time.Millisecond).String())
			}
		case <-stop:
			logger.Infow("stopping badger GC scheduler")
			return
		}
	}
}
