// Package worker runs the background scheduling around the sync engine.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// Syncer is the slice of the sync engine the coordinator drives.
// The boolean reports whether a cycle actually ran.
type Syncer interface {
	Sync(ctx context.Context, force bool) (bool, error)
}

// SyncCoordinator triggers periodic sync cycles. The engine's own guards
// (throttle, network policy, mutex) decide whether a trigger becomes a
// cycle, so overlapping or ill-timed triggers are harmless.
type SyncCoordinator struct {
	engine   Syncer
	interval time.Duration
}

// NewSyncCoordinator creates a coordinator firing at the given interval.
func NewSyncCoordinator(engine Syncer, interval time.Duration) *SyncCoordinator {
	return &SyncCoordinator{engine: engine, interval: interval}
}

// Run starts the coordinator loop. It blocks until ctx is cancelled.
//
// The first cycle fires immediately: a freshly started process is the
// moment the local replica is most likely to be stale.
func (c *SyncCoordinator) Run(ctx context.Context) {
	slog.Info("sync coordinator started",
		"component", "worker",
		"worker", "sync-coordinator",
		"interval", c.interval.String(),
	)

	c.trigger(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync coordinator stopped",
				"component", "worker",
				"worker", "sync-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.trigger(ctx)
		}
	}
}

// trigger runs one scheduled cycle, continuing on failure.
func (c *SyncCoordinator) trigger(ctx context.Context) {
	start := time.Now()
	ran, err := c.engine.Sync(ctx, false)
	if err != nil {
		if ctx.Err() != nil {
			return // Graceful shutdown, don't log as error
		}
		slog.Error("scheduled sync failed",
			"component", "worker",
			"worker", "sync-coordinator",
			"error", err,
		)
		return
	}
	if !ran {
		slog.Debug("scheduled sync skipped",
			"component", "worker",
			"worker", "sync-coordinator",
		)
		return
	}
	slog.Info("scheduled sync completed",
		"component", "worker",
		"worker", "sync-coordinator",
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
