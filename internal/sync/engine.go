// Package sync drives the bidirectional reconciliation cycle between the
// local store and the remote backend: pull remote changes since the last
// checkpoint, apply them through conflict resolution, then push local
// edits outward in priority-ordered batches.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/greenhouse-labs/sprig/internal/config"
	"github.com/greenhouse-labs/sprig/internal/conflict"
	"github.com/greenhouse-labs/sprig/internal/gate"
	"github.com/greenhouse-labs/sprig/internal/health"
	"github.com/greenhouse-labs/sprig/internal/media"
	"github.com/greenhouse-labs/sprig/internal/netpolicy"
	"github.com/greenhouse-labs/sprig/internal/rpc"
	"github.com/greenhouse-labs/sprig/internal/store"
	"github.com/greenhouse-labs/sprig/internal/strains"
	"github.com/greenhouse-labs/sprig/internal/types"
)

// throttleLogEvery bounds log volume under rapid re-trigger: skipped
// attempts are counted, and only every Nth is logged.
const throttleLogEvery = 10

// cycleRetryDelay is the pause before the single full-cycle retry.
const cycleRetryDelay = 1 * time.Second

// Remote is the slice of the RPC client the engine consumes.
type Remote interface {
	Pull(ctx context.Context, req rpc.PullRequest) (*rpc.PullResponse, error)
	PullWithConflictResolution(ctx context.Context, req rpc.PullRequest) (*rpc.PullResponse, error)
	Push(ctx context.Context, req rpc.PushRequest) error
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Config   *config.Config
	Store    store.Store
	Remote   Remote
	Strains  *strains.Resolver
	Network  netpolicy.StatusProvider
	Uploader media.Uploader
	Clock    func() time.Time   // defaults to time.Now
	Sleep    func(time.Duration) // defaults to time.Sleep
}

// Engine runs sync cycles. One engine per process; a mutex serializes
// cycles and a semaphore inside the RPC client bounds outbound calls.
type Engine struct {
	cfg      *config.Config
	store    store.Store
	remote   Remote
	strains  *strains.Resolver
	network  netpolicy.StatusProvider
	uploader media.Uploader
	resolver *conflict.Resolver
	mutex    *gate.Mutex
	metrics  *health.Metrics
	now      func() time.Time
	sleep    func(time.Duration)

	// Throttle state, touched before the cycle mutex is taken; the
	// coordinator and the API trigger may call Sync concurrently.
	throttleMu gosync.Mutex
	lastRunAt  time.Time
	throttled  int
}

// NewEngine builds an Engine, restoring persisted health metrics.
func NewEngine(ctx context.Context, deps Deps) (*Engine, error) {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = time.Sleep
	}
	if deps.Uploader == nil {
		deps.Uploader = media.NoopUploader{}
	}

	metrics, err := health.Load(ctx, deps.Store)
	if err != nil {
		return nil, fmt.Errorf("sync: restoring metrics: %w", err)
	}

	return &Engine{
		cfg:      deps.Config,
		store:    deps.Store,
		remote:   deps.Remote,
		strains:  deps.Strains,
		network:  deps.Network,
		uploader: deps.Uploader,
		resolver: conflict.New(deps.Store, conflict.Options{
			MergeWindow: time.Duration(deps.Config.Sync.MergeWindow),
		}),
		mutex:   gate.NewMutex(time.Duration(deps.Config.Sync.MutexTimeout)),
		metrics: metrics,
		now:     deps.Clock,
		sleep:   deps.Sleep,
	}, nil
}

// Sync runs one cycle. The boolean reports whether a cycle actually ran:
// throttling, offline status, and a held mutex all return false without
// an error, since they are expected backpressure rather than failures.
func (e *Engine) Sync(ctx context.Context, force bool) (bool, error) {
	userID := e.cfg.Sync.UserID
	if _, err := uuid.Parse(userID); err != nil {
		slog.Warn("sync rejected: invalid user id", "component", "sync")
		return false, nil
	}

	if e.throttle(force) {
		return false, nil
	}

	status := e.network.NetworkStatus()
	if !status.Online {
		slog.Debug("sync skipped: offline", "component", "sync")
		return false, nil
	}

	syncCfg := netpolicy.ForStatus(status, force)
	if syncCfg.Skip() {
		slog.Debug("sync skipped: no tables for current network",
			"component", "sync", "network", status.Type)
		return false, nil
	}

	release, ok := e.mutex.TryAcquire()
	if !ok {
		slog.Debug("sync skipped: cycle already running", "component", "sync")
		return false, nil
	}
	defer release()

	e.throttleMu.Lock()
	e.lastRunAt = e.now()
	e.throttleMu.Unlock()
	runID := ulid.Make().String()
	start := e.now()

	slog.Info("sync cycle starting",
		"component", "sync",
		"run_id", runID,
		"forced", force,
		"network", syncCfg.NetworkType,
		"tables", len(syncCfg.Tables),
	)

	pulled, pushed, err := e.runCycle(ctx, runID, syncCfg)
	if err != nil {
		slog.Warn("sync cycle failed, retrying once",
			"component", "sync", "run_id", runID, "error", err)
		e.sleep(cycleRetryDelay)
		pulled, pushed, err = e.runCycle(ctx, runID, syncCfg)
	}

	duration := e.now().Sub(start)
	e.finishRun(ctx, runID, syncCfg, force, start, duration, pulled, pushed, err)

	if err != nil {
		return false, err
	}
	return true, nil
}

// throttle reports whether this attempt falls inside the minimum gap
// since the last cycle. Skipped attempts are counted and logged sparsely.
func (e *Engine) throttle(force bool) bool {
	e.throttleMu.Lock()
	defer e.throttleMu.Unlock()

	if !force && !e.lastRunAt.IsZero() {
		elapsed := e.now().Sub(e.lastRunAt)
		if minGap := time.Duration(e.cfg.Sync.MinInterval); elapsed < minGap {
			e.throttled++
			if e.throttled%throttleLogEvery == 1 {
				slog.Debug("sync throttled",
					"component", "sync",
					"elapsed", elapsed,
					"skipped_attempts", e.throttled,
				)
			}
			return true
		}
	}
	e.throttled = 0
	return false
}

// finishRun records the cycle's outcome in metrics and persisted
// metadata. Bookkeeping failures are logged, never escalated.
func (e *Engine) finishRun(ctx context.Context, runID string, syncCfg netpolicy.SyncConfig, force bool, start time.Time, duration time.Duration, pulled, pushed int, runErr error) {
	op := "pull"
	if pushed > pulled {
		op = "push"
	}
	e.metrics.Update(runErr == nil, duration, op)
	if err := e.metrics.Save(ctx, e.store); err != nil {
		slog.Warn("persisting metrics failed", "component", "sync", "error", err)
	}

	rec := health.RunRecord{
		RunID:     runID,
		StartedAt: start.UTC(),
		Duration:  duration,
		Forced:    force,
		Tables:    tableNames(syncCfg.Tables),
		Pulled:    pulled,
		Pushed:    pushed,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := health.SaveRun(ctx, e.store, rec); err != nil {
		slog.Warn("persisting run record failed", "component", "sync", "error", err)
	}

	e.strains.ClearCache()

	if runErr != nil {
		slog.Error("sync cycle failed",
			"component", "sync", "run_id", runID,
			"duration", duration, "error", runErr)
		return
	}
	slog.Info("sync cycle finished",
		"component", "sync", "run_id", runID,
		"duration", duration, "pulled", pulled, "pushed", pushed)
}

// runCycle performs one full pull+push attempt. The checkpoint advances
// only when the whole cycle succeeds.
func (e *Engine) runCycle(ctx context.Context, runID string, syncCfg netpolicy.SyncConfig) (pulled, pushed int, err error) {
	cp, err := store.LoadCheckpoint(ctx, e.store, e.cfg.Remote.SchemaVersion)
	if err != nil {
		return 0, 0, fmt.Errorf("loading checkpoint: %w", err)
	}

	pulled, newCp, turbo, err := e.pull(ctx, cp, syncCfg)
	if err != nil {
		return pulled, 0, fmt.Errorf("pull: %w", err)
	}

	// Nothing local can need pushing right after a cold-start bulk load.
	if !turbo {
		pushed, err = e.push(ctx, cp, syncCfg)
		if err != nil {
			return pulled, pushed, fmt.Errorf("push: %w", err)
		}
	}

	if err := store.SaveCheckpoint(ctx, e.store, newCp); err != nil {
		return pulled, pushed, fmt.Errorf("saving checkpoint: %w", err)
	}
	return pulled, pushed, nil
}

// Metrics returns a snapshot of the engine's health metrics.
func (e *Engine) Metrics() health.Snapshot { return e.metrics.Snapshot() }

// LastRun returns the persisted record of the most recent cycle.
func (e *Engine) LastRun(ctx context.Context) (health.RunRecord, bool, error) {
	return health.LastRun(ctx, e.store)
}

// Running reports whether a cycle is currently in flight.
func (e *Engine) Running() bool { return e.mutex.IsLocked() }

func tableNames(tables []types.Table) []string {
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = string(t)
	}
	return out
}
