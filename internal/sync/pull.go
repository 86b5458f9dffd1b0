package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/greenhouse-labs/sprig/internal/netpolicy"
	"github.com/greenhouse-labs/sprig/internal/rpc"
	"github.com/greenhouse-labs/sprig/internal/store"
	"github.com/greenhouse-labs/sprig/internal/types"
	"github.com/greenhouse-labs/sprig/internal/validate"
)

// pull fetches remote changes since the checkpoint, reconciles them
// against local state, and applies them. Returns the number of applied
// changes, the checkpoint to save on full-cycle success, and whether the
// turbo path ran.
func (e *Engine) pull(ctx context.Context, cp types.Checkpoint, syncCfg netpolicy.SyncConfig) (int, types.Checkpoint, bool, error) {
	req := rpc.PullRequest{
		SchemaVersion: e.cfg.Remote.SchemaVersion,
		UserID:        e.cfg.Sync.UserID,
		NetworkType:   string(syncCfg.NetworkType),
		Tables:        syncCfg.Tables,
		IncludeMedia:  syncCfg.IncludeMedia,
	}
	if !cp.Zero() {
		req.LastPulledAt = cp.LastPulledAt.UnixMilli()
	}

	if turbo, err := e.turboEligible(ctx, cp); err != nil {
		return 0, cp, false, err
	} else if turbo {
		req.UseTurbo = true
		resp, err := e.remote.Pull(ctx, req)
		if err != nil {
			return 0, cp, false, err
		}
		if resp.SyncJSON != "" {
			applied, ts, err := e.applyTurbo(ctx, resp.SyncJSON)
			if err != nil {
				return 0, cp, false, err
			}
			if err := e.store.SetLocal(ctx, store.SettingTurboApplied, "1"); err != nil {
				return applied, cp, true, err
			}
			return applied, e.checkpointAt(ts), true, nil
		}
		// Backend ignored the turbo hint; fall through to the structured
		// path with the response we already hold.
		applied, err := e.applyStructured(ctx, resp, syncCfg)
		return applied, e.checkpointAt(resp.Timestamp), false, err
	}

	resp, err := e.remote.PullWithConflictResolution(ctx, req)
	if err != nil {
		return 0, cp, false, err
	}
	applied, err := e.applyStructured(ctx, resp, syncCfg)
	return applied, e.checkpointAt(resp.Timestamp), false, err
}

// turboEligible reports whether cold-start bulk load applies: no
// checkpoint, an empty store, and no earlier turbo load on record.
func (e *Engine) turboEligible(ctx context.Context, cp types.Checkpoint) (bool, error) {
	if !cp.Zero() {
		return false, nil
	}
	applied, err := e.store.GetLocal(ctx, store.SettingTurboApplied)
	if err != nil {
		return false, err
	}
	if applied != "" {
		return false, nil
	}
	empty, err := e.store.IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	return empty, nil
}

// applyStructured reconciles and applies a structured pull response.
// Every configured table gets a change set, so tables with no remote
// changes still pass through reclassification well-formed.
func (e *Engine) applyStructured(ctx context.Context, resp *rpc.PullResponse, syncCfg netpolicy.SyncConfig) (int, error) {
	cleaned := make(types.Changes, len(syncCfg.Tables))

	for _, table := range syncCfg.Tables {
		cs := resp.Changes[table]
		if cs == nil {
			cs = &types.ChangeSet{}
		}

		normalized := &types.ChangeSet{Deleted: cs.Deleted}
		normalized.Created = e.cleanIncoming(table, cs.Created)
		normalized.Updated = e.cleanIncoming(table, cs.Updated)

		resolved, err := e.resolver.HandleTable(ctx, table, normalized)
		if err != nil {
			return 0, fmt.Errorf("reconciling %s: %w", table, err)
		}
		cleaned[table] = resolved
	}

	applied, err := e.store.ApplyRemote(ctx, cleaned)
	if err != nil {
		return 0, fmt.Errorf("applying remote changes: %w", err)
	}
	return applied, nil
}

// cleanIncoming converts pulled records to the local shape and drops the
// ones that fail validation, so one malformed record never blocks its
// table.
func (e *Engine) cleanIncoming(table types.Table, recs []types.Record) []types.Record {
	if len(recs) == 0 {
		return nil
	}
	out := make([]types.Record, 0, len(recs))
	for _, rec := range recs {
		local := toLocalShape(rec)
		switch res := validate.Check(local, table); res.Kind {
		case validate.KindOk:
			out = append(out, res.Record)
		case validate.KindSkip:
			slog.Debug("pulled record skipped",
				"component", "sync", "table", table, "reason", res.Reason)
		case validate.KindFatal:
			slog.Warn("malformed pulled record dropped",
				"component", "sync", "table", table, "error", res.Err)
		}
	}
	return out
}

// toLocalShape renames wire fields to their local names and strips any
// bookkeeping fields a misbehaving backend might echo back.
func toLocalShape(rec types.Record) types.Record {
	out := make(types.Record, len(rec))
	for k, v := range rec {
		if types.IsBookkeeping(k) {
			continue
		}
		out[types.ToLocalName(k)] = v
	}
	return out
}

// checkpointAt builds the post-cycle checkpoint from the backend's pull
// timestamp (epoch milliseconds), falling back to local time when the
// backend omits it.
func (e *Engine) checkpointAt(ts int64) types.Checkpoint {
	at := e.now().UTC()
	if ts > 0 {
		at = time.UnixMilli(ts).UTC()
	}
	return types.Checkpoint{LastPulledAt: at, SchemaVersion: e.cfg.Remote.SchemaVersion}
}
