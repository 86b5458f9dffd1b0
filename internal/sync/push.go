package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/greenhouse-labs/sprig/internal/conflict"
	"github.com/greenhouse-labs/sprig/internal/media"
	"github.com/greenhouse-labs/sprig/internal/netpolicy"
	"github.com/greenhouse-labs/sprig/internal/rpc"
	"github.com/greenhouse-labs/sprig/internal/sanitize"
	"github.com/greenhouse-labs/sprig/internal/types"
	"github.com/greenhouse-labs/sprig/internal/validate"
)

// push sends local edits outward, one table at a time in priority order,
// splitting oversized batches so a single huge table never times out the
// whole push. Returns the number of pushed changes.
func (e *Engine) push(ctx context.Context, cp types.Checkpoint, syncCfg netpolicy.SyncConfig) (int, error) {
	changes, err := e.store.ChangesSince(ctx, cp)
	if err != nil {
		return 0, fmt.Errorf("collecting local changes: %w", err)
	}
	if changes.Empty() {
		return 0, nil
	}

	var lastPulledAt int64
	if !cp.Zero() {
		lastPulledAt = cp.LastPulledAt.UnixMilli()
	}

	pushed := 0
	synced := make(types.Changes)

	for _, table := range orderForPush(syncCfg.Tables) {
		cs := changes[table]
		if cs.Empty() {
			continue
		}

		prepared := &types.ChangeSet{Deleted: cs.Deleted}
		prepared.Created = e.prepareOutgoing(ctx, table, cs.Created, syncCfg)
		prepared.Updated = e.prepareOutgoing(ctx, table, cs.Updated, syncCfg)

		// Records dropped during preparation stay dirty so they retry once
		// the blocker clears; only what actually travels is marked synced.
		if prepared.Empty() {
			continue
		}

		for _, batch := range splitBatches(prepared, syncCfg.BatchSize) {
			req := rpc.PushRequest{
				Changes:      types.Changes{table: batch},
				LastPulledAt: lastPulledAt,
				UserID:       e.cfg.Sync.UserID,
				NetworkType:  string(syncCfg.NetworkType),
			}
			if err := e.remote.Push(ctx, req); err != nil {
				return pushed, fmt.Errorf("pushing %s: %w", table, err)
			}
			pushed += batch.Count()
		}
		synced[table] = prepared
	}

	if len(synced) > 0 {
		if err := e.store.MarkSynced(ctx, synced, e.now().UTC()); err != nil {
			return pushed, fmt.Errorf("marking records synced: %w", err)
		}
	}
	return pushed, nil
}

// prepareOutgoing runs one table's outgoing records through validation,
// strain resolution (plants only), media offload, and sanitization.
// Malformed records are dropped with a warning rather than aborting the
// table.
func (e *Engine) prepareOutgoing(ctx context.Context, table types.Table, recs []types.Record, syncCfg netpolicy.SyncConfig) []types.Record {
	if len(recs) == 0 {
		return nil
	}
	out := make([]types.Record, 0, len(recs))

	for _, rec := range recs {
		if table == types.TablePlants {
			prepared, ok := e.preparePlant(ctx, rec)
			if !ok {
				continue
			}
			rec = prepared
		} else if res := validate.Check(rec, table); res.Kind != validate.KindOk {
			e.logDropped(table, rec, res)
			continue
		}

		rec = e.stripMedia(ctx, table, rec, syncCfg)

		wire, err := sanitize.Record(rec, table)
		if err != nil {
			slog.Warn("outgoing record failed sanitization, dropped",
				"component", "sync", "table", table, "id", rec.ID(), "error", err)
			continue
		}
		out = append(out, wire)
	}
	return out
}

// preparePlant reconciles a plant's strain linkage, then ensures the
// strain exists remotely before the plant itself travels. The validator
// attaches the strain object from the local catalog when the record only
// carries the foreign key, so the remote upsert runs for that case too.
func (e *Engine) preparePlant(ctx context.Context, rec types.Record) (types.Record, bool) {
	res := validate.CheckPlant(ctx, rec, e.strains)
	if res.Kind != validate.KindOk {
		e.logDropped(types.TablePlants, rec, res)
		return nil, false
	}
	out := res.Record

	if obj, ok := out["strainObj"].(map[string]any); ok {
		if id := e.strains.EnsureExists(ctx, types.Record(obj)); id == "" {
			// Soft failure: the plant still pushes if it carries a name.
			slog.Warn("strain push failed, plant falls back to its strain name",
				"component", "sync", "plant_id", out.ID())
		}
	}

	// The embedded strain object is local-only; it never crosses the wire.
	delete(out, "strainObj")
	return out, true
}

func (e *Engine) logDropped(table types.Table, rec types.Record, res validate.Result) {
	if res.Kind == validate.KindSkip {
		slog.Debug("outgoing record skipped",
			"component", "sync", "table", table, "id", rec.ID(), "reason", res.Reason)
		return
	}
	slog.Warn("malformed outgoing record dropped",
		"component", "sync", "table", table, "id", rec.ID(), "error", res.Err)
}

// stripMedia offloads inline media to object storage when configured, or
// strips it outright when the network policy disables media.
func (e *Engine) stripMedia(ctx context.Context, table types.Table, rec types.Record, syncCfg netpolicy.SyncConfig) types.Record {
	if !syncCfg.IncludeMedia {
		return media.Strip(ctx, media.NoopUploader{}, table, rec)
	}
	if _, noop := e.uploader.(media.NoopUploader); noop {
		// No storage configured and media allowed: leave payloads inline.
		return rec
	}
	return media.Strip(ctx, e.uploader, table, rec)
}

// splitBatches slices a change set into push-sized pieces. The first
// batch carries all deletions and updates plus the head of the created
// slice; later batches carry only their creations.
func splitBatches(cs *types.ChangeSet, batchSize int) []*types.ChangeSet {
	if batchSize <= 0 || len(cs.Created) <= batchSize {
		return []*types.ChangeSet{cs}
	}

	first := &types.ChangeSet{
		Created: cs.Created[:batchSize],
		Updated: cs.Updated,
		Deleted: cs.Deleted,
	}
	batches := []*types.ChangeSet{first}
	for i := batchSize; i < len(cs.Created); i += batchSize {
		end := i + batchSize
		if end > len(cs.Created) {
			end = len(cs.Created)
		}
		batches = append(batches, &types.ChangeSet{Created: cs.Created[i:end]})
	}
	return batches
}

// orderForPush sorts tables so referenced tables travel before their
// dependents.
func orderForPush(tables []types.Table) []types.Table {
	out := make([]types.Table, len(tables))
	copy(out, tables)
	sort.SliceStable(out, func(i, j int) bool {
		return conflict.PriorityFor(out[i]) > conflict.PriorityFor(out[j])
	})
	return out
}
