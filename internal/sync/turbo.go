package sync

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/greenhouse-labs/sprig/internal/types"
)

// applyTurbo loads a cold-start bulk payload. The blob is carved up
// lazily with gjson instead of a full decode, and the structured
// reconciliation pipeline is bypassed: the store is known-empty, so there
// is nothing to reconcile against. Records still need an id to land.
func (e *Engine) applyTurbo(ctx context.Context, raw string) (int, int64, error) {
	if !gjson.Valid(raw) {
		return 0, 0, fmt.Errorf("turbo payload is not valid JSON")
	}
	parsed := gjson.Parse(raw)

	changes := make(types.Changes)
	parsed.Get("changes").ForEach(func(table, cs gjson.Result) bool {
		set := &types.ChangeSet{}
		set.Created = turboRecords(cs.Get("created"))
		set.Updated = turboRecords(cs.Get("updated"))
		cs.Get("deleted").ForEach(func(_, id gjson.Result) bool {
			if s := id.String(); s != "" {
				set.Deleted = append(set.Deleted, s)
			}
			return true
		})
		if !set.Empty() {
			changes[types.Table(table.String())] = set
		}
		return true
	})

	applied, err := e.store.ApplyRemote(ctx, changes)
	if err != nil {
		return 0, 0, fmt.Errorf("applying turbo payload: %w", err)
	}
	return applied, parsed.Get("timestamp").Int(), nil
}

func turboRecords(list gjson.Result) []types.Record {
	var out []types.Record
	list.ForEach(func(_, item gjson.Result) bool {
		m, ok := item.Value().(map[string]any)
		if !ok {
			return true
		}
		rec := toLocalShape(types.Record(m))
		if rec.ID() != "" {
			out = append(out, rec)
		}
		return true
	})
	return out
}
