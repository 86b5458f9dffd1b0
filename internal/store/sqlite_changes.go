package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/greenhouse-labs/sprig/internal/types"
)

// ChangesSince builds the per-table change sets of local edits pending
// push. A dirty record the remote has never seen (no last_synced_at
// stamp) counts as created; one it has counts as updated. Tombstoned rows
// contribute their ids to the deleted list.
func (s *SQLiteStore) ChangesSince(ctx context.Context, cp types.Checkpoint) (types.Changes, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name, id, payload, deleted, last_synced_at FROM records
		WHERE dirty = 1
		ORDER BY table_name, updated_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query dirty records: %w", err)
	}
	defer rows.Close()

	changes := make(types.Changes)
	for rows.Next() {
		var tableName, id, payload string
		var deleted int
		var lastSynced sql.NullString
		if err := rows.Scan(&tableName, &id, &payload, &deleted, &lastSynced); err != nil {
			return nil, fmt.Errorf("scan dirty record: %w", err)
		}

		table := types.Table(tableName)
		cs := changes[table]
		if cs == nil {
			cs = &types.ChangeSet{}
			changes[table] = cs
		}

		if deleted == 1 {
			cs.Deleted = append(cs.Deleted, id)
			continue
		}

		var rec types.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			slog.Warn("skipping record with unreadable payload",
				"component", "store",
				"table", tableName,
				"id", id,
			)
			continue
		}

		if lastSynced.String == "" {
			cs.Created = append(cs.Created, rec)
		} else {
			cs.Updated = append(cs.Updated, rec)
		}
	}
	return changes, rows.Err()
}

// MarkSynced clears dirty flags for pushed records, stamps their
// last_synced_at column, and purges pushed tombstones.
func (s *SQLiteStore) MarkSynced(ctx context.Context, changes types.Changes, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stamp := at.UTC().Format(time.RFC3339Nano)
	for table, cs := range changes {
		for _, rec := range append(append([]types.Record{}, cs.Created...), cs.Updated...) {
			if _, err := tx.ExecContext(ctx, `
				UPDATE records SET dirty = 0, last_synced_at = ?
				WHERE table_name = ? AND id = ?
			`, stamp, string(table), rec.ID()); err != nil {
				return fmt.Errorf("mark synced %s/%s: %w", table, rec.ID(), err)
			}
		}
		for _, id := range cs.Deleted {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM records WHERE table_name = ? AND id = ? AND deleted = 1
			`, string(table), id); err != nil {
				return fmt.Errorf("purge tombstone %s/%s: %w", table, id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
