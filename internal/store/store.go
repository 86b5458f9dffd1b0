// Package store implements the local embedded datastore backing the sync
// engine: a SQLite replica of the synced tables plus a key-value settings
// table for checkpoints and run metadata.
package store

import (
	"context"
	"time"

	"github.com/greenhouse-labs/sprig/internal/types"
)

// Store defines the local-store operations the sync engine consumes.
type Store interface {
	// Find returns the record with the given id, or ErrNotFound.
	Find(ctx context.Context, table types.Table, id string) (types.Record, error)

	// Exists reports whether a live (non-deleted) record exists.
	Exists(ctx context.Context, table types.Table, id string) (bool, error)

	// Upsert writes a record as a local edit, marking it dirty.
	Upsert(ctx context.Context, table types.Table, rec types.Record) error

	// Delete tombstones a record as a local edit.
	Delete(ctx context.Context, table types.Table, id string) error

	// ApplyRemote writes pulled changes transactionally without marking
	// them dirty. Records that are locally dirty are left untouched; the
	// conflict resolver decides their fate before this is called.
	ApplyRemote(ctx context.Context, changes types.Changes) (int, error)

	// ChangesSince builds the per-table change sets of local edits made
	// since the checkpoint.
	ChangesSince(ctx context.Context, cp types.Checkpoint) (types.Changes, error)

	// MarkSynced clears dirty flags and purges tombstones for the records
	// named in changes, stamping lastSyncedAt.
	MarkSynced(ctx context.Context, changes types.Changes, at time.Time) error

	// IsEmpty reports whether the store holds no records at all.
	IsEmpty(ctx context.Context) (bool, error)

	// GetLocal and SetLocal access the key-value settings table.
	GetLocal(ctx context.Context, key string) (string, error)
	SetLocal(ctx context.Context, key, value string) error
	DeleteLocal(ctx context.Context, key string) error

	Close() error
}
