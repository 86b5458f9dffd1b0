package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/greenhouse-labs/sprig/internal/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the SQLite-backed local replica.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the local database at dbPath.
// It enables WAL mode and runs pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Find returns the record with the given id. Tombstoned records are not
// returned.
func (s *SQLiteStore) Find(ctx context.Context, table types.Table, id string) (types.Record, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM records
		WHERE table_name = ? AND id = ? AND deleted = 0
	`, string(table), id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}

	var rec types.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrBadPayload, table, id)
	}
	return rec, nil
}

// Exists reports whether a live record exists.
func (s *SQLiteStore) Exists(ctx context.Context, table types.Table, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM records
		WHERE table_name = ? AND id = ? AND deleted = 0
	`, string(table), id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check record exists: %w", err)
	}
	return true, nil
}

// Upsert writes a record as a local edit and marks it dirty so the next
// push picks it up.
func (s *SQLiteStore) Upsert(ctx context.Context, table types.Table, rec types.Record) error {
	return s.writeRecord(ctx, s.db, table, rec, true)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) writeRecord(ctx context.Context, ex execer, table types.Table, rec types.Record, dirty bool) error {
	id := rec.ID()
	if id == "" {
		return fmt.Errorf("upsert into %s: record has no id", table)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s/%s: %w", table, id, err)
	}

	updatedAt := rec.UpdatedAt()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	dirtyFlag := 0
	if dirty {
		dirtyFlag = 1
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO records (table_name, id, payload, updated_at, dirty, deleted, deleted_at)
		VALUES (?, ?, ?, ?, ?, 0, NULL)
		ON CONFLICT (table_name, id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			dirty = excluded.dirty,
			deleted = 0,
			deleted_at = NULL
	`, string(table), id, string(payload), updatedAt.Format(time.RFC3339Nano), dirtyFlag)
	if err != nil {
		return fmt.Errorf("upsert record %s/%s: %w", table, id, err)
	}
	return nil
}

// Delete tombstones a record. The tombstone survives until the deletion is
// pushed, then MarkSynced purges it.
func (s *SQLiteStore) Delete(ctx context.Context, table types.Table, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET deleted = 1, dirty = 1, deleted_at = ?
		WHERE table_name = ? AND id = ?
	`, now, string(table), id)
	if err != nil {
		return fmt.Errorf("delete record %s/%s: %w", table, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record %s/%s: %w", table, id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyRemote writes pulled changes in one transaction. The conflict
// resolver has already merged local edits into these records, so dirty
// rows take the new payload but keep their dirty flag: the pending local
// edit still travels on the next push. Remote deletes of dirty rows are
// skipped outright, the local edit wins and re-creates the record.
// Returns the number of rows written or removed.
func (s *SQLiteStore) ApplyRemote(ctx context.Context, changes types.Changes) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	applied := 0
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	for table, cs := range changes {
		if cs.Empty() {
			continue
		}

		for _, rec := range append(append([]types.Record{}, cs.Created...), cs.Updated...) {
			dirty, err := rowDirty(ctx, tx, table, rec.ID())
			if err != nil {
				return 0, err
			}
			if err := s.writeRecord(ctx, tx, table, rec, dirty); err != nil {
				return 0, err
			}
			// The remote sent this record, so it knows the id: a later
			// local edit is an update, never a create.
			if _, err := tx.ExecContext(ctx, `
				UPDATE records SET last_synced_at = ? WHERE table_name = ? AND id = ?
			`, stamp, string(table), rec.ID()); err != nil {
				return 0, fmt.Errorf("stamp synced %s/%s: %w", table, rec.ID(), err)
			}
			applied++
		}

		for _, id := range cs.Deleted {
			dirty, err := rowDirty(ctx, tx, table, id)
			if err != nil {
				return 0, err
			}
			if dirty {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM records WHERE table_name = ? AND id = ?
			`, string(table), id); err != nil {
				return 0, fmt.Errorf("apply remote delete %s/%s: %w", table, id, err)
			}
			applied++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return applied, nil
}

func rowDirty(ctx context.Context, tx *sql.Tx, table types.Table, id string) (bool, error) {
	var dirty int
	err := tx.QueryRowContext(ctx, `
		SELECT dirty FROM records WHERE table_name = ? AND id = ?
	`, string(table), id).Scan(&dirty)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check dirty %s/%s: %w", table, id, err)
	}
	return dirty == 1, nil
}

// IsEmpty reports whether the store holds no records at all. Used for the
// turbo-mode cold-start decision.
func (s *SQLiteStore) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		return false, fmt.Errorf("count records: %w", err)
	}
	return count == 0, nil
}
