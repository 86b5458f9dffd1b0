package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/greenhouse-labs/sprig/internal/types"
)

// Local settings keys used by the sync engine.
const (
	SettingCheckpoint   = "sync_checkpoint"
	SettingLastRun      = "sync_last_run"
	SettingLastError    = "sync_last_error"
	SettingHealthStats  = "sync_health_stats"
	SettingTurboApplied = "sync_turbo_applied"
)

// GetLocal returns the value for key, or "" when the key is absent.
func (s *SQLiteStore) GetLocal(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM local_settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get local setting %q: %w", key, err)
	}
	return value, nil
}

// SetLocal writes a key-value setting.
func (s *SQLiteStore) SetLocal(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO local_settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set local setting %q: %w", key, err)
	}
	return nil
}

// DeleteLocal removes a setting. Deleting an absent key is not an error.
func (s *SQLiteStore) DeleteLocal(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM local_settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete local setting %q: %w", key, err)
	}
	return nil
}

// LoadCheckpoint reads the sync checkpoint. A store that has never synced
// returns the zero checkpoint.
func LoadCheckpoint(ctx context.Context, s Store, schemaVersion int) (types.Checkpoint, error) {
	raw, err := s.GetLocal(ctx, SettingCheckpoint)
	if err != nil {
		return types.Checkpoint{}, err
	}
	if raw == "" {
		return types.Checkpoint{SchemaVersion: schemaVersion}, nil
	}

	var cp types.Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return types.Checkpoint{}, fmt.Errorf("parse checkpoint: %w", err)
	}
	return cp, nil
}

// SaveCheckpoint persists the checkpoint after a fully successful cycle.
func SaveCheckpoint(ctx context.Context, s Store, cp types.Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return s.SetLocal(ctx, SettingCheckpoint, string(raw))
}
