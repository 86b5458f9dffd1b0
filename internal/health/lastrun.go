package health

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/greenhouse-labs/sprig/internal/store"
)

// RunRecord captures the outcome of one sync run for the status surface.
type RunRecord struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Forced    bool          `json:"forced"`
	Tables    []string      `json:"tables"`
	Pulled    int           `json:"pulled"`
	Pushed    int           `json:"pushed"`
	Error     string        `json:"error,omitempty"`
}

// SaveRun persists the latest run record. A successful run clears any
// stored error from earlier runs.
func SaveRun(ctx context.Context, st store.Store, rec RunRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("health: encoding run record: %w", err)
	}
	if err := st.SetLocal(ctx, store.SettingLastRun, string(raw)); err != nil {
		return err
	}
	if rec.Error == "" {
		return st.DeleteLocal(ctx, store.SettingLastError)
	}
	return st.SetLocal(ctx, store.SettingLastError, rec.Error)
}

// LastRun loads the most recent run record. The second return is false
// when no run has been recorded yet.
func LastRun(ctx context.Context, st store.Store) (RunRecord, bool, error) {
	raw, err := st.GetLocal(ctx, store.SettingLastRun)
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("health: reading run record: %w", err)
	}
	if raw == "" {
		return RunRecord{}, false, nil
	}
	var rec RunRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return RunRecord{}, false, fmt.Errorf("health: decoding run record: %w", err)
	}
	return rec, true, nil
}
