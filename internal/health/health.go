// Package health tracks sync reliability over time: success rate, a
// smoothed duration estimate, and the slowest operation seen. The numbers
// survive restarts through the store's local settings.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/greenhouse-labs/sprig/internal/store"
)

// Alpha is the smoothing factor of the exponential moving average over
// run durations. Higher values weigh recent runs more.
const Alpha = 0.3

// Snapshot is a point-in-time copy of the metrics, safe to serve over the
// API and to persist.
type Snapshot struct {
	TotalRuns           int           `json:"total_runs"`
	SuccessfulRuns      int           `json:"successful_runs"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	SuccessRate         float64       `json:"success_rate"`
	AvgDuration         time.Duration `json:"avg_duration_ns"`
	SlowestOperation    string        `json:"slowest_operation,omitempty"`
	SlowestDuration     time.Duration `json:"slowest_duration_ns"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastSuccessAt       time.Time     `json:"last_success_at,omitempty"`
}

// Metrics accumulates per-run health data. Safe for concurrent use.
type Metrics struct {
	mu   sync.Mutex
	snap Snapshot
	now  func() time.Time
}

// New returns empty metrics.
func New() *Metrics {
	return &Metrics{now: time.Now}
}

// Update folds one finished run into the metrics. op names the dominant
// operation of the run (for the slowest-operation record).
func (m *Metrics) Update(success bool, duration time.Duration, op string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &m.snap
	s.TotalRuns++
	s.LastRunAt = m.now().UTC()
	if success {
		s.SuccessfulRuns++
		s.ConsecutiveFailures = 0
		s.LastSuccessAt = s.LastRunAt
	} else {
		s.ConsecutiveFailures++
	}
	s.SuccessRate = float64(s.SuccessfulRuns) / float64(s.TotalRuns)

	if s.AvgDuration == 0 {
		s.AvgDuration = duration
	} else {
		s.AvgDuration = time.Duration(Alpha*float64(duration) + (1-Alpha)*float64(s.AvgDuration))
	}

	if duration > s.SlowestDuration {
		s.SlowestDuration = duration
		s.SlowestOperation = op
	}
}

// Snapshot returns a copy of the current metrics.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Save persists the metrics into the store's local settings.
func (m *Metrics) Save(ctx context.Context, st store.Store) error {
	raw, err := json.Marshal(m.Snapshot())
	if err != nil {
		return fmt.Errorf("health: encoding snapshot: %w", err)
	}
	return st.SetLocal(ctx, store.SettingHealthStats, string(raw))
}

// Load restores persisted metrics, if any. Missing or corrupt state
// starts fresh rather than failing.
func Load(ctx context.Context, st store.Store) (*Metrics, error) {
	m := New()
	raw, err := st.GetLocal(ctx, store.SettingHealthStats)
	if err != nil {
		return nil, fmt.Errorf("health: reading persisted stats: %w", err)
	}
	if raw == "" {
		return m, nil
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return New(), nil
	}
	m.snap = snap
	return m, nil
}
