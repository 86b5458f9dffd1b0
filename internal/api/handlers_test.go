package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/greenhouse-labs/sprig/internal/health"
	"github.com/greenhouse-labs/sprig/internal/retry"
)

type fakeEngine struct {
	ran     bool
	syncErr error
	lastRun *health.RunRecord
	running bool

	gotForce bool
}

func (f *fakeEngine) Sync(_ context.Context, force bool) (bool, error) {
	f.gotForce = force
	return f.ran, f.syncErr
}

func (f *fakeEngine) Metrics() health.Snapshot {
	return health.Snapshot{TotalRuns: 7, SuccessfulRuns: 6, SuccessRate: 6.0 / 7.0}
}

func (f *fakeEngine) LastRun(context.Context) (health.RunRecord, bool, error) {
	if f.lastRun == nil {
		return health.RunRecord{}, false, nil
	}
	return *f.lastRun, true, nil
}

func (f *fakeEngine) Running() bool { return f.running }

type fakeRetries struct {
	stats     retry.Stats
	cancelled []string
	known     map[string]bool
}

func (f *fakeRetries) Stats() retry.Stats { return f.stats }

func (f *fakeRetries) Cancel(opID string) bool {
	f.cancelled = append(f.cancelled, opID)
	return f.known[opID]
}

func doRequest(t *testing.T, engine SyncEngine, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	return doRetryRequest(t, engine, nil, method, path)
}

func doRetryRequest(t *testing.T, engine SyncEngine, retries RetrySource, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(NewHandler(engine, retries))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := doRequest(t, &fakeEngine{running: true}, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" || body["syncing"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestMetrics(t *testing.T) {
	rec := doRequest(t, &fakeEngine{}, http.MethodGet, "/api/v1/sync/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap health.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if snap.TotalRuns != 7 || snap.SuccessfulRuns != 6 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRetries(t *testing.T) {
	t.Run("reports in-flight operations", func(t *testing.T) {
		retries := &fakeRetries{stats: retry.Stats{
			Active: 1,
			Operations: []retry.Operation{
				{ID: "pull-1", Type: retry.OpPull, Retries: 2, LastError: "pull unavailable"},
			},
		}}
		rec := doRetryRequest(t, &fakeEngine{}, retries, http.MethodGet, "/api/v1/sync/retries")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var stats retry.Stats
		if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if stats.Active != 1 || len(stats.Operations) != 1 {
			t.Fatalf("stats = %+v", stats)
		}
		if stats.Operations[0].ID != "pull-1" || stats.Operations[0].Retries != 2 {
			t.Errorf("operation = %+v", stats.Operations[0])
		}
	})

	t.Run("empty without a wired executor", func(t *testing.T) {
		rec := doRequest(t, &fakeEngine{}, http.MethodGet, "/api/v1/sync/retries")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var stats retry.Stats
		if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if stats.Active != 0 || len(stats.Operations) != 0 {
			t.Errorf("stats = %+v", stats)
		}
	})
}

func TestCancelRetry(t *testing.T) {
	retries := &fakeRetries{known: map[string]bool{"push-7": true}}

	rec := doRetryRequest(t, &fakeEngine{}, retries, http.MethodDelete, "/api/v1/sync/retries/push-7")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(retries.cancelled) != 1 || retries.cancelled[0] != "push-7" {
		t.Errorf("cancelled = %v", retries.cancelled)
	}

	rec = doRetryRequest(t, &fakeEngine{}, retries, http.MethodDelete, "/api/v1/sync/retries/ghost")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for an unknown operation", rec.Code)
	}
}

func TestLastRun(t *testing.T) {
	t.Run("no runs yet", func(t *testing.T) {
		rec := doRequest(t, &fakeEngine{}, http.MethodGet, "/api/v1/sync/last-run")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
			t.Errorf("content type = %q", ct)
		}
	})

	t.Run("with a recorded run", func(t *testing.T) {
		engine := &fakeEngine{lastRun: &health.RunRecord{
			RunID:     "01HYRUN",
			StartedAt: time.Now().UTC(),
			Pulled:    3,
			Pushed:    5,
		}}
		rec := doRequest(t, engine, http.MethodGet, "/api/v1/sync/last-run")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var run health.RunRecord
		if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if run.RunID != "01HYRUN" || run.Pushed != 5 {
			t.Errorf("run = %+v", run)
		}
	})
}

func TestTriggerSync(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		engine := &fakeEngine{ran: true}
		rec := doRequest(t, engine, http.MethodPost, "/api/v1/sync/?force=true")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if !engine.gotForce {
			t.Error("force flag not passed through")
		}
	})

	t.Run("skipped reports conflict", func(t *testing.T) {
		rec := doRequest(t, &fakeEngine{ran: false}, http.MethodPost, "/api/v1/sync/")
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("failure reports service unavailable", func(t *testing.T) {
		engine := &fakeEngine{syncErr: errors.New("remote down")}
		rec := doRequest(t, engine, http.MethodPost, "/api/v1/sync/")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		var p Problem
		if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
			t.Fatalf("decoding problem: %v", err)
		}
		if p.Type != "https://sprig.dev/errors/service-unavailable" {
			t.Errorf("problem type = %q", p.Type)
		}
	})
}
