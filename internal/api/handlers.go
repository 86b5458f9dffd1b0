// Package api exposes the localhost status and control surface of the
// sync engine: health, metrics, last-run metadata, and a manual sync
// trigger for the UI layer.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/greenhouse-labs/sprig/internal/health"
	"github.com/greenhouse-labs/sprig/internal/retry"
)

// SyncEngine is the slice of the engine the handlers consume.
type SyncEngine interface {
	Sync(ctx context.Context, force bool) (bool, error)
	Metrics() health.Snapshot
	LastRun(ctx context.Context) (health.RunRecord, bool, error)
	Running() bool
}

// RetrySource reports and cancels the in-flight remote operations of
// the retry executor.
type RetrySource interface {
	Stats() retry.Stats
	Cancel(opID string) bool
}

// Handler carries the API's dependencies.
type Handler struct {
	engine  SyncEngine
	retries RetrySource
}

// NewHandler creates a Handler around the engine. retries may be nil
// when no executor is wired; the retries endpoint then reports an empty
// snapshot.
func NewHandler(engine SyncEngine, retries RetrySource) *Handler {
	return &Handler{engine: engine, retries: retries}
}

// Health responds to liveness checks.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"syncing": h.engine.Running(),
	})
}

// Metrics returns the engine's health metrics snapshot.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Metrics())
}

// Retries returns a snapshot of remote calls currently inside the retry
// executor, with their attempt counts and last errors.
func (h *Handler) Retries(w http.ResponseWriter, r *http.Request) {
	stats := retry.Stats{Operations: []retry.Operation{}}
	if h.retries != nil {
		stats = h.retries.Stats()
	}
	writeJSON(w, http.StatusOK, stats)
}

// CancelRetry aborts one in-flight remote operation by id. The next
// attempt sees a cancelled context and the sync cycle fails fast.
func (h *Handler) CancelRetry(w http.ResponseWriter, r *http.Request) {
	opID := chi.URLParam(r, "id")
	if h.retries == nil || !h.retries.Cancel(opID) {
		WriteProblem(w, r, http.StatusNotFound, "No such in-flight operation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": opID})
}

// LastRun returns the persisted record of the most recent sync cycle.
func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	rec, found, err := h.engine.LastRun(r.Context())
	if err != nil {
		slog.Error("reading last run failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !found {
		WriteProblem(w, r, http.StatusNotFound, "No sync has run yet")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// TriggerSync runs one sync cycle. `?force=true` bypasses the engine's
// throttle and network restrictions. A skipped cycle (throttled, offline,
// already running) is reported as 409, not as an error.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	ran, err := h.engine.Sync(r.Context(), force)
	if err != nil {
		slog.Error("triggered sync failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Sync failed; see last-run for details")
		return
	}
	if !ran {
		WriteProblem(w, r, http.StatusConflict, "Sync skipped (throttled, offline, or already running)")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synced": true, "forced": force})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
