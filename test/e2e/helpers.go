// Package e2e exercises the full sync stack over HTTP: a real SQLite
// store, the real RPC client behind its semaphore and retry executor,
// and the engine, against a fake backend speaking the Supabase RPC
// surface.
package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/greenhouse-labs/sprig/internal/config"
	"github.com/greenhouse-labs/sprig/internal/gate"
	"github.com/greenhouse-labs/sprig/internal/media"
	"github.com/greenhouse-labs/sprig/internal/netpolicy"
	"github.com/greenhouse-labs/sprig/internal/retry"
	"github.com/greenhouse-labs/sprig/internal/rpc"
	"github.com/greenhouse-labs/sprig/internal/store"
	"github.com/greenhouse-labs/sprig/internal/strains"
	syncengine "github.com/greenhouse-labs/sprig/internal/sync"
	"github.com/greenhouse-labs/sprig/internal/types"
)

const testUserID = "0b84dd5a-68e2-4c33-8f1e-2b8a6f1c9d07"

// instantClock makes retry backoff free so failure-path tests run fast.
type instantClock struct{}

func (instantClock) Now() time.Time { return time.Now() }

func (instantClock) Sleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// pushedBatch is one sync_push call as seen by the backend.
type pushedBatch struct {
	Table   types.Table
	Changes *types.ChangeSet
	Request rpc.PushRequest
}

// backend is a fake Supabase RPC endpoint. Tests queue pull responses
// and inspect what was pushed.
type backend struct {
	mu sync.Mutex

	pullChanges   types.Changes // served on structured pulls
	pullTimestamp int64
	turboJSON     string // served when use_turbo is requested

	pushed      []pushedBatch
	strains     map[string]types.Record
	pullCalls   int
	turboCalls  int
	failPushes  int // fail this many sync_push calls with 503
	noConflict  bool // 404 sync_pull_with_conflict_resolution (PGRST202)
	lastPullReq rpc.PullRequest

	srv *httptest.Server
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{strains: make(map[string]types.Record)}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) URL() string { return b.srv.URL }

func (b *backend) handle(w http.ResponseWriter, r *http.Request) {
	fn := strings.TrimPrefix(r.URL.Path, "/rest/v1/rpc/")

	b.mu.Lock()
	defer b.mu.Unlock()

	switch fn {
	case "sync_pull", "sync_pull_with_conflict_resolution":
		if fn == "sync_pull_with_conflict_resolution" && b.noConflict {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{
				"code":    "PGRST202",
				"message": "Could not find the function public.sync_pull_with_conflict_resolution",
			})
			return
		}
		var req rpc.PullRequest
		json.NewDecoder(r.Body).Decode(&req)
		b.lastPullReq = req
		b.pullCalls++

		if req.UseTurbo && b.turboJSON != "" {
			b.turboCalls++
			json.NewEncoder(w).Encode(map[string]any{"syncJson": b.turboJSON})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"changes":   b.pullChanges,
			"timestamp": b.pullTimestamp,
		})

	case "sync_push":
		if b.failPushes > 0 {
			b.failPushes--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req rpc.PushRequest
		json.NewDecoder(r.Body).Decode(&req)
		for table, cs := range req.Changes {
			b.pushed = append(b.pushed, pushedBatch{Table: table, Changes: cs, Request: req})
		}
		w.WriteHeader(http.StatusOK)

	case "strain_exists":
		var args map[string]string
		json.NewDecoder(r.Body).Decode(&args)
		_, ok := b.strains[args["strain_id"]]
		json.NewEncoder(w).Encode(ok)

	case "upsert_strain":
		var args map[string]any
		json.NewDecoder(r.Body).Decode(&args)
		if data, ok := args["strain_data"].(map[string]any); ok {
			rec := types.Record(data)
			b.strains[rec.ID()] = rec
		}
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (b *backend) pushedTo(table types.Table) []pushedBatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []pushedBatch
	for _, p := range b.pushed {
		if p.Table == table {
			out = append(out, p)
		}
	}
	return out
}

// env is one fully wired client: store, RPC client, engine.
type env struct {
	Store    store.Store
	Engine   *syncengine.Engine
	Executor *retry.Executor
	Backend  *backend
	Now      time.Time // advanced by Advance to defeat throttling
	nowMu    sync.Mutex
}

func newEnv(t *testing.T, b *backend) *env {
	t.Helper()

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sprig.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Remote.URL = b.URL()
	cfg.Remote.APIKey = "e2e-key"
	cfg.Remote.SchemaVersion = 1
	cfg.Remote.Timeout = config.Duration(5 * time.Second)
	cfg.Sync.UserID = testUserID
	cfg.Sync.MinInterval = config.Duration(30 * time.Second)
	cfg.Sync.MergeWindow = config.Duration(10 * time.Minute)
	cfg.Sync.MutexTimeout = config.Duration(30 * time.Second)
	cfg.Sync.ConcurrentCalls = 5

	sem := gate.NewSemaphore(cfg.Sync.ConcurrentCalls)
	exec := retry.NewExecutorWithClock(retry.Config{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
		Timeout:    time.Minute,
	}, instantClock{})
	client := rpc.New(cfg.Remote.URL, cfg.Remote.APIKey, 5*time.Second, sem, exec)

	e := &env{Store: db, Executor: exec, Backend: b, Now: time.Now()}
	engine, err := syncengine.NewEngine(context.Background(), syncengine.Deps{
		Config:   cfg,
		Store:    db,
		Remote:   client,
		Strains:  strains.New(client, db),
		Network:  netpolicy.StaticProvider{Status: netpolicy.Status{Online: true, Type: netpolicy.ConnectionWifi}},
		Uploader: media.NoopUploader{},
		Clock:    e.now,
		Sleep:    func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	e.Engine = engine
	return e
}

func (e *env) now() time.Time {
	e.nowMu.Lock()
	defer e.nowMu.Unlock()
	return e.Now
}

// Advance moves the engine's clock past the throttle window.
func (e *env) Advance(d time.Duration) {
	e.nowMu.Lock()
	e.Now = e.Now.Add(d)
	e.nowMu.Unlock()
}

// syncOnce runs a cycle and fails the test if it was skipped or errored.
func (e *env) syncOnce(t *testing.T) {
	t.Helper()
	ran, err := e.Engine.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !ran {
		t.Fatal("sync was skipped")
	}
}
