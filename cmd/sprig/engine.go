package main

import (
	"context"
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
)

// buildEngine wires the full sync stack: RPC client behind the semaphore
// and retry executor, strain resolver, media uploader, and the engine
// itself. The store is owned by the caller. The executor is handed back
// so the API can report and cancel in-flight remote calls.
func buildEngine(ctx context.Context, cfg *config.Config, db store.Store) (*syncengine.Engine, *retry.Executor, error) {
	sem := gate.NewSemaphore(cfg.Sync.ConcurrentCalls)
	exec := retry.NewExecutor(retry.Config{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  time.Duration(cfg.Retry.BaseDelay),
		MaxDelay:   time.Duration(cfg.Retry.MaxDelay),
		Timeout:    time.Duration(cfg.Retry.Timeout),
	})

	client := rpc.New(cfg.Remote.URL, cfg.Remote.APIKey, time.Duration(cfg.Remote.Timeout), sem, exec)

	uploader, err := media.NewUploader(cfg.Media)
	if err != nil {
		return nil, nil, err
	}

	engine, err := syncengine.NewEngine(ctx, syncengine.Deps{
		Config:   cfg,
		Store:    db,
		Remote:   client,
		Strains:  strains.New(client, db),
		Network:  networkProvider(),
		Uploader: uploader,
	})
	if err != nil {
		return nil, nil, err
	}
	return engine, exec, nil
}

// networkProvider returns the connectivity source for this process.
// The daemon has no OS reachability hooks of its own; host integrations
// embed the engine and supply real status. Standalone, we assume an
// online unmetered link and let the remote's errors drive backoff.
func networkProvider() netpolicy.StatusProvider {
	return netpolicy.StaticProvider{Status: netpolicy.Status{
		Online: true,
		Type:   netpolicy.ConnectionWifi,
	}}
}
