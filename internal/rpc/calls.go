package rpc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/greenhouse-labs/sprig/internal/retry"
	"github.com/greenhouse-labs/sprig/internal/types"
)

// RPC function names exposed by the backend.
const (
	fnPull         = "sync_pull"
	fnPullConflict = "sync_pull_with_conflict_resolution"
	fnPush         = "sync_push"
	fnStrainExists = "strain_exists"
	fnUpsertStrain = "upsert_strain"
)

// PullRequest carries the arguments of a pull call.
type PullRequest struct {
	LastPulledAt  int64         `json:"last_pulled_at"`
	SchemaVersion int           `json:"schema_version"`
	UserID        string        `json:"user_id"`
	UseTurbo      bool          `json:"use_turbo"`
	NetworkType   string        `json:"network_type"`
	Tables        []types.Table `json:"tables_to_sync"`
	IncludeMedia  bool          `json:"include_media"`
}

// PullResponse is the backend's answer to a pull. Regular pulls fill
// Changes and Timestamp; turbo pulls return the raw payload in SyncJSON
// for the caller to carve up without a full decode. The conflict-aware
// function additionally reports the server-side resolutions it applied.
type PullResponse struct {
	Changes     types.Changes        `json:"changes"`
	Timestamp   int64                `json:"timestamp"`
	SyncJSON    string               `json:"syncJson"`
	Resolutions []ConflictResolution `json:"conflict_resolutions"`
}

// ConflictResolution describes one decision the backend made while
// assembling a conflict-aware pull.
type ConflictResolution struct {
	Action   string `json:"action"` // keep_modified, delete_record, no_conflict
	Reason   string `json:"reason"`
	RecordID string `json:"record_id"`
	Table    string `json:"table"`
}

// PushRequest carries one table's outgoing batch.
type PushRequest struct {
	Changes      types.Changes `json:"changes"`
	LastPulledAt int64         `json:"last_pulled_at"`
	UserID       string        `json:"user_id"`
	NetworkType  string        `json:"network_type"`
}

// Pull fetches remote changes since the checkpoint.
func (c *Client) Pull(ctx context.Context, req PullRequest) (*PullResponse, error) {
	var resp PullResponse
	opID := "pull-" + ulid.Make().String()
	if err := c.call(ctx, opID, retry.OpPull, fnPull, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PullWithConflictResolution is Pull against the conflict-aware backend
// function, falling back to the plain pull when the backend predates it.
// The fallback sticks for the lifetime of the client.
func (c *Client) PullWithConflictResolution(ctx context.Context, req PullRequest) (*PullResponse, error) {
	if c.crUnavailable.Load() {
		return c.Pull(ctx, req)
	}

	var resp PullResponse
	opID := "pull-cr-" + ulid.Make().String()
	err := c.call(ctx, opID, retry.OpPull, fnPullConflict, req, &resp)
	if err == nil {
		logResolutions(resp.Resolutions)
		return &resp, nil
	}
	if errors.Is(err, ErrMissingFunction) {
		c.crUnavailable.Store(true)
		slog.Info("conflict-resolving pull unavailable, using plain pull from now on",
			"component", "rpc")
		return c.Pull(ctx, req)
	}
	return nil, err
}

// logResolutions records what the backend decided for each contested
// record. no_conflict entries are routine and stay at debug level.
func logResolutions(resolutions []ConflictResolution) {
	for _, res := range resolutions {
		level := slog.LevelInfo
		if res.Action == "no_conflict" {
			level = slog.LevelDebug
		}
		slog.Log(context.Background(), level, "server resolved conflict",
			"component", "rpc",
			"table", res.Table,
			"id", res.RecordID,
			"action", res.Action,
			"reason", res.Reason,
		)
	}
}

// Push sends one table's changes. The backend expects exactly one table
// per call.
func (c *Client) Push(ctx context.Context, req PushRequest) error {
	opID := "push-" + ulid.Make().String()
	return c.call(ctx, opID, retry.OpPush, fnPush, req, nil)
}

// StrainExists asks whether the strain with the given id is already known
// remotely.
func (c *Client) StrainExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	opID := "strain-exists-" + ulid.Make().String()
	args := map[string]string{"strain_id": id}
	if err := c.call(ctx, opID, retry.OpPull, fnStrainExists, args, &exists); err != nil {
		return false, err
	}
	return exists, nil
}

// UpsertStrain idempotently creates or updates a strain remotely.
func (c *Client) UpsertStrain(ctx context.Context, strain types.Record) error {
	opID := "strain-upsert-" + ulid.Make().String()
	args := map[string]any{"strain_data": map[string]any(strain)}
	return c.call(ctx, opID, retry.OpUpsert, fnUpsertStrain, args, nil)
}
