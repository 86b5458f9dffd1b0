// Package strains keeps the remote strain catalog consistent with the
// strains that plants reference. Strains are not part of the pulled
// change sets: they travel through their own idempotent upsert, and
// failures here never block a sync run.
package strains

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/greenhouse-labs/sprig/internal/store"
	"github.com/greenhouse-labs/sprig/internal/types"
)

// Remote is the slice of the RPC client the resolver needs.
type Remote interface {
	StrainExists(ctx context.Context, id string) (bool, error)
	UpsertStrain(ctx context.Context, strain types.Record) error
}

// wireField maps an outgoing payload field to the local fields it may be
// sourced from, tried in order. Anything not listed here never leaves the
// device.
type wireField struct {
	name    string
	sources []string
	list    bool // normalize value to a []string
}

var wireFields = []wireField{
	{name: "id", sources: []string{"id"}},
	{name: "name", sources: []string{"name"}},
	{name: "type", sources: []string{"type", "strainType"}},
	{name: "description", sources: []string{"description"}},
	{name: "thc_content", sources: []string{"thc_content", "thc", "thcContent"}},
	{name: "cbd_content", sources: []string{"cbd_content", "cbd", "cbdContent"}},
	{name: "genetics", sources: []string{"genetics"}},
	{name: "breeder", sources: []string{"breeder", "seedCompany"}},
	{name: "flowering_time", sources: []string{"flowering_time", "floweringTime"}},
	{name: "image_url", sources: []string{"image_url", "imageUrl", "image"}},
	{name: "rating", sources: []string{"rating"}},
	{name: "origin", sources: []string{"origin"}},
	{name: "effects", sources: []string{"effects"}, list: true},
	{name: "flavors", sources: []string{"flavors", "flavours"}, list: true},
	{name: "parents", sources: []string{"parents"}, list: true},
}

// Resolver ensures referenced strains exist remotely and caches lookups
// for the duration of one sync run.
type Resolver struct {
	remote Remote
	store  store.Store

	mu    sync.Mutex
	cache map[string]types.Record
}

// New builds a Resolver. The store backs CacheGet lookups; the remote
// receives upserts.
func New(remote Remote, st store.Store) *Resolver {
	return &Resolver{
		remote: remote,
		store:  st,
		cache:  make(map[string]types.Record),
	}
}

// EnsureExists guarantees the given strain is present remotely and
// returns its id. A strain that cannot be pushed is logged and reported
// as "": plants referencing it fall back to their stored strain name.
func (r *Resolver) EnsureExists(ctx context.Context, strain types.Record) string {
	id := strain.ID()
	if id == "" {
		slog.Warn("strain without id, skipping upsert", "component", "strains")
		return ""
	}

	exists, err := r.remote.StrainExists(ctx, id)
	if err != nil {
		slog.Warn("strain existence check failed",
			"component", "strains", "strain_id", id, "error", err)
		return ""
	}
	if exists {
		return id
	}

	payload := BuildPayload(strain)
	if payload.String("name") == "" {
		slog.Warn("strain has no name, skipping upsert",
			"component", "strains", "strain_id", id)
		return ""
	}
	if err := r.remote.UpsertStrain(ctx, payload); err != nil {
		slog.Warn("strain upsert failed",
			"component", "strains", "strain_id", id, "error", err)
		return ""
	}
	slog.Info("strain upserted",
		"component", "strains", "strain_id", id, "name", payload.String("name"))
	return id
}

// BuildPayload projects a local strain record onto the allow-listed wire
// shape. List-valued fields are normalized to []string regardless of how
// the source stored them.
func BuildPayload(strain types.Record) types.Record {
	out := make(types.Record, len(wireFields))
	for _, field := range wireFields {
		for _, src := range field.sources {
			v, present := strain[src]
			if !present || v == nil {
				continue
			}
			if field.list {
				if list := normalizeList(v); len(list) > 0 {
					out[field.name] = list
					break
				}
				continue
			}
			out[field.name] = v
			break
		}
	}
	return out
}

// normalizeList coerces effects/flavors/parents into a []string. Accepts
// string slices, mixed []any, and JSON-encoded strings lingering from
// older clients.
func normalizeList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			return nil
		}
		if strings.HasPrefix(trimmed, "[") {
			var decoded []string
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				return decoded
			}
			return nil
		}
		parts := strings.Split(trimmed, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// CacheGet returns the locally stored strain with the given id, hitting
// the store at most once per id per run.
func (r *Resolver) CacheGet(ctx context.Context, id string) (types.Record, error) {
	if id == "" {
		return nil, nil
	}

	r.mu.Lock()
	cached, hit := r.cache[id]
	r.mu.Unlock()
	if hit {
		return cached, nil
	}

	rec, err := r.store.Find(ctx, types.TableStrains, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	r.mu.Lock()
	r.cache[id] = rec
	r.mu.Unlock()
	return rec, nil
}

// ClearCache drops the per-run cache. Called at the end of a sync run so
// the next run observes fresh strain data.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	r.cache = make(map[string]types.Record)
	r.mu.Unlock()
}
