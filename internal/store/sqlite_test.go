package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/greenhouse-labs/sprig/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sprig.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_UpsertAndFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := types.Record{"id": "p1", "name": "Northern Lights", "updatedAt": "2025-06-01T12:00:00Z"}
	if err := s.Upsert(ctx, types.TablePlants, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Find(ctx, types.TablePlants, "p1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.String("name") != "Northern Lights" {
		t.Errorf("name = %q, want %q", got.String("name"), "Northern Lights")
	}
}

func TestSQLiteStore_FindMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Find(context.Background(), types.TablePlants, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Find(missing) = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_UpsertWithoutID(t *testing.T) {
	s := newTestStore(t)

	err := s.Upsert(context.Background(), types.TablePlants, types.Record{"name": "noid"})
	if err == nil {
		t.Error("Upsert without id should fail")
	}
}

func TestSQLiteStore_DeleteCreatesTombstone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, types.TablePlants, types.Record{"id": "p1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete(ctx, types.TablePlants, "p1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := s.Find(ctx, types.TablePlants, "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find(deleted) = %v, want ErrNotFound", err)
	}

	// The tombstone must surface in the next diff.
	changes, err := s.ChangesSince(ctx, types.Checkpoint{})
	if err != nil {
		t.Fatalf("ChangesSince: %v", err)
	}
	cs := changes[types.TablePlants]
	if cs == nil || len(cs.Deleted) != 1 || cs.Deleted[0] != "p1" {
		t.Errorf("deleted = %v, want [p1]", cs)
	}
}

func TestSQLiteStore_ChangesSince_Classification(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Previously synced, then locally edited: updated. The edit rewrites
	// the whole payload, so synced-ness must survive outside it.
	if err := s.Upsert(ctx, types.TablePlants, types.Record{"id": "old1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	synced := types.Changes{types.TablePlants: {Created: []types.Record{{"id": "old1"}}}}
	if err := s.MarkSynced(ctx, synced, time.Now()); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	if err := s.Upsert(ctx, types.TablePlants, types.Record{"id": "old1", "name": "edited"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Never synced: created.
	if err := s.Upsert(ctx, types.TablePlants, types.Record{"id": "new1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	changes, err := s.ChangesSince(ctx, types.Checkpoint{})
	if err != nil {
		t.Fatalf("ChangesSince: %v", err)
	}

	cs := changes[types.TablePlants]
	if cs == nil {
		t.Fatal("no change set for plants")
	}
	if len(cs.Created) != 1 || cs.Created[0].ID() != "new1" {
		t.Errorf("created = %v, want [new1]", cs.Created)
	}
	if len(cs.Updated) != 1 || cs.Updated[0].ID() != "old1" {
		t.Errorf("updated = %v, want [old1]", cs.Updated)
	}
}

func TestSQLiteStore_MarkSynced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, types.TablePlants, types.Record{"id": "p1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(ctx, types.TablePlants, types.Record{"id": "p2"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete(ctx, types.TablePlants, "p2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	changes, err := s.ChangesSince(ctx, types.Checkpoint{})
	if err != nil {
		t.Fatalf("ChangesSince: %v", err)
	}
	if err := s.MarkSynced(ctx, changes, time.Now()); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	after, err := s.ChangesSince(ctx, types.Checkpoint{})
	if err != nil {
		t.Fatalf("ChangesSince after mark: %v", err)
	}
	if !after.Empty() {
		t.Errorf("diff after MarkSynced = %v, want empty", after)
	}

	// The stamp must survive a later local edit: p1 re-enters the diff as
	// an update, not a create.
	if err := s.Upsert(ctx, types.TablePlants, types.Record{"id": "p1", "name": "edited"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	again, err := s.ChangesSince(ctx, types.Checkpoint{})
	if err != nil {
		t.Fatalf("ChangesSince after edit: %v", err)
	}
	cs := again[types.TablePlants]
	if cs == nil || len(cs.Updated) != 1 || cs.Updated[0].ID() != "p1" {
		t.Errorf("re-edited record = %v, want p1 classified as updated", again)
	}
	if cs != nil && len(cs.Created) != 0 {
		t.Errorf("created = %v, want empty after earlier sync", cs.Created)
	}
}

func TestSQLiteStore_ApplyRemote_KeepsDirtyRowsDirty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Local edit pending push. The pulled payload (already merged by the
	// conflict resolver) lands, but the row stays dirty so the edit still
	// travels on the next push.
	if err := s.Upsert(ctx, types.TablePlants, types.Record{"id": "p1", "name": "my rename"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	applied, err := s.ApplyRemote(ctx, types.Changes{
		types.TablePlants: {
			Updated: []types.Record{{"id": "p1", "name": "merged name"}},
			Created: []types.Record{{"id": "p2", "name": "fresh"}},
		},
	})
	if err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}

	rec, err := s.Find(ctx, types.TablePlants, "p1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if rec.String("name") != "merged name" {
		t.Errorf("merged payload not applied: name = %q", rec.String("name"))
	}

	changes, err := s.ChangesSince(ctx, types.Checkpoint{})
	if err != nil {
		t.Fatalf("ChangesSince: %v", err)
	}
	cs := changes[types.TablePlants]
	if cs.Count() != 1 {
		t.Fatalf("pending changes = %d, want p1 still dirty", cs.Count())
	}

	if _, err := s.Find(ctx, types.TablePlants, "p2"); err != nil {
		t.Errorf("remote create not applied: %v", err)
	}
}

func TestSQLiteStore_ApplyRemote_SkipsDeleteOfDirtyRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, types.TablePlants, types.Record{"id": "p1", "name": "keep me"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	applied, err := s.ApplyRemote(ctx, types.Changes{
		types.TablePlants: {Deleted: []string{"p1"}},
	})
	if err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0 (delete of dirty row skipped)", applied)
	}
	if _, err := s.Find(ctx, types.TablePlants, "p1"); err != nil {
		t.Errorf("dirty row deleted by pull: %v", err)
	}
}

func TestSQLiteStore_ApplyRemote_Deletes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, types.TablePlants, types.Record{"id": "p1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	changes, _ := s.ChangesSince(ctx, types.Checkpoint{})
	if err := s.MarkSynced(ctx, changes, time.Now()); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	if _, err := s.ApplyRemote(ctx, types.Changes{
		types.TablePlants: {Deleted: []string{"p1"}},
	}); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}

	if _, err := s.Find(ctx, types.TablePlants, "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find after remote delete = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_IsEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Error("fresh store should be empty")
	}

	if err := s.Upsert(ctx, types.TablePlants, types.Record{"id": "p1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	empty, err = s.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if empty {
		t.Error("store with a record should not be empty")
	}
}

func TestSQLiteStore_LocalSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetLocal(ctx, "missing")
	if err != nil {
		t.Fatalf("GetLocal: %v", err)
	}
	if got != "" {
		t.Errorf("GetLocal(missing) = %q, want empty", got)
	}

	if err := s.SetLocal(ctx, "k", "v1"); err != nil {
		t.Fatalf("SetLocal: %v", err)
	}
	if err := s.SetLocal(ctx, "k", "v2"); err != nil {
		t.Fatalf("SetLocal overwrite: %v", err)
	}
	got, _ = s.GetLocal(ctx, "k")
	if got != "v2" {
		t.Errorf("GetLocal = %q, want v2", got)
	}

	if err := s.DeleteLocal(ctx, "k"); err != nil {
		t.Fatalf("DeleteLocal: %v", err)
	}
	got, _ = s.GetLocal(ctx, "k")
	if got != "" {
		t.Errorf("GetLocal after delete = %q, want empty", got)
	}
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp, err := LoadCheckpoint(ctx, s, 3)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if !cp.Zero() || cp.SchemaVersion != 3 {
		t.Errorf("fresh checkpoint = %+v, want zero with schema 3", cp)
	}

	cp.LastPulledAt = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := SaveCheckpoint(ctx, s, cp); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	loaded, err := LoadCheckpoint(ctx, s, 3)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if !loaded.LastPulledAt.Equal(cp.LastPulledAt) {
		t.Errorf("LastPulledAt = %v, want %v", loaded.LastPulledAt, cp.LastPulledAt)
	}
}
