package conflict

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/greenhouse-labs/sprig/internal/store"
	"github.com/greenhouse-labs/sprig/internal/types"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "conflict.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s store.Store, table types.Table, rec types.Record) {
	t.Helper()
	if err := s.Upsert(context.Background(), table, rec); err != nil {
		t.Fatalf("seeding %s/%v: %v", table, rec["id"], err)
	}
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func TestHandleTable_ReclassifiesExistingCreatesAsUpdates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, types.TablePosts, types.Record{"id": "known", "body": "local"})

	r := New(s, Options{})
	cs := &types.ChangeSet{
		Created: []types.Record{
			{"id": "known", "body": "remote"},
			{"id": "fresh", "body": "new"},
		},
		Deleted: []string{"gone"},
	}

	out, err := r.HandleTable(ctx, types.TablePosts, cs)
	if err != nil {
		t.Fatalf("HandleTable: %v", err)
	}
	if len(out.Created) != 1 || out.Created[0].ID() != "fresh" {
		t.Errorf("created = %v, want only fresh", out.Created)
	}
	if len(out.Updated) != 1 || out.Updated[0].ID() != "known" {
		t.Errorf("updated = %v, want only known", out.Updated)
	}
	if len(out.Deleted) != 1 || out.Deleted[0] != "gone" {
		t.Errorf("deleted = %v, want [gone]", out.Deleted)
	}
}

func TestHandleTable_PlantMerge(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	tests := []struct {
		name      string
		local     types.Record
		remote    types.Record
		wantName  string
		wantNotes string
	}{
		{
			name:      "custom name survives",
			local:     types.Record{"id": "p1", "name": "Bruce the Basil", "updatedAt": stamp(now.Add(-time.Hour))},
			remote:    types.Record{"id": "p1", "name": "Basil", "strain": "Genovese", "updatedAt": stamp(now)},
			wantName:  "Bruce the Basil",
			wantNotes: "",
		},
		{
			name:     "name echoing remote strain yields to remote",
			local:    types.Record{"id": "p1", "name": "Genovese"},
			remote:   types.Record{"id": "p1", "name": "Basil #2", "strain": "Genovese"},
			wantName: "Basil #2",
		},
		{
			name:      "newer local notes survive",
			local:     types.Record{"id": "p1", "name": "B", "notes": "repotted today", "updatedAt": stamp(now)},
			remote:    types.Record{"id": "p1", "name": "B", "notes": "old note", "updatedAt": stamp(now.Add(-time.Hour))},
			wantName:  "B",
			wantNotes: "repotted today",
		},
		{
			name:      "older local notes lose",
			local:     types.Record{"id": "p1", "name": "B", "notes": "stale", "updatedAt": stamp(now.Add(-time.Hour))},
			remote:    types.Record{"id": "p1", "name": "B", "notes": "fresh", "updatedAt": stamp(now)},
			wantName:  "B",
			wantNotes: "fresh",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			seed(t, s, types.TablePlants, tt.local)
			r := New(s, Options{})

			out, err := r.HandleTable(ctx, types.TablePlants, &types.ChangeSet{Updated: []types.Record{tt.remote}})
			if err != nil {
				t.Fatalf("HandleTable: %v", err)
			}
			got := out.Updated[0]
			if got.String("name") != tt.wantName {
				t.Errorf("name = %q, want %q", got.String("name"), tt.wantName)
			}
			if got.String("notes") != tt.wantNotes {
				t.Errorf("notes = %q, want %q", got.String("notes"), tt.wantNotes)
			}
		})
	}
}

func TestHandleTable_EntryMerge(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("edits within window concatenate", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s, types.TableDiaryEntries, types.Record{
			"id": "e1", "content": "watered at noon", "updatedAt": stamp(now.Add(-3 * time.Minute)),
		})
		r := New(s, Options{})

		remote := types.Record{"id": "e1", "content": "fed nutrients", "updatedAt": stamp(now)}
		out, err := r.HandleTable(ctx, types.TableDiaryEntries, &types.ChangeSet{Updated: []types.Record{remote}})
		if err != nil {
			t.Fatalf("HandleTable: %v", err)
		}
		content := out.Updated[0].String("content")
		if !strings.Contains(content, "fed nutrients") || !strings.Contains(content, "watered at noon") {
			t.Errorf("content = %q, want both halves", content)
		}
		if !strings.Contains(content, "[merged]") {
			t.Errorf("content = %q, want merge marker", content)
		}
	})

	t.Run("edits outside window keep remote", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s, types.TableDiaryEntries, types.Record{
			"id": "e1", "content": "old local", "updatedAt": stamp(now.Add(-2 * time.Hour)),
		})
		r := New(s, Options{})

		remote := types.Record{"id": "e1", "content": "remote text", "updatedAt": stamp(now)}
		out, err := r.HandleTable(ctx, types.TableDiaryEntries, &types.ChangeSet{Updated: []types.Record{remote}})
		if err != nil {
			t.Fatalf("HandleTable: %v", err)
		}
		if got := out.Updated[0].String("content"); got != "remote text" {
			t.Errorf("content = %q, want remote text", got)
		}
	})

	t.Run("widened window merges what the default would not", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s, types.TableJournalEntries, types.Record{
			"id": "e1", "content": "local", "updatedAt": stamp(now.Add(-30 * time.Minute)),
		})
		r := New(s, Options{MergeWindow: time.Hour})

		remote := types.Record{"id": "e1", "content": "remote", "updatedAt": stamp(now)}
		out, err := r.HandleTable(ctx, types.TableJournalEntries, &types.ChangeSet{Updated: []types.Record{remote}})
		if err != nil {
			t.Fatalf("HandleTable: %v", err)
		}
		if got := out.Updated[0].String("content"); !strings.Contains(got, "local") {
			t.Errorf("content = %q, want local half merged in", got)
		}
	})

	t.Run("newer local wins metadata", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s, types.TableDiaryEntries, types.Record{
			"id": "e1", "content": "text", "mood": "happy", "rating": float64(5),
			"updatedAt": stamp(now),
		})
		r := New(s, Options{})

		remote := types.Record{
			"id": "e1", "content": "text", "mood": "neutral", "rating": float64(2),
			"updatedAt": stamp(now.Add(-time.Hour)),
		}
		out, err := r.HandleTable(ctx, types.TableDiaryEntries, &types.ChangeSet{Updated: []types.Record{remote}})
		if err != nil {
			t.Fatalf("HandleTable: %v", err)
		}
		got := out.Updated[0]
		if got.String("mood") != "happy" {
			t.Errorf("mood = %q, want happy", got.String("mood"))
		}
		if got["rating"] != float64(5) {
			t.Errorf("rating = %v, want 5", got["rating"])
		}
	})
}

func TestHandleTable_TaskMerge(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	completedAt := stamp(now.Add(-time.Minute))

	s := newTestStore(t)
	seed(t, s, types.TablePlantTasks, types.Record{
		"id": "t1", "completed": true, "completedAt": completedAt,
		"notes": "done with extra water", "updatedAt": stamp(now),
	})
	r := New(s, Options{})

	remote := types.Record{
		"id": "t1", "completed": false,
		"notes": "remote note", "updatedAt": stamp(now.Add(-time.Hour)),
	}
	out, err := r.HandleTable(ctx, types.TablePlantTasks, &types.ChangeSet{Updated: []types.Record{remote}})
	if err != nil {
		t.Fatalf("HandleTable: %v", err)
	}
	got := out.Updated[0]
	if done, _ := got["completed"].(bool); !done {
		t.Error("completion from the newer local side was lost")
	}
	if got.String("completedAt") != completedAt {
		t.Errorf("completedAt = %q, want %q", got.String("completedAt"), completedAt)
	}
	notes := got.String("notes")
	if !strings.Contains(notes, "remote note") || !strings.Contains(notes, "done with extra water") {
		t.Errorf("notes = %q, want both halves", notes)
	}
}

func TestHandleTable_JournalMerge(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	s := newTestStore(t)
	seed(t, s, types.TableGrowJournals, types.Record{
		"id": "j1", "name": "Summer Grow", "description": "balcony setup",
		"updatedAt": stamp(now),
	})
	r := New(s, Options{})

	remote := types.Record{
		"id": "j1", "name": "Journal 1", "description": "",
		"updatedAt": stamp(now.Add(-time.Hour)),
	}
	out, err := r.HandleTable(ctx, types.TableGrowJournals, &types.ChangeSet{Updated: []types.Record{remote}})
	if err != nil {
		t.Fatalf("HandleTable: %v", err)
	}
	got := out.Updated[0]
	if got.String("name") != "Summer Grow" {
		t.Errorf("name = %q, want Summer Grow", got.String("name"))
	}
	if got.String("description") != "balcony setup" {
		t.Errorf("description = %q, want balcony setup", got.String("description"))
	}
}

func TestHandleTable_ProfileMerge(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	s := newTestStore(t)
	seed(t, s, types.TableProfiles, types.Record{
		"id": "u1", "username": "grower42", "bio": "balcony gardener",
		"updatedAt": stamp(now),
	})
	r := New(s, Options{})

	remote := types.Record{
		"id": "u1", "username": "user-u1", "bio": "", "followers": 7,
		"updatedAt": stamp(now.Add(-time.Hour)),
	}
	out, err := r.HandleTable(ctx, types.TableProfiles, &types.ChangeSet{Updated: []types.Record{remote}})
	if err != nil {
		t.Fatalf("HandleTable: %v", err)
	}
	got := out.Updated[0]
	if got.String("username") != "grower42" {
		t.Errorf("username = %q, want local edit kept", got.String("username"))
	}
	if got.String("bio") != "balcony gardener" {
		t.Errorf("bio = %q, want local edit kept", got.String("bio"))
	}
	if got["followers"] != 7 {
		t.Errorf("followers = %v, want remote-only field kept", got["followers"])
	}

	// Older local profile loses to a newer remote edit.
	seed(t, s, types.TableProfiles, types.Record{
		"id": "u2", "username": "old-name", "updatedAt": stamp(now.Add(-2 * time.Hour)),
	})
	remote = types.Record{"id": "u2", "username": "new-name", "updatedAt": stamp(now)}
	out, err = r.HandleTable(ctx, types.TableProfiles, &types.ChangeSet{Updated: []types.Record{remote}})
	if err != nil {
		t.Fatalf("HandleTable: %v", err)
	}
	if got := out.Updated[0].String("username"); got != "new-name" {
		t.Errorf("username = %q, want newer remote to win", got)
	}
}

func TestPriorityFor(t *testing.T) {
	tables := types.AllTables()
	sort.SliceStable(tables, func(i, j int) bool {
		return PriorityFor(tables[i]) > PriorityFor(tables[j])
	})
	want := []types.Table{
		types.TableProfiles,
		types.TablePlants,
		types.TableGrowJournals,
		types.TableGrowLocations,
		types.TableJournalEntries,
		types.TableDiaryEntries,
		types.TablePlantTasks,
		types.TablePosts,
	}
	for i, table := range want {
		if tables[i] != table {
			t.Fatalf("push order[%d] = %s, want %s (full order %v)", i, tables[i], table, tables)
		}
	}
	if PriorityFor(types.Table("anything_else")) != 1 {
		t.Error("unknown tables should rank last")
	}
}
