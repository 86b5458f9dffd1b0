// Package conflict reconciles incoming remote changes against local
// state. Remote wins by default; the per-table strategies below carve out
// the fields where losing local work would hurt the most.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/greenhouse-labs/sprig/internal/store"
	"github.com/greenhouse-labs/sprig/internal/types"
)

// DefaultMergeWindow is how close two edits of the same entry have to be
// for their text to be merged rather than one side winning outright.
const DefaultMergeWindow = 10 * time.Minute

const mergedMarker = "\n\n[merged]\n"

// Options tune the resolver.
type Options struct {
	MergeWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.MergeWindow <= 0 {
		o.MergeWindow = DefaultMergeWindow
	}
	return o
}

// Resolver merges remote change sets against a local store.
type Resolver struct {
	store store.Store
	opts  Options
}

// New builds a Resolver over the given store.
func New(st store.Store, opts Options) *Resolver {
	return &Resolver{store: st, opts: opts.withDefaults()}
}

// HandleTable reconciles one table's incoming change set. Created records
// that already exist locally are reclassified as updates before merging.
// The returned set is safe to apply with remote-wins semantics.
func (r *Resolver) HandleTable(ctx context.Context, table types.Table, cs *types.ChangeSet) (*types.ChangeSet, error) {
	if cs == nil || cs.Empty() {
		return cs, nil
	}

	out := &types.ChangeSet{Deleted: cs.Deleted}

	for _, rec := range cs.Created {
		if rec.ID() == "" {
			continue
		}
		exists, err := r.store.Exists(ctx, table, rec.ID())
		if err != nil {
			return nil, fmt.Errorf("conflict: checking %s/%s: %w", table, rec.ID(), err)
		}
		if exists {
			out.Updated = append(out.Updated, rec)
		} else {
			out.Created = append(out.Created, rec)
		}
	}
	out.Updated = append(out.Updated, cs.Updated...)

	for i, remote := range out.Updated {
		local, err := r.store.Find(ctx, table, remote.ID())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("conflict: loading %s/%s: %w", table, remote.ID(), err)
		}
		out.Updated[i] = r.merge(table, local, remote)
	}
	return out, nil
}

func (r *Resolver) merge(table types.Table, local, remote types.Record) types.Record {
	switch table {
	case types.TableProfiles:
		return mergeProfile(local, remote)
	case types.TablePlants:
		return mergePlant(local, remote)
	case types.TableDiaryEntries, types.TableJournalEntries:
		return r.mergeEntry(local, remote)
	case types.TablePlantTasks:
		return mergeTask(local, remote)
	case types.TableGrowJournals:
		return mergeJournal(local, remote)
	default:
		return remote
	}
}

// mergeProfile protects the signed-in user's own profile: the local side
// holds edits made in the app, so the identity fields follow whichever
// side is newer rather than defaulting to remote.
func mergeProfile(local, remote types.Record) types.Record {
	out := remote.Clone()
	if localNewer(local, remote) {
		for _, field := range []string{"username", "displayName", "bio", "avatarUrl"} {
			if v, present := local[field]; present {
				out[field] = v
			}
		}
	}
	return out
}

// mergePlant keeps a locally chosen custom name unless it is just an echo
// of the incoming name or strain. Notes and growth stage survive when the
// local edit is strictly newer.
func mergePlant(local, remote types.Record) types.Record {
	out := remote.Clone()

	localName := local.String("name")
	if localName != "" &&
		localName != remote.String("name") &&
		localName != remote.String("strain") {
		out["name"] = localName
	}

	if localNewer(local, remote) {
		if notes := local.String("notes"); notes != "" {
			out["notes"] = notes
		}
		if stage := local.String("growthStage"); stage != "" {
			out["growthStage"] = stage
		}
	}
	return out
}

// mergeEntry handles free-text diary and journal entries. Two edits close
// together in time are concatenated so neither is lost; when local is the
// newer side its metadata fields win too.
func (r *Resolver) mergeEntry(local, remote types.Record) types.Record {
	out := remote.Clone()

	localAt := local.UpdatedAt()
	remoteAt := remote.UpdatedAt()
	bothStamped := !localAt.IsZero() && !remoteAt.IsZero()
	isLocalNewer := bothStamped && localAt.After(remoteAt)
	withinWindow := bothStamped && absDuration(localAt.Sub(remoteAt)) <= r.opts.MergeWindow

	localContent := local.String("content")
	remoteContent := remote.String("content")
	if localContent != "" && localContent != remoteContent && (withinWindow || isLocalNewer) {
		if remoteContent == "" {
			out["content"] = localContent
		} else if !strings.Contains(remoteContent, localContent) {
			out["content"] = remoteContent + mergedMarker + localContent
		}
	}

	if isLocalNewer {
		for _, field := range []string{"mood", "rating", "tags", "title"} {
			if v, present := local[field]; present {
				out[field] = v
			}
		}
	}
	return out
}

// mergeTask takes completion from whichever side is newer and never drops
// local notes.
func mergeTask(local, remote types.Record) types.Record {
	out := remote.Clone()

	if localNewer(local, remote) {
		if v, present := local["completed"]; present {
			out["completed"] = v
		}
		if done, _ := local["completed"].(bool); done {
			if at, present := local["completedAt"]; present {
				out["completedAt"] = at
			}
		}
	}

	localNotes := local.String("notes")
	remoteNotes := remote.String("notes")
	switch {
	case localNotes == "" || strings.Contains(remoteNotes, localNotes):
		// remote stands
	case remoteNotes == "":
		out["notes"] = localNotes
	default:
		out["notes"] = remoteNotes + mergedMarker + localNotes
	}
	return out
}

func mergeJournal(local, remote types.Record) types.Record {
	out := remote.Clone()
	if localNewer(local, remote) {
		if name := local.String("name"); name != "" {
			out["name"] = name
		}
		if desc := local.String("description"); desc != "" {
			out["description"] = desc
		}
	}
	return out
}

func localNewer(local, remote types.Record) bool {
	localAt := local.UpdatedAt()
	remoteAt := remote.UpdatedAt()
	return !localAt.IsZero() && !remoteAt.IsZero() && localAt.After(remoteAt)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// PriorityFor ranks tables for push ordering: referenced tables go before
// the tables that reference them so the remote never sees a dangling
// foreign key.
func PriorityFor(table types.Table) int {
	switch table {
	case types.TableProfiles:
		return 10
	case types.TablePlants:
		return 9
	case types.TableGrowJournals:
		return 8
	case types.TableGrowLocations:
		return 7
	case types.TableJournalEntries:
		return 6
	case types.TableDiaryEntries:
		return 5
	case types.TablePlantTasks:
		return 4
	case types.TablePosts:
		return 3
	default:
		return 1
	}
}
