// Package types defines the data model shared across the sync engine:
// synced tables, record bags, change sets, and the pull checkpoint.
package types

import (
	"time"
)

// Table identifies one synced table.
type Table string

// Synced tables, in no particular order. Push ordering is decided by
// conflict.PriorityFor, not by this list.
const (
	TableProfiles       Table = "profiles"
	TablePlants         Table = "plants"
	TableGrowJournals   Table = "grow_journals"
	TableJournalEntries Table = "journal_entries"
	TableGrowLocations  Table = "grow_locations"
	TableDiaryEntries   Table = "diary_entries"
	TablePlantTasks     Table = "plant_tasks"
	TablePosts          Table = "posts"
)

// TableStrains is the local strain catalog. It is not part of the synced
// set: strains reach the remote through their own upsert path.
const TableStrains Table = "strains"

// AllTables returns every synced table.
func AllTables() []Table {
	return []Table{
		TableProfiles,
		TablePlants,
		TableGrowJournals,
		TableJournalEntries,
		TableGrowLocations,
		TableDiaryEntries,
		TablePlantTasks,
		TablePosts,
	}
}

// Known reports whether t is one of the synced tables.
func (t Table) Known() bool {
	for _, known := range AllTables() {
		if t == known {
			return true
		}
	}
	return false
}

// Record is one row of a synced table as an untyped key-value bag.
// Records exist in two shapes: local (camelCase fields) and wire
// (snake_case fields). The sanitizer converts local to wire; the pull
// path converts wire to local.
type Record map[string]any

// ID returns the record id, or "" if missing or not a string.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// String returns the named field as a string, or "" if absent or not a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// UpdatedAt parses the record's update timestamp, accepting either
// shape. The zero time is returned when the field is absent or unparseable,
// so callers comparing recency treat such records as oldest.
func (r Record) UpdatedAt() time.Time {
	for _, key := range []string{"updated_at", "updatedAt"} {
		if ts, ok := ParseTimestamp(r[key]); ok {
			return ts
		}
	}
	return time.Time{}
}

// ParseTimestamp converts a timestamp field value into a time.Time.
// Accepts time.Time, RFC3339 strings, and numeric epoch milliseconds.
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	case int64:
		return time.UnixMilli(t).UTC(), true
	case int:
		return time.UnixMilli(int64(t)).UTC(), true
	}
	return time.Time{}, false
}

// ChangeSet is the per-table bundle of changes since a checkpoint.
type ChangeSet struct {
	Created []Record `json:"created"`
	Updated []Record `json:"updated"`
	Deleted []string `json:"deleted"`
}

// Empty reports whether the change set carries no changes.
func (c *ChangeSet) Empty() bool {
	return c == nil || (len(c.Created) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0)
}

// Count returns the total number of records and deletions in the set.
func (c *ChangeSet) Count() int {
	if c == nil {
		return 0
	}
	return len(c.Created) + len(c.Updated) + len(c.Deleted)
}

// Changes maps table names to their change sets. This is the JSON shape
// exchanged with the remote pull/push endpoints.
type Changes map[Table]*ChangeSet

// Count returns the total number of changes across all tables.
func (c Changes) Count() int {
	total := 0
	for _, cs := range c {
		total += cs.Count()
	}
	return total
}

// Empty reports whether no table carries any change.
func (c Changes) Empty() bool {
	return c.Count() == 0
}

// Checkpoint is the cursor marking the boundary of the last successful
// incremental sync. Advanced only after a fully successful pull+push cycle.
type Checkpoint struct {
	LastPulledAt  time.Time `json:"last_pulled_at"`
	SchemaVersion int       `json:"schema_version"`
}

// Zero reports whether the checkpoint marks a first-ever sync.
func (c Checkpoint) Zero() bool {
	return c.LastPulledAt.IsZero()
}
