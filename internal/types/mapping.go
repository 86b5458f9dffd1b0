package types

import (
	"regexp"
	"strings"
)

// The app's local store names fields in camelCase while the remote schema
// uses snake_case. Rather than renaming ad hoc at each call site, the two
// shapes are reconciled through the explicit tables below, applied only at
// the sync boundary.

// DateField describes one date-bearing field in both shapes. Required
// fields get "now" substituted when their value is unparseable; optional
// fields are dropped instead.
type DateField struct {
	Local    string
	Wire     string
	Required bool
}

// DateFields lists every known date field across the synced tables.
var DateFields = []DateField{
	{Local: "createdAt", Wire: "created_at", Required: true},
	{Local: "updatedAt", Wire: "updated_at", Required: true},
	{Local: "lastSyncedAt", Wire: "last_synced_at", Required: false},
	{Local: "plantedDate", Wire: "planted_date", Required: false},
	{Local: "expectedHarvestDate", Wire: "expected_harvest_date", Required: false},
	{Local: "entryDate", Wire: "entry_date", Required: true},
	{Local: "dueDate", Wire: "due_date", Required: false},
	{Local: "completedAt", Wire: "completed_at", Required: false},
}

// FieldRenames maps remaining local field names to their wire names.
// Applied after the date-field pass.
var FieldRenames = map[string]string{
	"strainId":    "strain_id",
	"userId":      "user_id",
	"growthStage": "growth_stage",
	"potSize":     "pot_size",
	"imageUrl":    "image_url",
}

// BookkeepingFields are internal markers maintained by the local store.
// They must never cross the sync boundary in either direction.
var BookkeepingFields = []string{"_status", "_changed", "_raw"}

// datePattern matches field names that carry dates by naming convention,
// in either shape. Used by the sanitizer's defense-in-depth sweep for
// fields not covered by DateFields.
var datePattern = regexp.MustCompile(`(_date$|_at$|Date$|At$)`)

// IsDateShaped reports whether a field name looks like a date field.
func IsDateShaped(field string) bool {
	return datePattern.MatchString(field)
}

// IsForeignKey reports whether a wire field name is a foreign key
// reference (ends in _id, excluding the record's own id).
func IsForeignKey(field string) bool {
	return field != "id" && strings.HasSuffix(field, "_id")
}

// ToWireName converts a local field name to its wire name. Fields without
// an explicit mapping pass through unchanged.
func ToWireName(local string) string {
	for _, df := range DateFields {
		if df.Local == local {
			return df.Wire
		}
	}
	if wire, ok := FieldRenames[local]; ok {
		return wire
	}
	return local
}

// ToLocalName converts a wire field name to its local name. Fields without
// an explicit mapping pass through unchanged.
func ToLocalName(wire string) string {
	for _, df := range DateFields {
		if df.Wire == wire {
			return df.Local
		}
	}
	for local, w := range FieldRenames {
		if w == wire {
			return local
		}
	}
	return wire
}

// IsBookkeeping reports whether the field is an internal store marker.
func IsBookkeeping(field string) bool {
	for _, f := range BookkeepingFields {
		if field == f {
			return true
		}
	}
	return false
}
