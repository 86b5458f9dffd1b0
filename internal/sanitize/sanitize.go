// Package sanitize normalizes raw local records into remote-safe wire
// payloads: bookkeeping stripped, field names mapped to snake_case, dates
// coerced to valid RFC 3339, plant ids coerced to UUIDs.
package sanitize

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/greenhouse-labs/sprig/internal/types"
)

// Data-integrity failures. These are not retryable: the record is broken,
// not the network.
var (
	ErrMissingID       = errors.New("record id is missing or blank")
	ErrEmptyForeignKey = errors.New("foreign key field is an empty string")
)

// Record converts a local record into its wire payload. The input is not
// mutated. Fails fast on a missing id or an empty-string foreign key.
func Record(rec types.Record, table types.Table) (types.Record, error) {
	if strings.TrimSpace(rec.ID()) == "" {
		return nil, fmt.Errorf("%w (table %s)", ErrMissingID, table)
	}

	out := make(types.Record, len(rec))
	for k, v := range rec {
		if types.IsBookkeeping(k) {
			continue
		}
		if isKnownDateField(k) {
			continue // handled by the date pass below
		}
		out[types.ToWireName(k)] = v
	}

	if table == types.TablePlants {
		coercePlantID(out, rec.ID())
	}

	applyDateFields(out, rec, table)

	for k, v := range out {
		if types.IsForeignKey(k) {
			if s, isStr := v.(string); isStr && s == "" {
				return nil, fmt.Errorf("%w: %s (table %s, id %s)", ErrEmptyForeignKey, k, table, rec.ID())
			}
		}
	}

	sweepDateShaped(out, table)

	return out, nil
}

func isKnownDateField(field string) bool {
	for _, df := range types.DateFields {
		if field == df.Local || field == df.Wire {
			return true
		}
	}
	return false
}

// coercePlantID replaces a non-UUID plant id with a generated one. The
// remote plants table keys on UUIDs; legacy local ids predate that.
func coercePlantID(out types.Record, id string) {
	if _, err := uuid.Parse(id); err == nil {
		return
	}
	fresh := uuid.NewString()
	slog.Warn("coercing non-UUID plant id",
		"component", "sanitize",
		"old_id", id,
		"new_id", fresh,
	)
	out["id"] = fresh
}

// applyDateFields writes each known date field in wire shape. Required
// fields that are missing or unparseable get "now"; optional ones are
// dropped. entry_date only applies to the entry tables.
func applyDateFields(out types.Record, rec types.Record, table types.Table) {
	now := time.Now().UTC().Format(time.RFC3339)

	for _, df := range types.DateFields {
		if df.Local == "entryDate" && table != types.TableDiaryEntries && table != types.TableJournalEntries {
			continue
		}

		raw, present := rec[df.Local]
		if !present {
			raw, present = rec[df.Wire]
		}

		if !present {
			// created_at/updated_at must always travel; other required
			// fields only when the record carries them.
			if df.Required && (df.Local == "createdAt" || df.Local == "updatedAt") {
				out[df.Wire] = now
			}
			continue
		}

		if formatted, ok := FormatDate(raw); ok {
			out[df.Wire] = formatted
			continue
		}

		if df.Required {
			slog.Warn("substituting now for invalid required date",
				"component", "sanitize",
				"table", table,
				"field", df.Wire,
			)
			out[df.Wire] = now
		}
		// Optional and invalid: dropped.
	}
}

// sweepDateShaped is the defense-in-depth pass: any remaining field whose
// name looks like a date is reformatted or dropped, so no malformed date
// string survives to the wire no matter which table it came from.
func sweepDateShaped(out types.Record, table types.Table) {
	for k, v := range out {
		if isKnownDateField(k) || !types.IsDateShaped(k) {
			continue
		}

		formatted, ok := FormatDate(v)
		if !ok {
			slog.Warn("dropping unparseable date-shaped field",
				"component", "sanitize",
				"table", table,
				"field", k,
			)
			delete(out, k)
			continue
		}

		wire := camelToSnake(k)
		if wire != k {
			delete(out, k)
		}
		out[wire] = formatted
	}
}

// camelToSnake converts a camelCase field name to snake_case.
func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
