// Package validate gates records before they cross the sync boundary in
// either direction. Checks return a Result the caller matches on instead
// of throwing: Ok carries the (possibly repaired) record, Skip names a
// reason to drop it quietly, Fatal is a data-integrity failure.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/greenhouse-labs/sprig/internal/types"
)

var (
	// ErrStrainRequired is returned for a plant whose strain cannot be
	// resolved and that carries no fallback strain name. The remote schema
	// requires a non-null strain name.
	ErrStrainRequired = errors.New("plant strain unresolvable and no strain name present")

	// ErrForbiddenField is returned when internal bookkeeping fields are
	// about to cross the boundary.
	ErrForbiddenField = errors.New("record carries internal bookkeeping fields")

	// ErrNotARecord is returned when the value is not a usable record.
	ErrNotARecord = errors.New("value is not a record with a string id")
)

// Kind classifies a validation outcome.
type Kind int

const (
	KindOk Kind = iota
	KindSkip
	KindFatal
)

// Result is the outcome of validating one record.
type Result struct {
	Kind   Kind
	Record types.Record // set when Kind == KindOk
	Reason string       // set when Kind == KindSkip
	Err    error        // set when Kind == KindFatal
}

// Ok builds a passing result.
func Ok(rec types.Record) Result { return Result{Kind: KindOk, Record: rec} }

// Skip builds a drop-quietly result.
func Skip(reason string) Result { return Result{Kind: KindSkip, Reason: reason} }

// Fatal builds a data-integrity failure result.
func Fatal(err error) Result { return Result{Kind: KindFatal, Err: err} }

// Check structurally validates a record for the given table.
func Check(rec types.Record, table types.Table) Result {
	if rec == nil {
		return Fatal(fmt.Errorf("%w (table %s)", ErrNotARecord, table))
	}
	if strings.TrimSpace(rec.ID()) == "" {
		return Fatal(fmt.Errorf("%w: id missing or blank (table %s)", ErrNotARecord, table))
	}
	if !table.Known() {
		return Skip(fmt.Sprintf("unknown table %q", table))
	}
	for _, field := range types.BookkeepingFields {
		if _, present := rec[field]; present {
			return Fatal(fmt.Errorf("%w: %s (table %s, id %s)", ErrForbiddenField, field, table, rec.ID()))
		}
	}
	return Ok(rec)
}

// StrainLoader resolves a strain by id, typically through the strain
// resolver's per-run cache.
type StrainLoader interface {
	CacheGet(ctx context.Context, id string) (types.Record, error)
}

// CheckPlant reconciles a plant's strain linkage before push. The two
// naming shapes of the foreign key are collapsed into the local one
// (empty string counts as unset), the strain object is attached from the
// loader when missing, and the display name is backfilled. A plant whose
// strain id cannot be resolved fails hard unless it independently carries
// a strain name.
func CheckPlant(ctx context.Context, rec types.Record, strains StrainLoader) Result {
	if res := Check(rec, types.TablePlants); res.Kind != KindOk {
		return res
	}

	out := rec.Clone()

	strainID := out.String("strainId")
	if strainID == "" {
		strainID = out.String("strain_id")
	}
	delete(out, "strain_id")
	if strainID == "" {
		delete(out, "strainId")
		return Ok(out)
	}
	out["strainId"] = strainID

	if _, attached := out["strainObj"].(map[string]any); attached {
		return Ok(out)
	}

	var strain types.Record
	if strains != nil {
		loaded, err := strains.CacheGet(ctx, strainID)
		if err != nil {
			slog.Warn("strain lookup failed",
				"component", "validate",
				"strain_id", strainID,
				"plant_id", out.ID(),
				"error", err,
			)
		}
		strain = loaded
	}

	if strain == nil {
		if out.String("strain") != "" {
			slog.Warn("plant references unresolvable strain, keeping existing name",
				"component", "validate",
				"strain_id", strainID,
				"plant_id", out.ID(),
			)
			return Ok(out)
		}
		return Fatal(fmt.Errorf("%w (plant %s, strain %s)", ErrStrainRequired, out.ID(), strainID))
	}

	out["strainObj"] = map[string]any(strain)
	if out.String("strain") == "" {
		out["strain"] = strain.String("name")
	}
	return Ok(out)
}
