// Package extractor turns an uploaded take-off file into BoQ rows. An
// Extractor never talks to the broker or the store — the job engine is
// the sole writer — so a plugin implementation can be sandboxed without
// needing to punch any holes for persistence.
package extractor

import (
	"context"
	"fmt"

	"github.com/takeoffworks/estimator/pkg/types"
)

// BoqRow is one extracted line item before it is persisted as a
// types.BoqItem. SourceRef is an extractor-defined pointer back into the
// original file (an IFC GlobalId, a DXF handle, ...) kept for traceability.
type BoqRow struct {
	Code        string
	Description string
	Unit        string
	Qty         float64
	SourceRef   string
	Allowance   float64
	UnitPrice   float64
	TotalPrice  float64
}

// UnitClass buckets a unit string for the spec's rounding rule: count
// units round to integers, volumes to 3 decimals, areas and lengths to 2.
type UnitClass int

const (
	UnitClassCount UnitClass = iota
	UnitClassLength
	UnitClassArea
	UnitClassVolume
)

// ClassifyUnit maps a BoQ unit string to its rounding class. Units this
// package doesn't recognize fall back to UnitClassCount, the most
// conservative rounding (whole numbers).
func ClassifyUnit(unit string) UnitClass {
	switch unit {
	case "m", "mm", "cm", "ft", "lm":
		return UnitClassLength
	case "m2", "sqm", "sf":
		return UnitClassArea
	case "m3", "cum", "cy":
		return UnitClassVolume
	case "ea", "no", "nr", "item", "set":
		return UnitClassCount
	default:
		return UnitClassCount
	}
}

// RoundQty applies the spec's per-unit-class rounding to qty.
func RoundQty(unit string, qty float64) float64 {
	switch ClassifyUnit(unit) {
	case UnitClassVolume:
		return roundTo(qty, 3)
	case UnitClassArea, UnitClassLength:
		return roundTo(qty, 2)
	default:
		return roundTo(qty, 0)
	}
}

func roundTo(v float64, decimals int) float64 {
	mult := 1.0
	for i := 0; i < decimals; i++ {
		mult *= 10
	}
	return float64(int64(v*mult+sign(v)*0.5)) / mult
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// ValidationError reports a file that failed type-specific structural
// validation before extraction was attempted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation_error: " + e.Reason }

// RowIterator yields BoqRow values one at a time. Next returns ok=false
// with a nil error once exhausted.
type RowIterator interface {
	Next() (row *BoqRow, ok bool, err error)
}

// Extractor extracts BoQ rows from one uploaded file. mapping is an
// optional code-to-description lookup supplied by the caller (e.g. a
// project-specific cost-code dictionary); implementations may ignore it.
type Extractor interface {
	Extract(ctx context.Context, fileType types.FileType, filePath string, mapping map[string]string) (RowIterator, error)
}

// Registry dispatches to an Extractor by file type. Build one with
// NewRegistry or NewBuiltinRegistry; the zero value has a nil map and
// Register panics on it.
type Registry struct {
	extractors map[types.FileType]Extractor
}

func NewRegistry() *Registry {
	return &Registry{extractors: map[types.FileType]Extractor{}}
}

func (r *Registry) Register(fileType types.FileType, e Extractor) {
	r.extractors[fileType] = e
}

func (r *Registry) Extract(ctx context.Context, fileType types.FileType, filePath string, mapping map[string]string) (RowIterator, error) {
	e, ok := r.extractors[fileType]
	if !ok {
		return nil, fmt.Errorf("extractor: no extractor registered for file type %q", fileType)
	}
	return e.Extract(ctx, fileType, filePath, mapping)
}

// sliceIterator adapts a pre-built []*BoqRow to RowIterator.
type sliceIterator struct {
	rows []*BoqRow
	pos  int
}

func newSliceIterator(rows []*BoqRow) *sliceIterator {
	return &sliceIterator{rows: rows}
}

func (it *sliceIterator) Next() (*BoqRow, bool, error) {
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	row := it.rows[it.pos]
	it.pos++
	return row, true, nil
}
