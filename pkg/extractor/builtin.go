package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/takeoffworks/estimator/pkg/types"
)

// rowInput is the row shape both the IFC and DWG/DXF envelopes carry —
// the geometry/quantity-takeoff tool that produced the upload has
// already done the measurement; this package's job is validation,
// unit-class rounding and reshaping into a BoqRow.
type rowInput struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Unit        string  `json:"unit"`
	Qty         float64 `json:"qty"`
	SourceRef   string  `json:"source_ref"`
}

func toBoqRows(rows []rowInput) []*BoqRow {
	out := make([]*BoqRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, &BoqRow{
			Code:        r.Code,
			Description: r.Description,
			Unit:        r.Unit,
			Qty:         RoundQty(r.Unit, r.Qty),
			SourceRef:   r.SourceRef,
		})
	}
	return out
}

// IFCExtractor reads the validated IFC envelope (see ValidateIFC) and
// emits its rows.
type IFCExtractor struct{}

func (IFCExtractor) Extract(ctx context.Context, fileType types.FileType, filePath string, mapping map[string]string) (RowIterator, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("extractor: read %s: %w", filePath, err)
	}
	var doc struct {
		Rows []rowInput `json:"rows"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("extractor: decode IFC envelope: %w", err)
	}
	return newSliceIterator(toBoqRows(doc.Rows)), nil
}

// DWGDXFExtractor reads the validated DWG/DXF envelope (see
// ValidateDWGDXF) and emits its rows. Both formats share one envelope
// shape; they differ only in the structural validation applied upstream.
type DWGDXFExtractor struct{}

func (DWGDXFExtractor) Extract(ctx context.Context, fileType types.FileType, filePath string, mapping map[string]string) (RowIterator, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("extractor: read %s: %w", filePath, err)
	}
	var doc struct {
		Rows []rowInput `json:"rows"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("extractor: decode %s envelope: %w", fileType, err)
	}
	return newSliceIterator(toBoqRows(doc.Rows)), nil
}

// PDFExtractor has no structured schema to parse against — a scanned or
// vendor-formatted PDF BoQ has no machine-readable row layout this build
// standardizes on, so it returns an empty result set. The job still
// completes; the project ends up with a zero-row BoQ the user populates
// by hand or via the editor.
type PDFExtractor struct{}

func (PDFExtractor) Extract(ctx context.Context, fileType types.FileType, filePath string, mapping map[string]string) (RowIterator, error) {
	return newSliceIterator(nil), nil
}

// NewBuiltinRegistry returns a Registry with the in-process IFC, DWG,
// DXF and PDF extractors registered.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.Register(types.FileIFC, IFCExtractor{})
	r.Register(types.FileDWG, DWGDXFExtractor{})
	r.Register(types.FileDXF, DWGDXFExtractor{})
	r.Register(types.FilePDF, PDFExtractor{})
	return r
}
