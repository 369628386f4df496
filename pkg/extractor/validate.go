package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// supportedIFCSchemas is the set of IFC schema identifiers this build
// accepts. Anything else fails validation outright rather than being
// extracted against an unverified schema.
var supportedIFCSchemas = map[string]bool{
	"IFC4":      true,
	"IFC4X3":    true,
	"IFC2X3":    true,
}

var knownLengthUnits = map[string]bool{
	"MILLIMETRE": true, "METRE": true, "CENTIMETRE": true, "FOOT": true, "INCH": true,
}

// ifcDocument is the minimal shape this build expects an uploaded IFC
// take-off to be pre-parsed into (the real SPF/STEP grammar is out of
// scope here; extraction upstream of this validation step is assumed to
// have produced this envelope). A production build would plug in a real
// IFC parser behind the same validation contract.
type ifcDocument struct {
	Schema       string     `json:"schema"`
	LengthUnit   string     `json:"length_unit"`
	BoundingBox  [2][3]float64 `json:"bounding_box"`
	GlobalIDs    []string   `json:"global_ids"`
}

// ValidateIFC enforces the spec's IFC structural checks: schema must be
// in the supported set, the bounding box must be non-empty, global ids
// must be unique, and the length unit must resolve — an unresolvable
// unit is a warning, not a failure, and mm is assumed.
func ValidateIFC(data []byte) (warnings []string, err error) {
	var doc ifcDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("unparseable IFC envelope: %v", err)}
	}

	if !supportedIFCSchemas[strings.ToUpper(doc.Schema)] {
		return nil, &ValidationError{Reason: fmt.Sprintf("unsupported IFC schema %q", doc.Schema)}
	}

	if doc.BoundingBox == [2][3]float64{} {
		return nil, &ValidationError{Reason: "empty bounding box"}
	}

	seen := map[string]bool{}
	for _, id := range doc.GlobalIDs {
		if seen[id] {
			return nil, &ValidationError{Reason: fmt.Sprintf("duplicate global id %q", id)}
		}
		seen[id] = true
	}

	if doc.LengthUnit == "" || !knownLengthUnits[strings.ToUpper(doc.LengthUnit)] {
		warnings = append(warnings, fmt.Sprintf("unresolvable length unit %q, assuming millimetres", doc.LengthUnit))
	}

	return warnings, nil
}

// dwgDxfHeader is the envelope expected for DWG/DXF uploads: just enough
// to confirm the file opens and to read its insertion unit.
type dwgDxfHeader struct {
	InsertionUnit string `json:"insertion_unit"`
}

// ValidateDWGDXF confirms the file is openable (non-empty, parseable
// header) and resolves the insertion unit, warning and assuming mm when
// it cannot.
func ValidateDWGDXF(data []byte) (warnings []string, err error) {
	if len(data) == 0 {
		return nil, &ValidationError{Reason: "empty DWG/DXF file"}
	}
	var hdr dwgDxfHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("file not openable: %v", err)}
	}
	if hdr.InsertionUnit == "" || !knownLengthUnits[strings.ToUpper(hdr.InsertionUnit)] {
		warnings = append(warnings, fmt.Sprintf("unresolvable insertion unit %q, assuming millimetres", hdr.InsertionUnit))
	}
	return warnings, nil
}

var pdfMagic = []byte("%PDF-")

// ValidatePDF checks the file begins with the PDF magic header.
func ValidatePDF(data []byte) error {
	if !bytes.HasPrefix(data, pdfMagic) {
		return &ValidationError{Reason: "missing %PDF- header"}
	}
	return nil
}
