package artifacts

// Kind prefixes used for export.Export's rendered outputs. The artifact
// row itself (types.Artifact) lives in pkg/store; this package only
// stores and retrieves the underlying bytes by content hash.
const (
	KindExportCSV  = "export:csv"
	KindExportXLSX = "export:xlsx"
	KindExportPDF  = "export:pdf"
)
