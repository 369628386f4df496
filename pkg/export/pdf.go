package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/takeoffworks/estimator/pkg/types"
)

// renderPDF builds a minimal, single-font, single-page (overflowing to
// additional pages as needed) PDF table of BoQ rows, using the 14
// standard PDF fonts so no font file needs to be embedded. This is not a
// general-purpose PDF renderer — no images, no pagination beyond a fixed
// row budget per page, no ecosystem PDF library improves on a document
// this simple enough to hand-write directly against the object model.
func renderPDF(items []*types.BoqItem) ([]byte, error) {
	const (
		pageWidth    = 612.0 // US Letter, points
		pageHeight   = 792.0
		marginTop    = 740.0
		lineHeight   = 14.0
		rowsPerPage  = 48
		fontSize     = 9
	)

	header := fmt.Sprintf("%-12s %-28s %-6s %10s %12s %12s", "CODE", "DESCRIPTION", "UNIT", "QTY", "UNIT PRICE", "TOTAL")
	var lines []string
	lines = append(lines, header)
	for _, it := range items {
		desc := it.Description
		if len(desc) > 28 {
			desc = desc[:25] + "..."
		}
		lines = append(lines, fmt.Sprintf("%-12s %-28s %-6s %10.2f %12.2f %12.2f",
			truncate(it.Code, 12), desc, truncate(it.Unit, 6), it.Qty, it.UnitPrice, it.TotalPrice))
	}

	var pageContents []string
	for i := 0; i < len(lines); i += rowsPerPage {
		end := i + rowsPerPage
		if end > len(lines) {
			end = len(lines)
		}
		pageContents = append(pageContents, renderPage(lines[i:end], marginTop, lineHeight, fontSize))
	}
	if len(pageContents) == 0 {
		pageContents = []string{renderPage(nil, marginTop, lineHeight, fontSize)}
	}

	return buildPDF(pageContents, pageWidth, pageHeight)
}

func renderPage(lines []string, marginTop, lineHeight float64, fontSize int) string {
	var b strings.Builder
	b.WriteString("BT\n")
	fmt.Fprintf(&b, "/F1 %d Tf\n", fontSize)
	y := marginTop
	for _, line := range lines {
		fmt.Fprintf(&b, "1 0 0 1 36 %.2f Tm\n", y)
		fmt.Fprintf(&b, "(%s) Tj\n", escapePDFString(line))
		y -= lineHeight
	}
	b.WriteString("ET")
	return b.String()
}

func escapePDFString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "(", `\(`)
	s = strings.ReplaceAll(s, ")", `\)`)
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// buildPDF assembles a minimal PDF 1.4 document: a Catalog, a Pages tree,
// one Page object per rendered page, a Contents stream per page, and one
// shared Font resource (Helvetica), with a byte-accurate xref table.
func buildPDF(pageContents []string, width, height float64) ([]byte, error) {
	var buf bytes.Buffer
	offsets := []int{}

	writeObj := func(n int, body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", n, body)
	}

	buf.WriteString("%PDF-1.4\n")

	numPages := len(pageContents)
	// Object numbering: 1=Catalog, 2=Pages, 3=Font,
	// then for each page i (0-indexed): page obj = 4+2i, content obj = 5+2i.
	pagesKids := make([]string, numPages)
	for i := range pageContents {
		pagesKids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(pagesKids, " "), numPages))
	writeObj(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i, content := range pageContents {
		pageObjNum := 4 + 2*i
		contentObjNum := 5 + 2*i
		writeObj(pageObjNum, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %.0f %.0f] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			width, height, contentObjNum))
		writeObj(contentObjNum, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xrefStart := buf.Len()
	totalObjs := len(offsets) + 1
	fmt.Fprintf(&buf, "xref\n0 %d\n", totalObjs)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF", totalObjs, xrefStart)

	return buf.Bytes(), nil
}
