package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/takeoffworks/estimator/pkg/types"
)

// renderXLSX builds a minimal single-sheet OOXML workbook: no ecosystem
// spreadsheet library is present in this build's dependency set, and the
// format itself is a well-defined zip of small XML parts, so this writes
// those parts directly rather than pulling in a new dependency for one
// sheet of cells. Currency/number formatting goes through
// golang.org/x/text/number for locale-aware grouping, same as the rest
// of the stack's x/text usage.
func renderXLSX(items []*types.BoqItem) ([]byte, error) {
	printer := message.NewPrinter(language.English)

	var sheet bytes.Buffer
	sheet.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	sheet.WriteString(`<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData>`)

	writeRow(&sheet, 1, []string{"Code", "Description", "Unit", "Qty", "Unit Price", "Allowance", "Total Price"})
	for i, it := range items {
		row := uint32(i + 2)
		writeRow(&sheet, row, []string{
			it.Code,
			it.Description,
			it.Unit,
			printer.Sprintf("%v", number.Decimal(it.Qty, number.MaxFractionDigits(3))),
			printer.Sprintf("%v", number.Decimal(it.UnitPrice, number.MaxFractionDigits(2), number.MinFractionDigits(2))),
			printer.Sprintf("%v", number.Decimal(it.Allowance, number.MaxFractionDigits(2), number.MinFractionDigits(2))),
			printer.Sprintf("%v", number.Decimal(it.TotalPrice, number.MaxFractionDigits(2), number.MinFractionDigits(2))),
		})
	}
	sheet.WriteString(`</sheetData></worksheet>`)

	contentTypes := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/xl/workbook.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"/>
<Override PartName="/xl/worksheets/sheet1.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.worksheet+xml"/>
</Types>`

	rootRels := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="xl/workbook.xml"/>
</Relationships>`

	workbook := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
<sheets><sheet name="BoQ" sheetId="1" r:id="rId1"/></sheets>
</workbook>`

	workbookRels := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/>
</Relationships>`

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	parts := []struct{ name, body string }{
		{"[Content_Types].xml", contentTypes},
		{"_rels/.rels", rootRels},
		{"xl/workbook.xml", workbook},
		{"xl/_rels/workbook.xml.rels", workbookRels},
		{"xl/worksheets/sheet1.xml", sheet.String()},
	}
	for _, part := range parts {
		w, err := zw.Create(part.name)
		if err != nil {
			return nil, fmt.Errorf("export: create xlsx part %s: %w", part.name, err)
		}
		if _, err := w.Write([]byte(part.body)); err != nil {
			return nil, fmt.Errorf("export: write xlsx part %s: %w", part.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("export: close xlsx zip: %w", err)
	}
	return out.Bytes(), nil
}

func writeRow(sheet *bytes.Buffer, row uint32, cells []string) {
	fmt.Fprintf(sheet, `<row r="%d">`, row)
	for i, v := range cells {
		col := columnLetter(i)
		fmt.Fprintf(sheet, `<c r="%s%d" t="inlineStr"><is><t>%s</t></is></c>`, col, row, html.EscapeString(v))
	}
	sheet.WriteString(`</row>`)
}

// columnLetter converts a zero-based column index to its spreadsheet
// letter (0->A, 25->Z, 26->AA, ...).
func columnLetter(i int) string {
	var b []byte
	i++
	for i > 0 {
		i--
		b = append([]byte{byte('A' + i%26)}, b...)
		i /= 26
	}
	return string(b)
}
