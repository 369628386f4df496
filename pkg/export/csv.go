package export

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"github.com/takeoffworks/estimator/pkg/types"
)

func renderCSV(items []*types.BoqItem) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"code", "description", "unit", "qty", "unit_price", "allowance", "total_price"}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, it := range items {
		row := []string{
			it.Code,
			it.Description,
			it.Unit,
			strconv.FormatFloat(it.Qty, 'f', -1, 64),
			strconv.FormatFloat(it.UnitPrice, 'f', 2, 64),
			strconv.FormatFloat(it.Allowance, 'f', 2, 64),
			strconv.FormatFloat(it.TotalPrice, 'f', 2, 64),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
