// Package export renders document records as an XLSX workbook.
package export

import (
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pdf-intake/backend/internal/extract"
	"github.com/pdf-intake/backend/internal/models"
)

const SheetName = "Documents"

// ContentType is the MIME type of the workbook bytes.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Columns returns the header row for docs: bookkeeping fields, filename,
// the business fields, then any other payload keys in name order.
func Columns(docs []*models.Document) []string {
	cols := []string{"id", "status", "file_hash", "filename"}
	cols = append(cols, extract.BusinessFields...)

	known := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		known[c] = struct{}{}
	}
	var extra []string
	for _, d := range docs {
		for k := range d.Payload {
			if _, ok := known[k]; ok {
				continue
			}
			known[k] = struct{}{}
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)

	cols = append(cols, extra...)
	return append(cols, "error", "created_at", "updated_at")
}

// Workbook builds the XLSX bytes for docs, one row per document.
func Workbook(docs []*models.Document) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	cols := Columns(docs)
	for i, h := range cols {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", h, err)
		}
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return nil, fmt.Errorf("header %s: %w", h, err)
		}
	}

	for r, d := range docs {
		row := d.Flatten()
		row["created_at"] = formatTime(d.CreatedAt)
		row["updated_at"] = formatTime(d.UpdatedAt)
		for i, c := range cols {
			v, ok := row[c]
			if !ok || v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(i+1, r+2)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", r+2, c, err)
			}
			if err := f.SetCellValue(SheetName, cell, cellValue(v)); err != nil {
				return nil, fmt.Errorf("set %s: %w", cell, err)
			}
		}
	}

	for _, w := range []struct {
		col   string
		width float64
	}{{"A", 66}, {"B", 12}, {"C", 66}, {"D", 32}} {
		if err := f.SetColWidth(SheetName, w.col, w.col, w.width); err != nil {
			return nil, fmt.Errorf("column width %s: %w", w.col, err)
		}
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func cellValue(v any) any {
	switch t := v.(type) {
	case string, bool, int, int64, float64:
		return t
	case models.Status:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
