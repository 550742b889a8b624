// Package workbook reads the geometry of the first worksheet of a spreadsheet.
//
// The spreadsheet preview and the spreadsheet stamping backend both build their grid here, so a
// point resolved in the preview lands on the same cell when the engine converts it back.
package workbook

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/xuri/excelize/v2"

	"github.com/kwonno/O2-maintenance-sub000/internal/coords"
	"github.com/kwonno/O2-maintenance-sub000/internal/document"
)

// unsetColWidth is what excelize reports for a column without an explicit width
const unsetColWidth = 9.140625

// ErrNoSheet is returned for workbooks without any worksheet
var ErrNoSheet = errors.New("workbook has no worksheets")

// Open parses workbook bytes: OOXML packages through excelize, Excel 97-2003 compound files
// through the BIFF8 reader. Parse failures are DocumentLoad errors.
func Open(data []byte) (*excelize.File, error) {
	if IsLegacy(data) {
		stream, err := legacyStream(data)
		if err != nil {
			return nil, document.NewDocumentLoadError("workbook_open", err)
		}
		if stream != nil {
			f, err := openLegacy(stream)
			if err != nil {
				return nil, document.NewDocumentLoadError("workbook_xls", err)
			}
			return f, nil
		}
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, document.NewDocumentLoadError("workbook_open", err)
	}
	return f, nil
}

// FirstSheet returns the name of worksheet index 0
func FirstSheet(f *excelize.File) (string, error) {
	name := f.GetSheetName(0)
	if name == "" {
		return "", document.NewDocumentLoadError("workbook_sheet", ErrNoSheet)
	}
	return name, nil
}

// Layout is the point geometry of one worksheet
type Layout struct {
	Sheet   string
	Cols    int
	Rows    int
	Grid    coords.Grid
	Merges  []coords.MergeRange
	Display [][]string // formatted cell text as returned by excelize, ragged
}

// ReadLayout reads the used range, merges, column widths and row heights of sheet
func ReadLayout(f *excelize.File, sheet string) (*Layout, error) {
	display, err := f.GetRows(sheet)
	if err != nil {
		return nil, document.NewDocumentLoadError("workbook_rows", err)
	}

	l := &Layout{Sheet: sheet, Display: display, Rows: len(display)}
	for _, row := range display {
		l.Cols = max(l.Cols, len(row))
	}

	mergeCells, err := f.GetMergeCells(sheet)
	if err != nil {
		return nil, document.NewDocumentLoadError("workbook_merges", err)
	}
	for _, mc := range mergeCells {
		m, err := coords.ParseMergeRange(mc.GetStartAxis() + ":" + mc.GetEndAxis())
		if err != nil {
			return nil, document.NewDocumentLoadError("workbook_merges", err)
		}
		l.Merges = append(l.Merges, m)
		l.Cols = max(l.Cols, m.LastCol+1)
		l.Rows = max(l.Rows, m.LastRow+1)
	}

	l.Grid.ColWidths = make([]float64, l.Cols)
	for c := 0; c < l.Cols; c++ {
		name, err := coords.ColumnName(c)
		if err != nil {
			return nil, document.NewDocumentLoadError("workbook_cols", err)
		}
		width, err := f.GetColWidth(sheet, name)
		if err != nil {
			return nil, document.NewDocumentLoadError("workbook_cols", err)
		}
		l.Grid.ColWidths[c] = columnPoints(width)
	}

	l.Grid.RowHeights = make([]float64, l.Rows)
	for r := 0; r < l.Rows; r++ {
		height, err := f.GetRowHeight(sheet, r+1)
		if err != nil {
			return nil, document.NewDocumentLoadError("workbook_rows", err)
		}
		l.Grid.RowHeights[r] = height
	}

	return l, nil
}

// columnPoints converts an excelize column width to points; unset widths map to 0 so the
// grid falls back to the 8.43-character default
func columnPoints(chars float64) float64 {
	if chars <= 0 || math.Abs(chars-unsetColWidth) < 1e-9 {
		return 0
	}
	return coords.ColumnWidthPoints(chars)
}

// CellCount is the number of grid cells in the used range
func (l *Layout) CellCount() int {
	return l.Cols * l.Rows
}

// MergeAt returns the merge containing (col, row), if any
func (l *Layout) MergeAt(col, row int) (coords.MergeRange, bool) {
	for _, m := range l.Merges {
		if m.Contains(col, row) {
			return m, true
		}
	}
	return coords.MergeRange{}, false
}

// DisplayAt returns the formatted text of (col, row), or "" beyond the used range
func (l *Layout) DisplayAt(col, row int) string {
	if row < 0 || row >= len(l.Display) || col < 0 || col >= len(l.Display[row]) {
		return ""
	}
	return l.Display[row][col]
}

// Locate resolves a native point to its cell and A1 address
func (l *Layout) Locate(x, y float64) (col, row int, addr string, err error) {
	col, row = l.Grid.Locate(x, y)
	addr, err = coords.CellAddress(col, row)
	if err != nil {
		return 0, 0, "", fmt.Errorf("workbook: locate (%g, %g): %w", x, y, err)
	}
	return col, row, addr, nil
}
