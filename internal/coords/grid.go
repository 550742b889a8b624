package coords

import (
	"fmt"
	"math"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	// DefaultColumnWidthChars is the spreadsheet default column width in characters
	DefaultColumnWidthChars = 8.43
	// PointsPerChar converts character-width units to points
	PointsPerChar = 7.0
	// DefaultRowHeight is the spreadsheet default row height in points
	DefaultRowHeight = 15.0

	// Sheet limits; grid walks never go past them
	MaxColumns = 16384
	MaxRows    = 1048576
)

// DefaultColumnWidth is the default column width in points (~59pt)
var DefaultColumnWidth = ColumnWidthPoints(DefaultColumnWidthChars)

// ColumnWidthPoints converts a width in characters to points
func ColumnWidthPoints(chars float64) float64 {
	return chars * PointsPerChar
}

// Grid describes the point geometry of a worksheet. Indices are zero-based. Columns or rows
// without an entry, or with a non-positive entry, use the defaults.
//
// The same Grid drives click resolution in the preview and cell resolution in the stamping
// engine, so both sides always agree on which cell a point belongs to.
type Grid struct {
	ColWidths  []float64 `json:"col_widths,omitempty"`
	RowHeights []float64 `json:"row_heights,omitempty"`
}

// ColWidth returns the width of col in points
func (g Grid) ColWidth(col int) float64 {
	if col >= 0 && col < len(g.ColWidths) && g.ColWidths[col] > 0 {
		return g.ColWidths[col]
	}
	return DefaultColumnWidth
}

// RowHeight returns the height of row in points
func (g Grid) RowHeight(row int) float64 {
	if row >= 0 && row < len(g.RowHeights) && g.RowHeights[row] > 0 {
		return g.RowHeights[row]
	}
	return DefaultRowHeight
}

// Locate resolves a native point to the zero-based (col, row) containing it by accumulating
// column widths and row heights until the running offset passes the point.
func (g Grid) Locate(x, y float64) (col, row int) {
	return locateAxis(x, MaxColumns, g.ColWidth), locateAxis(y, MaxRows, g.RowHeight)
}

func locateAxis(offset float64, limit int, size func(int) float64) int {
	if offset <= 0 || math.IsNaN(offset) {
		return 0
	}
	acc := 0.0
	for i := 0; i < limit; i++ {
		acc += size(i)
		if offset < acc {
			return i
		}
	}
	return limit - 1
}

// CellBounds returns the box of a cell; X/Y is its top-left corner
func (g Grid) CellBounds(col, row int) Rect {
	x := 0.0
	for c := 0; c < col; c++ {
		x += g.ColWidth(c)
	}
	y := 0.0
	for r := 0; r < row; r++ {
		y += g.RowHeight(r)
	}
	return Rect{X: x, Y: y, Width: g.ColWidth(col), Height: g.RowHeight(row)}
}

// CellOrigin returns the top-left corner of a cell
func (g Grid) CellOrigin(col, row int) Point {
	b := g.CellBounds(col, row)
	return Point{X: b.X, Y: b.Y}
}

// CellSize returns the width and height of a cell in points
func (g Grid) CellSize(col, row int) (width, height float64) {
	return g.ColWidth(col), g.RowHeight(row)
}

// CellCenter returns the center of a cell, the synthesized point stored alongside a cell address
func (g Grid) CellCenter(col, row int) Point {
	b := g.CellBounds(col, row)
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// MergeRange is an inclusive, zero-based block of merged cells
type MergeRange struct {
	FirstCol int `json:"first_col"`
	FirstRow int `json:"first_row"`
	LastCol  int `json:"last_col"`
	LastRow  int `json:"last_row"`
}

// ParseMergeRange parses a range such as "B5:D5"
func ParseMergeRange(ref string) (MergeRange, error) {
	start, end, ok := strings.Cut(ref, ":")
	if !ok {
		end = start
	}
	c1, r1, err := ParseCellAddress(start)
	if err != nil {
		return MergeRange{}, err
	}
	c2, r2, err := ParseCellAddress(end)
	if err != nil {
		return MergeRange{}, err
	}
	return MergeRange{
		FirstCol: min(c1, c2),
		FirstRow: min(r1, r2),
		LastCol:  max(c1, c2),
		LastRow:  max(r1, r2),
	}, nil
}

// Contains reports whether (col, row) lies inside the merge
func (m MergeRange) Contains(col, row int) bool {
	return col >= m.FirstCol && col <= m.LastCol && row >= m.FirstRow && row <= m.LastRow
}

// ColSpan is the number of columns covered
func (m MergeRange) ColSpan() int { return m.LastCol - m.FirstCol + 1 }

// RowSpan is the number of rows covered
func (m MergeRange) RowSpan() int { return m.LastRow - m.FirstRow + 1 }

// IsAnchor reports whether (col, row) is the top-left cell holding the merge's value
func (m MergeRange) IsAnchor(col, row int) bool {
	return col == m.FirstCol && row == m.FirstRow
}

// String returns the range in A1 notation, e.g. "B5:D5"
func (m MergeRange) String() string {
	start, err := CellAddress(m.FirstCol, m.FirstRow)
	if err != nil {
		return ""
	}
	end, err := CellAddress(m.LastCol, m.LastRow)
	if err != nil {
		return ""
	}
	return start + ":" + end
}

// MergeBounds returns the visual box of a merged block
func (g Grid) MergeBounds(m MergeRange) Rect {
	b := g.CellBounds(m.FirstCol, m.FirstRow)
	for c := m.FirstCol + 1; c <= m.LastCol; c++ {
		b.Width += g.ColWidth(c)
	}
	for r := m.FirstRow + 1; r <= m.LastRow; r++ {
		b.Height += g.RowHeight(r)
	}
	return b
}

// SubdivideMerge attributes a click inside a merged block to the sub-cell under it.
// fracX and fracY are the click position as a fraction of the merged box (0 = left/top).
// The box is split by the real column widths and row heights, not evenly.
func (g Grid) SubdivideMerge(m MergeRange, fracX, fracY float64) (col, row int) {
	b := g.MergeBounds(m)
	col = subdivideAxis(clampFraction(fracX)*b.Width, m.FirstCol, m.LastCol, g.ColWidth)
	row = subdivideAxis(clampFraction(fracY)*b.Height, m.FirstRow, m.LastRow, g.RowHeight)
	return col, row
}

func subdivideAxis(offset float64, first, last int, size func(int) float64) int {
	acc := 0.0
	for i := first; i <= last; i++ {
		acc += size(i)
		if offset < acc {
			return i
		}
	}
	return last
}

func clampFraction(f float64) float64 {
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// CellAddress returns the canonical A1 address of a zero-based (col, row)
func CellAddress(col, row int) (string, error) {
	return excelize.CoordinatesToCellName(col+1, row+1)
}

// ParseCellAddress resolves an A1 address to a zero-based (col, row)
func ParseCellAddress(addr string) (col, row int, err error) {
	c, r, err := excelize.CellNameToCoordinates(strings.TrimSpace(addr))
	if err != nil {
		return 0, 0, fmt.Errorf("coords: invalid cell address %q: %w", addr, err)
	}
	return c - 1, r - 1, nil
}

// ColumnName returns the column letters of a zero-based column index
func ColumnName(col int) (string, error) {
	return excelize.ColumnNumberToName(col + 1)
}
