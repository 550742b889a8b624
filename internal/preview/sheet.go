package preview

import (
	"fmt"
	"html/template"
	"io"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/kwonno/O2-maintenance-sub000/internal/coords"
	"github.com/kwonno/O2-maintenance-sub000/internal/document"
	"github.com/kwonno/O2-maintenance-sub000/internal/workbook"
)

// DefaultCellCeiling bounds the number of grid cells rendered before falling back to a placeholder
const DefaultCellCeiling = 20000

var excelizeRawValues = excelize.Options{RawCellValue: true}

// SheetRenderer loads spreadsheets. Only worksheet index 0 is addressable.
type SheetRenderer struct {
	ceiling int
	logger  *zap.Logger
}

// NewSheetRenderer creates a renderer with the given cell ceiling (<= 0 uses DefaultCellCeiling)
func NewSheetRenderer(ceiling int, logger *zap.Logger) *SheetRenderer {
	if ceiling <= 0 {
		ceiling = DefaultCellCeiling
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SheetRenderer{ceiling: ceiling, logger: logger}
}

// Load parses workbook bytes into the first sheet's model
func (r *SheetRenderer) Load(data []byte) (*SheetModel, error) {
	f, err := workbook.Open(data)
	if err != nil {
		r.logger.Warn("sheet preview load failed", zap.Error(err))
		return nil, err
	}
	defer f.Close()

	sheet, err := workbook.FirstSheet(f)
	if err != nil {
		return nil, err
	}
	if n := f.SheetCount; n > 1 {
		r.logger.Debug("workbook has several sheets, previewing the first", zap.Int("sheets", n), zap.String("sheet", sheet))
	}

	layout, err := workbook.ReadLayout(f, sheet)
	if err != nil {
		return nil, err
	}

	m := &SheetModel{layout: layout, ceiling: r.ceiling}
	if layout.CellCount() <= r.ceiling {
		raw, err := f.GetRows(sheet, excelizeRawValues)
		if err != nil {
			return nil, document.NewDocumentLoadError("sheet_preview", err)
		}
		m.raw = raw
	}
	return m, nil
}

// Cell is one worksheet cell as parsed
type Cell struct {
	Value   string `json:"value"`
	Display string `json:"display"`
}

// SheetModel is the parsed first worksheet. It is immutable once loaded.
type SheetModel struct {
	layout  *workbook.Layout
	raw     [][]string
	ceiling int
}

// Name returns the worksheet name
func (m *SheetModel) Name() string { return m.layout.Sheet }

// Dimensions returns the used range size
func (m *SheetModel) Dimensions() (cols, rows int) { return m.layout.Cols, m.layout.Rows }

// Grid returns the point grid shared with the stamping engine
func (m *SheetModel) Grid() coords.Grid { return m.layout.Grid }

// Merges returns the merge ranges of the sheet
func (m *SheetModel) Merges() []coords.MergeRange { return m.layout.Merges }

// Placeholder reports whether the sheet is too large to render fully
func (m *SheetModel) Placeholder() bool { return m.layout.CellCount() > m.ceiling }

// Cell returns the value and display text at (col, row)
func (m *SheetModel) Cell(col, row int) Cell {
	c := Cell{Display: m.layout.DisplayAt(col, row)}
	if row >= 0 && row < len(m.raw) && col >= 0 && col < len(m.raw[row]) {
		c.Value = m.raw[row][col]
	} else {
		c.Value = c.Display
	}
	return c
}

// GridView is the render-ready representation of the sheet
type GridView struct {
	Sheet       string       `json:"sheet"`
	Placeholder bool         `json:"placeholder"`
	CellCount   int          `json:"cell_count"`
	Columns     []GridColumn `json:"columns,omitempty"`
	Rows        []GridRow    `json:"rows,omitempty"`
}

// GridColumn carries a column header and width in points
type GridColumn struct {
	Index int     `json:"index"`
	Name  string  `json:"name"`
	Width float64 `json:"width"`
}

// GridRow is one rendered row
type GridRow struct {
	Index  int        `json:"index"`
	Height float64    `json:"height"`
	Cells  []GridCell `json:"cells"`
}

// GridCell is one rendered cell; merge anchors span their block and non-anchors are omitted
type GridCell struct {
	Row     int     `json:"row"`
	Col     int     `json:"col"`
	Address string  `json:"address"`
	Display string  `json:"display"`
	RowSpan int     `json:"rowspan"`
	ColSpan int     `json:"colspan"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

// Build assembles the grid view
func (m *SheetModel) Build() (*GridView, error) {
	l := m.layout
	v := &GridView{Sheet: l.Sheet, CellCount: l.CellCount(), Placeholder: m.Placeholder()}
	if v.Placeholder {
		return v, nil
	}

	for c := 0; c < l.Cols; c++ {
		name, err := coords.ColumnName(c)
		if err != nil {
			return nil, err
		}
		v.Columns = append(v.Columns, GridColumn{Index: c, Name: name, Width: l.Grid.ColWidth(c)})
	}

	for r := 0; r < l.Rows; r++ {
		row := GridRow{Index: r, Height: l.Grid.RowHeight(r)}
		for c := 0; c < l.Cols; c++ {
			cell := GridCell{Row: r, Col: c, RowSpan: 1, ColSpan: 1}
			bounds := l.Grid.CellBounds(c, r)

			if merge, ok := l.MergeAt(c, r); ok {
				if !merge.IsAnchor(c, r) {
					continue
				}
				cell.RowSpan = merge.RowSpan()
				cell.ColSpan = merge.ColSpan()
				bounds = l.Grid.MergeBounds(merge)
			}

			addr, err := coords.CellAddress(c, r)
			if err != nil {
				return nil, err
			}
			cell.Address = addr
			cell.Display = l.DisplayAt(c, r)
			cell.Width = bounds.Width
			cell.Height = bounds.Height
			row.Cells = append(row.Cells, cell)
		}
		v.Rows = append(v.Rows, row)
	}
	return v, nil
}

var gridTemplate = template.Must(template.New("grid").Parse(`{{if .Placeholder -}}
<div class="sheet-placeholder" data-sheet="{{.Sheet}}" data-cells="{{.CellCount}}">Sheet "{{.Sheet}}" is too large to preview ({{.CellCount}} cells).</div>
{{- else -}}
<table class="sheet-grid" data-sheet="{{.Sheet}}">
<colgroup>{{range .Columns}}<col data-col="{{.Index}}" style="width:{{printf "%.2f" .Width}}pt">{{end}}</colgroup>
{{range .Rows}}<tr data-row="{{.Index}}" style="height:{{printf "%.2f" .Height}}pt">{{range .Cells}}<td data-cell="{{.Address}}" data-row="{{.Row}}" data-col="{{.Col}}"{{if gt .RowSpan 1}} rowspan="{{.RowSpan}}"{{end}}{{if gt .ColSpan 1}} colspan="{{.ColSpan}}"{{end}}>{{.Display}}</td>{{end}}</tr>
{{end}}</table>
{{- end}}`))

// RenderHTML writes the grid as an HTML table whose cells carry their A1 address
func (m *SheetModel) RenderHTML(w io.Writer) error {
	v, err := m.Build()
	if err != nil {
		return err
	}
	return gridTemplate.Execute(w, v)
}

// CellClick is a click on a rendered cell: the cell's address plus the click offset and the
// rendered size of that cell, in any consistent unit
type CellClick struct {
	Address string  `json:"address"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

// ResolveClick attributes a click to the real cell under it. Clicks on a merged block are
// subdivided by the click's position within the block.
func (m *SheetModel) ResolveClick(click CellClick) (document.SignaturePlacement, error) {
	col, row, err := coords.ParseCellAddress(click.Address)
	if err != nil {
		return document.SignaturePlacement{}, document.NewInvalidPlacementError("sheet_click", err.Error())
	}

	if merge, ok := m.layout.MergeAt(col, row); ok {
		col, row = m.layout.Grid.SubdivideMerge(merge, fraction(click.OffsetX, click.Width), fraction(click.OffsetY, click.Height))
	}
	return m.placement(col, row)
}

// ResolvePoint resolves a native grid point to its cell by accumulation
func (m *SheetModel) ResolvePoint(x, y float64) (document.SignaturePlacement, error) {
	if x < 0 || y < 0 {
		return document.SignaturePlacement{}, document.NewInvalidPlacementError("sheet_point",
			fmt.Sprintf("coordinates must be non-negative, got (%g, %g)", x, y))
	}
	col, row := m.layout.Grid.Locate(x, y)
	return m.placement(col, row)
}

// placement synthesizes the native point as the center of the resolved cell
func (m *SheetModel) placement(col, row int) (document.SignaturePlacement, error) {
	addr, err := coords.CellAddress(col, row)
	if err != nil {
		return document.SignaturePlacement{}, document.NewInvalidPlacementError("sheet_click", err.Error())
	}
	center := m.layout.Grid.CellCenter(col, row)
	return document.SignaturePlacement{X: center.X, Y: center.Y, Page: 1, CellAddress: addr}, nil
}

func fraction(offset, size float64) float64 {
	if size <= 0 {
		return 0.5
	}
	return offset / size
}
