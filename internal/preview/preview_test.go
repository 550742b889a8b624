package preview

import (
	"bytes"
	"errors"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonno/O2-maintenance-sub000/internal/document"
	"github.com/kwonno/O2-maintenance-sub000/internal/pdf/wrapper"
	"github.com/kwonno/O2-maintenance-sub000/internal/testutil"
)

func newPDFRenderer() *PDFRenderer {
	return NewPDFRenderer(wrapper.NewGeometryFactory(wrapper.LibraryPDFCPU, nil), nil, nil)
}

func TestPDFView_AutoFitAndClick(t *testing.T) {
	// 612x792 page in a 306-wide container renders at 0.5 * 0.95
	v, err := newPDFRenderer().Load(testutil.PDF(2, 612, 792), 306, 2000)
	require.NoError(t, err)

	assert.Equal(t, 2, v.PageCount())
	assert.Equal(t, 1, v.CurrentPage())

	w, h := v.RasterSize()
	assert.Equal(t, 291, w)
	assert.Equal(t, 376, h)

	p, err := v.OnClick(0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0, p.X, 1e-9)
	assert.InDelta(t, 792, p.Y, 1e-9, "top of the raster is the top of the page")
	assert.Equal(t, 1, p.Page)

	p, err = v.OnClick(float64(w)/2, float64(h))
	require.NoError(t, err)
	assert.InDelta(t, 306, p.X, 1e-9)
	assert.InDelta(t, 0, p.Y, 1.5, "bottom of the raster is near native y=0")
	assert.GreaterOrEqual(t, p.Y, 0.0)
}

func TestPDFView_ClickClampsToPage(t *testing.T) {
	v, err := newPDFRenderer().Load(testutil.PDF(1, 612, 792), 612, 792)
	require.NoError(t, err)

	w, h := v.RasterSize()
	p, err := v.OnClick(float64(w)+3, float64(h)+3)
	require.NoError(t, err)
	assert.Equal(t, 612.0, p.X)
	assert.Equal(t, 0.0, p.Y)
}

func TestPDFView_MarkerRoundTrip(t *testing.T) {
	v, err := newPDFRenderer().Load(testutil.PDF(1, 612, 792), 800, 600)
	require.NoError(t, err)

	p, err := v.OnClick(123, 217)
	require.NoError(t, err)
	m, err := v.MarkerPosition(p)
	require.NoError(t, err)
	assert.InDelta(t, 123, m.X, 1e-6)
	assert.InDelta(t, 217, m.Y, 1e-6)
}

func TestPDFView_ResizeRecomputesScale(t *testing.T) {
	v, err := newPDFRenderer().Load(testutil.PDF(1, 612, 792), 612, 792)
	require.NoError(t, err)
	before := v.Scale()

	v.Resize(306, 396)
	after := v.Scale()
	assert.Less(t, after, before)

	// the same physical click resolves with the new scale, not the stale one
	p, err := v.OnClick(100, 100)
	require.NoError(t, err)
	assert.InDelta(t, 100/after, p.X, 1e-9)
}

func TestPDFView_GoToPage(t *testing.T) {
	v, err := newPDFRenderer().Load(testutil.PDF(3, 612, 792), 612, 792)
	require.NoError(t, err)

	assert.False(t, v.GoToPage(0))
	assert.False(t, v.GoToPage(4))
	assert.Equal(t, 1, v.CurrentPage())

	assert.True(t, v.GoToPage(3))
	assert.Equal(t, 3, v.CurrentPage())

	p, err := v.OnClick(10, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Page)
}

func TestPDFView_Render(t *testing.T) {
	v, err := newPDFRenderer().Load(testutil.PDF(1, 612, 792), 400, 400)
	require.NoError(t, err)

	marker := document.SignaturePlacement{X: 306, Y: 396, Page: 1}
	data, err := v.Render(&marker)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	w, h := v.RasterSize()
	assert.Equal(t, w, img.Bounds().Dx())
	assert.Equal(t, h, img.Bounds().Dy())

	// marker center is painted, corners keep the page frame
	mp, err := v.MarkerPosition(marker)
	require.NoError(t, err)
	r, g, _, _ := img.At(int(mp.X), int(mp.Y)).RGBA()
	assert.Greater(t, r, g)
}

func TestPDFRenderer_LoadGarbage(t *testing.T) {
	_, err := newPDFRenderer().Load([]byte("%PDF-1.4 broken"), 100, 100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, document.ErrDocumentLoad))
}

func TestSheetModel_MergedClickAttribution(t *testing.T) {
	data := testutil.Workbook(map[string]any{"B5": "Signature"}, "B5:D5")
	m, err := NewSheetRenderer(0, nil).Load(data)
	require.NoError(t, err)

	tests := []struct {
		name    string
		offsetX float64
		want    string
	}{
		{name: "left tenth", offsetX: 0.1, want: "B5"},
		{name: "middle", offsetX: 0.5, want: "C5"},
		{name: "right tenth", offsetX: 0.9, want: "D5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := m.ResolveClick(CellClick{Address: "B5", OffsetX: tt.offsetX * 300, OffsetY: 10, Width: 300, Height: 20})
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.CellAddress)
			assert.Equal(t, 1, p.Page)
		})
	}
}

func TestSheetModel_ResolvePointDefaults(t *testing.T) {
	m, err := NewSheetRenderer(0, nil).Load(testutil.Workbook(map[string]any{"A1": "x"}))
	require.NoError(t, err)

	p, err := m.ResolvePoint(120, 40)
	require.NoError(t, err)
	assert.Equal(t, "C3", p.CellAddress)

	// the synthesized point is the center of C3 using the grid's sizes, and resolves back to C3
	grid := m.Grid()
	center := grid.CellCenter(2, 2)
	assert.InDelta(t, center.X, p.X, 1e-9)
	assert.InDelta(t, center.Y, p.Y, 1e-9)
	again, err := m.ResolvePoint(p.X, p.Y)
	require.NoError(t, err)
	assert.Equal(t, p, again)

	_, err = m.ResolvePoint(-1, 0)
	assert.True(t, errors.Is(err, document.ErrInvalidPlacement))
}

func TestSheetModel_BuildSuppressesMergedCells(t *testing.T) {
	data := testutil.Workbook(map[string]any{"A1": "Title", "C2": 42}, "A1:B2")
	m, err := NewSheetRenderer(0, nil).Load(data)
	require.NoError(t, err)

	v, err := m.Build()
	require.NoError(t, err)
	require.False(t, v.Placeholder)
	require.Len(t, v.Rows, 2)

	first := v.Rows[0].Cells
	require.Len(t, first, 2, "A1 anchor plus C1")
	assert.Equal(t, "A1", first[0].Address)
	assert.Equal(t, 2, first[0].RowSpan)
	assert.Equal(t, 2, first[0].ColSpan)
	assert.Equal(t, "Title", first[0].Display)

	second := v.Rows[1].Cells
	require.Len(t, second, 1)
	assert.Equal(t, "C2", second[0].Address)
	assert.Equal(t, "42", m.Cell(2, 1).Value)

	var html strings.Builder
	require.NoError(t, m.RenderHTML(&html))
	assert.Contains(t, html.String(), `data-cell="A1"`)
	assert.Contains(t, html.String(), `rowspan="2"`)
	assert.NotContains(t, html.String(), `data-cell="B2"`)
}

func TestSheetModel_Placeholder(t *testing.T) {
	data := testutil.Workbook(map[string]any{"J10": "far"})
	m, err := NewSheetRenderer(50, nil).Load(data)
	require.NoError(t, err)

	assert.True(t, m.Placeholder())
	v, err := m.Build()
	require.NoError(t, err)
	assert.True(t, v.Placeholder)
	assert.Empty(t, v.Rows)

	var html strings.Builder
	require.NoError(t, m.RenderHTML(&html))
	assert.Contains(t, html.String(), "too large to preview")

	// placements still resolve
	p, err := m.ResolvePoint(1, 1)
	require.NoError(t, err)
	assert.Equal(t, "A1", p.CellAddress)
}

func TestSheetRenderer_LoadGarbage(t *testing.T) {
	_, err := NewSheetRenderer(0, nil).Load([]byte("not a workbook"))
	assert.True(t, errors.Is(err, document.ErrDocumentLoad))
}
