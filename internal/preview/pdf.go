// Package preview renders documents for placement and turns preview clicks into
// document-native placements.
package preview

import (
	"bytes"
	"fmt"
	"image/png"
	"math"

	"go.uber.org/zap"

	"github.com/kwonno/O2-maintenance-sub000/internal/coords"
	"github.com/kwonno/O2-maintenance-sub000/internal/document"
	"github.com/kwonno/O2-maintenance-sub000/internal/pdf/wrapper"
)

// PDFRenderer loads PDFs into independent, page-addressable views.
// It holds no per-document state and is safe for concurrent use.
type PDFRenderer struct {
	geometry   *wrapper.GeometryFactory
	rasterizer Rasterizer
	logger     *zap.Logger
}

// NewPDFRenderer wires the renderer's backends. Called once at startup.
func NewPDFRenderer(geometry *wrapper.GeometryFactory, rasterizer Rasterizer, logger *zap.Logger) *PDFRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if geometry == nil {
		geometry = wrapper.NewGeometryFactory(wrapper.LibraryAuto, logger)
	}
	if rasterizer == nil {
		rasterizer = NewContentRasterizer(logger)
	}
	return &PDFRenderer{geometry: geometry, rasterizer: rasterizer, logger: logger}
}

// Load parses data and lays out page 1 inside a container of the given size
func (r *PDFRenderer) Load(data []byte, containerWidth, containerHeight float64) (*PDFView, error) {
	geom, err := r.geometry.Open(data)
	if err != nil {
		r.logger.Warn("pdf preview load failed", zap.Error(err))
		return nil, document.NewDocumentLoadError("pdf_preview", err)
	}

	pages, err := r.rasterizer.Open(data)
	if err != nil {
		r.logger.Warn("pdf content unreadable, previewing page frames only", zap.Error(err))
		pages = PageFrameRasterizer{}
	}

	v := &PDFView{
		geom:            geom,
		pages:           pages,
		page:            1,
		containerWidth:  containerWidth,
		containerHeight: containerHeight,
	}
	if err := v.layout(); err != nil {
		return nil, document.NewDocumentLoadError("pdf_preview", err)
	}
	return v, nil
}

// PDFView is a single loaded document. It is owned by one caller and is not safe for
// concurrent use.
type PDFView struct {
	geom  wrapper.Geometry
	pages PageRasterizer

	page                            int
	containerWidth, containerHeight float64

	size                      wrapper.PageSize
	rasterWidth, rasterHeight int
}

// layout recomputes the auto-fit raster for the current page and container
func (v *PDFView) layout() error {
	size, err := v.geom.PageSize(v.page)
	if err != nil {
		return err
	}
	v.size = size

	fit := coords.AutoFitScale(v.containerWidth, v.containerHeight, size.Width, size.Height)
	v.rasterWidth = int(math.Round(size.Width * fit))
	v.rasterHeight = int(math.Round(size.Height * fit))
	return nil
}

// PageCount returns the number of pages
func (v *PDFView) PageCount() int { return v.geom.PageCount() }

// CurrentPage returns the 1-based page on display
func (v *PDFView) CurrentPage() int { return v.page }

// PageSize returns the native size of the current page
func (v *PDFView) PageSize() wrapper.PageSize { return v.size }

// GoToPage switches pages. Out-of-range pages are ignored and report false.
func (v *PDFView) GoToPage(n int) bool {
	if n < 1 || n > v.PageCount() || n == v.page {
		return false
	}
	prev := v.page
	v.page = n
	if err := v.layout(); err != nil {
		v.page = prev
		_ = v.layout()
		return false
	}
	return true
}

// Resize lays the current page out again for a new container size
func (v *PDFView) Resize(containerWidth, containerHeight float64) {
	v.containerWidth = containerWidth
	v.containerHeight = containerHeight
	_ = v.layout()
}

// RasterSize returns the pixel size of the raster currently on display
func (v *PDFView) RasterSize() (width, height int) {
	return v.rasterWidth, v.rasterHeight
}

// Scale is derived from the displayed raster each time it is asked for, never cached
func (v *PDFView) Scale() float64 {
	return coords.ScaleFromRaster(float64(v.rasterWidth), v.size.Width)
}

// OnClick converts a raster click into a placement on the current page
func (v *PDFView) OnClick(screenX, screenY float64) (document.SignaturePlacement, error) {
	native, err := coords.ScreenToNative(screenX, screenY, v.Scale(), v.size.Height)
	if err != nil {
		return document.SignaturePlacement{}, document.NewInvalidPlacementError("pdf_click",
			fmt.Sprintf("no raster on display: %v", err))
	}
	native = coords.Clamp(native, v.size.Width, v.size.Height)
	return document.SignaturePlacement{X: native.X, Y: native.Y, Page: v.page}, nil
}

// MarkerPosition maps a placement back onto the raster
func (v *PDFView) MarkerPosition(p document.SignaturePlacement) (coords.Point, error) {
	return coords.NativeToScreen(p.X, p.Y, v.Scale(), v.size.Height)
}

// Render rasterizes the current page as PNG. marker is drawn only if it targets this page.
func (v *PDFView) Render(marker *document.SignaturePlacement) ([]byte, error) {
	if v.rasterWidth < 1 || v.rasterHeight < 1 {
		return nil, document.NewInvalidPlacementError("pdf_render", "container has no area")
	}

	img, err := v.pages.Rasterize(v.page, v.size, v.rasterWidth, v.rasterHeight)
	if err != nil {
		return nil, fmt.Errorf("rasterize page %d: %w", v.page, err)
	}

	if marker != nil && marker.Page == v.page {
		p, err := v.MarkerPosition(*marker)
		if err != nil {
			return nil, err
		}
		drawMarker(img, p)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
