package preview

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/vector"

	"github.com/kwonno/O2-maintenance-sub000/internal/coords"
	"github.com/kwonno/O2-maintenance-sub000/internal/pdf/wrapper"
)

// Rasterizer binds a PDF to a page painter. Open is called once per loaded document.
type Rasterizer interface {
	Open(data []byte) (PageRasterizer, error)
}

// PageRasterizer produces the bitmap shown for a page. The raster must be exactly width x height;
// click resolution derives its scale from those dimensions.
type PageRasterizer interface {
	Rasterize(page int, size wrapper.PageSize, width, height int) (*image.RGBA, error)
}

// MarkerRadius is the on-screen radius of the placement marker in pixels
const MarkerRadius = 6.0

var (
	pageColor   = color.RGBA{0xff, 0xff, 0xff, 0xff}
	borderColor = color.RGBA{0xc8, 0xc8, 0xc8, 0xff}
	markerColor = color.RGBA{0xd9, 0x30, 0x25, 0xff}
)

// PageFrameRasterizer draws only the page frame. The renderer falls back to it when the
// content parser cannot open a document the geometry reader accepted.
type PageFrameRasterizer struct{}

// Open implements Rasterizer
func (f PageFrameRasterizer) Open([]byte) (PageRasterizer, error) { return f, nil }

// Rasterize implements PageRasterizer
func (PageFrameRasterizer) Rasterize(_ int, _ wrapper.PageSize, width, height int) (*image.RGBA, error) {
	return blankPage(width, height), nil
}

// blankPage is a white page with a one pixel border
func blankPage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: borderColor}, image.Point{}, draw.Src)
	if width > 2 && height > 2 {
		draw.Draw(img, image.Rect(1, 1, width-1, height-1), &image.Uniform{C: pageColor}, image.Point{}, draw.Src)
	}
	return img
}

// drawMarker overlays a filled circle centered on p
func drawMarker(img *image.RGBA, p coords.Point) {
	b := img.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	disc(z, p.X, p.Y, MarkerRadius)
	z.Draw(img, b, &image.Uniform{C: markerColor}, image.Point{})
}

// disc adds a closed polygonal circle, wound like strokeQuad so overlapping pieces accumulate
func disc(z *vector.Rasterizer, cx, cy, r float64) {
	segments := 24
	if r < 2 {
		segments = 8
	}
	for i := 0; i <= segments; i++ {
		a := -2 * math.Pi * float64(i) / float64(segments)
		x := float32(cx + r*math.Cos(a))
		y := float32(cy + r*math.Sin(a))
		if i == 0 {
			z.MoveTo(x, y)
			continue
		}
		z.LineTo(x, y)
	}
	z.ClosePath()
}
