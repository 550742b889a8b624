// Package signature collects signature images from freehand strokes or uploads and
// normalizes them into encoded images the stamping engine can embed.
package signature

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"

	"golang.org/x/image/vector"

	"github.com/kwonno/O2-maintenance-sub000/internal/document"
)

// Type tags how a signature was captured
type Type string

const (
	TypeDrawn    Type = "drawn"
	TypeUploaded Type = "uploaded"
)

// Default pad geometry in pixels
const (
	DefaultPadWidth    = 400
	DefaultPadHeight   = 160
	DefaultStrokeWidth = 2.5
)

var (
	// ErrEmptySignature is returned when finalizing with no strokes and no upload
	ErrEmptySignature = errors.New("signature is empty: draw a signature or choose a file")
	// ErrModeConflict is returned when mixing drawing and uploading in one session
	ErrModeConflict = errors.New("signature session already uses another capture mode")
)

// Capture is the finalized output of a session
type Capture struct {
	Image       Image  `json:"image"`
	Type        Type   `json:"type"`
	DisplayName string `json:"display_name,omitempty"`
}

// Pad accumulates freehand strokes. It is not safe for concurrent use.
type Pad struct {
	width, height int
	strokeWidth   float64
	strokes       [][]point
	drawing       bool
}

type point struct{ x, y float32 }

// NewPad creates a pad of the given pixel size
func NewPad(width, height int) *Pad {
	if width < 1 {
		width = DefaultPadWidth
	}
	if height < 1 {
		height = DefaultPadHeight
	}
	return &Pad{width: width, height: height, strokeWidth: DefaultStrokeWidth}
}

// PointerDown starts a stroke
func (p *Pad) PointerDown(x, y float64) {
	p.drawing = true
	p.strokes = append(p.strokes, []point{p.clamp(x, y)})
}

// PointerMove extends the current stroke; moves without a pressed pointer are ignored
func (p *Pad) PointerMove(x, y float64) {
	if !p.drawing {
		return
	}
	last := len(p.strokes) - 1
	p.strokes[last] = append(p.strokes[last], p.clamp(x, y))
}

// PointerUp ends the current stroke
func (p *Pad) PointerUp() {
	p.drawing = false
}

// Clear resets the canvas
func (p *Pad) Clear() {
	p.strokes = nil
	p.drawing = false
}

// Empty reports whether nothing has been drawn
func (p *Pad) Empty() bool {
	return len(p.strokes) == 0
}

func (p *Pad) clamp(x, y float64) point {
	return point{
		x: float32(math.Max(0, math.Min(x, float64(p.width)))),
		y: float32(math.Max(0, math.Min(y, float64(p.height)))),
	}
}

// Encode rasterizes the strokes onto a transparent canvas as PNG
func (p *Pad) Encode() (Image, error) {
	if p.Empty() {
		return Image{}, ErrEmptySignature
	}

	z := vector.NewRasterizer(p.width, p.height)
	half := float32(p.strokeWidth / 2)
	for _, stroke := range p.strokes {
		if len(stroke) == 1 {
			dot(z, stroke[0], half)
			continue
		}
		for i := 1; i < len(stroke); i++ {
			segment(z, stroke[i-1], stroke[i], half)
		}
	}

	img := image.NewNRGBA(image.Rect(0, 0, p.width, p.height))
	z.Draw(img, img.Bounds(), &image.Uniform{C: color.NRGBA{0x10, 0x10, 0x30, 0xff}}, image.Point{})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Image{}, document.NewImageDecodeError("encode_pad", err)
	}
	return Image{Data: buf.Bytes(), MIME: MIMEPNG, Width: p.width, Height: p.height}, nil
}

// segment adds a line of width 2*half from a to b with square caps
func segment(z *vector.Rasterizer, a, b point, half float32) {
	dx, dy := b.x-a.x, b.y-a.y
	l := float32(math.Hypot(float64(dx), float64(dy)))
	if l == 0 {
		dot(z, a, half)
		return
	}
	// unit normal and tangent scaled to half the stroke width
	nx, ny := -dy/l*half, dx/l*half
	tx, ty := dx/l*half, dy/l*half

	z.MoveTo(a.x-tx+nx, a.y-ty+ny)
	z.LineTo(b.x+tx+nx, b.y+ty+ny)
	z.LineTo(b.x+tx-nx, b.y+ty-ny)
	z.LineTo(a.x-tx-nx, a.y-ty-ny)
	z.ClosePath()
}

func dot(z *vector.Rasterizer, c point, half float32) {
	z.MoveTo(c.x-half, c.y-half)
	z.LineTo(c.x+half, c.y-half)
	z.LineTo(c.x+half, c.y+half)
	z.LineTo(c.x-half, c.y+half)
	z.ClosePath()
}

// Session holds one capture attempt. Drawing and uploading are mutually exclusive
// until Reset is called.
type Session struct {
	pad    *Pad
	upload *Image
}

// NewSession creates a session with a pad of the given size
func NewSession(padWidth, padHeight int) *Session {
	return &Session{pad: NewPad(padWidth, padHeight)}
}

// Mode returns the capture mode in use, or "" if none yet
func (s *Session) Mode() Type {
	switch {
	case s.upload != nil:
		return TypeUploaded
	case !s.pad.Empty():
		return TypeDrawn
	default:
		return ""
	}
}

// Pad returns the drawing pad, or ErrModeConflict once a file has been chosen
func (s *Session) Pad() (*Pad, error) {
	if s.upload != nil {
		return nil, ErrModeConflict
	}
	return s.pad, nil
}

// Upload stores a user-supplied image. It fails with ErrModeConflict once strokes exist.
func (s *Session) Upload(data []byte) error {
	if !s.pad.Empty() {
		return ErrModeConflict
	}
	img, err := Normalize(data)
	if err != nil {
		return err
	}
	s.upload = &img
	return nil
}

// Reset discards strokes and uploads
func (s *Session) Reset() {
	s.pad.Clear()
	s.upload = nil
}

// Finalize produces the capture. A session with no strokes and no file is rejected.
// The display name is optional and trimmed.
func (s *Session) Finalize(displayName string) (*Capture, error) {
	c := &Capture{DisplayName: strings.TrimSpace(displayName)}
	switch s.Mode() {
	case TypeUploaded:
		c.Image = *s.upload
		c.Type = TypeUploaded
	case TypeDrawn:
		img, err := s.pad.Encode()
		if err != nil {
			return nil, err
		}
		c.Image = img
		c.Type = TypeDrawn
	default:
		return nil, ErrEmptySignature
	}
	return c, nil
}

// FromUpload is a one-shot capture of an uploaded image
func FromUpload(data []byte, displayName string) (*Capture, error) {
	s := NewSession(0, 0)
	if err := s.Upload(data); err != nil {
		return nil, err
	}
	return s.Finalize(displayName)
}
