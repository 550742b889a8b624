package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/kwonno/O2-maintenance-sub000/internal/pdf/wrapper"
)

const (
	// maxFormDepth bounds nested form XObjects, which may reference each other
	maxFormDepth = 8
	// maxImagePixels caps decoded image XObjects; larger ones are drawn as a placeholder box
	maxImagePixels = 16 << 20
	// curveSteps is the number of line segments a stroked cubic is flattened into
	curveSteps = 16
)

var (
	placeholderColor = color.NRGBA{0xe0, 0xe0, 0xe0, 0xff}
	black            = color.NRGBA{A: 0xff}

	errUnsupportedImage = errors.New("unsupported image encoding")
)

var (
	facesOnce            sync.Once
	regularFace, boldFace *sfnt.Font
)

// faces parses the bundled Go fonts used to draw text glyphs
func faces() (regular, bold *sfnt.Font) {
	facesOnce.Do(func() {
		regularFace, _ = sfnt.Parse(goregular.TTF)
		boldFace, _ = sfnt.Parse(gobold.TTF)
		if boldFace == nil {
			boldFace = regularFace
		}
	})
	return regularFace, boldFace
}

// ContentRasterizer paints page content: filled and stroked paths, text, form XObjects and
// Flate-encoded image XObjects. Glyph shapes come from the Go fonts; their positions and
// advances come from the document's own font metrics. Clipping paths are not applied.
type ContentRasterizer struct {
	logger *zap.Logger
}

// NewContentRasterizer creates the default page rasterizer
func NewContentRasterizer(logger *zap.Logger) *ContentRasterizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentRasterizer{logger: logger}
}

// Open implements Rasterizer
func (c *ContentRasterizer) Open(data []byte) (pages PageRasterizer, err error) {
	// ledongthuc panics on some malformed inputs instead of returning an error
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return &contentDocument{reader: reader, logger: c.logger}, nil
}

type contentDocument struct {
	reader *pdf.Reader
	logger *zap.Logger
}

// Rasterize implements PageRasterizer. Content that fails to parse leaves the page painted
// up to the failing operator.
func (d *contentDocument) Rasterize(page int, size wrapper.PageSize, width, height int) (img *image.RGBA, err error) {
	img = blankPage(width, height)
	if !size.Valid() {
		return img, nil
	}

	var p pdf.Page
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("read page %d: %v", page, r)
			}
		}()
		p = d.reader.Page(page)
	}()
	if err != nil || p.V.IsNull() {
		return img, err
	}

	llx, ury := pageOrigin(p, size)
	kx := float64(width) / size.Width
	ky := float64(height) / size.Height
	pt := newPainter(img, affine{kx, 0, 0, -ky, -llx * kx, ury * ky})
	pt.run(p.V.Key("Contents"), p.Resources(), 0)
	if pt.err != nil {
		d.logger.Warn("page content partially rendered", zap.Int("page", page), zap.Error(pt.err))
	}
	return img, nil
}

// pageOrigin returns the MediaBox left and top edges in user space
func pageOrigin(p pdf.Page, size wrapper.PageSize) (llx, ury float64) {
	box := p.MediaBox()
	if box.Kind() != pdf.Array || box.Len() != 4 {
		return 0, size.Height
	}
	x0, y0 := box.Index(0).Float64(), box.Index(1).Float64()
	x1, y1 := box.Index(2).Float64(), box.Index(3).Float64()
	return math.Min(x0, x1), math.Max(y0, y1)
}

// affine is a PDF transformation matrix [a b c d e f]
type affine [6]float64

var identity = affine{1, 0, 0, 1, 0, 0}

// then returns the transform that applies m first and n second
func (m affine) then(n affine) affine {
	return affine{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m affine) apply(x, y float64) point {
	return point{m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]}
}

// scale is the linear size factor of m, used for line widths
func (m affine) scale() float64 {
	return math.Sqrt(math.Abs(m[0]*m[3] - m[1]*m[2]))
}

func translate(tx, ty float64) affine { return affine{1, 0, 0, 1, tx, ty} }

func matrixOf(v pdf.Value) (affine, bool) {
	if v.Kind() != pdf.Array || v.Len() != 6 {
		return identity, false
	}
	var m affine
	for i := range m {
		m[i] = v.Index(i).Float64()
	}
	return m, true
}

type point struct{ x, y float64 }

// segment is one path element in device space; op is one of m l c h
type segment struct {
	op  byte
	pts [3]point
}

type gstate struct {
	ctm         affine
	fill        color.NRGBA
	stroke      color.NRGBA
	fillAlpha   float64
	strokeAlpha float64
	lineWidth   float64

	charSpace float64
	wordSpace float64
	hscale    float64
	leading   float64
	rise      float64
	font      *fontRef
	fontSize  float64
	mode      int
}

type painter struct {
	img *image.RGBA
	z   *vector.Rasterizer
	err error

	g     gstate
	stack []gstate

	path       []segment
	cur, start point

	tm, tlm affine

	buf    sfnt.Buffer
	glyphs map[glyphKey]sfnt.Segments
}

type glyphKey struct {
	face *sfnt.Font
	r    rune
}

func newPainter(img *image.RGBA, base affine) *painter {
	b := img.Bounds()
	return &painter{
		img: img,
		z:   vector.NewRasterizer(b.Dx(), b.Dy()),
		g: gstate{
			ctm:         base,
			fill:        black,
			stroke:      black,
			fillAlpha:   1,
			strokeAlpha: 1,
			lineWidth:   1,
			hscale:      1,
		},
		tm:     identity,
		tlm:    identity,
		glyphs: make(map[glyphKey]sfnt.Segments),
	}
}

// run interprets one content stream against its resource dictionary
func (p *painter) run(strm, res pdf.Value, depth int) {
	if k := strm.Kind(); k != pdf.Stream && k != pdf.Array {
		return
	}
	defer func() {
		if r := recover(); r != nil && p.err == nil {
			p.err = fmt.Errorf("content stream: %v", r)
		}
	}()

	fonts := make(map[string]*fontRef)
	pdf.Interpret(strm, func(stk *pdf.Stack, op string) {
		args := make([]pdf.Value, stk.Len())
		for i := len(args) - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}
		p.exec(op, args, res, fonts, depth)
	})
}

func (p *painter) exec(op string, args []pdf.Value, res pdf.Value, fonts map[string]*fontRef, depth int) {
	num := func(i int) float64 {
		if i < len(args) {
			return args[i].Float64()
		}
		return 0
	}
	g := &p.g

	switch op {
	case "q":
		p.stack = append(p.stack, p.g)
	case "Q":
		if n := len(p.stack); n > 0 {
			p.g = p.stack[n-1]
			p.stack = p.stack[:n-1]
		}
	case "cm":
		if len(args) == 6 {
			m := affine{num(0), num(1), num(2), num(3), num(4), num(5)}
			g.ctm = m.then(g.ctm)
		}
	case "w":
		g.lineWidth = num(0)
	case "gs":
		p.extGState(res.Key("ExtGState").Key(nameArg(args)))

	case "g", "rg", "k", "sc", "scn":
		if c, ok := deviceColor(numbers(args)); ok {
			g.fill = c
		}
	case "G", "RG", "K", "SC", "SCN":
		if c, ok := deviceColor(numbers(args)); ok {
			g.stroke = c
		}
	case "cs":
		g.fill = black
	case "CS":
		g.stroke = black

	case "m":
		p.start = g.ctm.apply(num(0), num(1))
		p.cur = p.start
		p.path = append(p.path, segment{op: 'm', pts: [3]point{p.cur}})
	case "l":
		p.lineTo(g.ctm.apply(num(0), num(1)))
	case "c":
		p.curveTo(g.ctm.apply(num(0), num(1)), g.ctm.apply(num(2), num(3)), g.ctm.apply(num(4), num(5)))
	case "v":
		p.curveTo(p.cur, g.ctm.apply(num(0), num(1)), g.ctm.apply(num(2), num(3)))
	case "y":
		end := g.ctm.apply(num(2), num(3))
		p.curveTo(g.ctm.apply(num(0), num(1)), end, end)
	case "h":
		p.closePath()
	case "re":
		x, y, w, h := num(0), num(1), num(2), num(3)
		p.start = g.ctm.apply(x, y)
		p.cur = p.start
		p.path = append(p.path, segment{op: 'm', pts: [3]point{p.cur}})
		p.lineTo(g.ctm.apply(x+w, y))
		p.lineTo(g.ctm.apply(x+w, y+h))
		p.lineTo(g.ctm.apply(x, y+h))
		p.closePath()

	case "f", "F", "f*":
		p.fillPath()
		p.path = p.path[:0]
	case "S":
		p.strokePath()
		p.path = p.path[:0]
	case "s":
		p.closePath()
		p.strokePath()
		p.path = p.path[:0]
	case "B", "B*":
		p.fillPath()
		p.strokePath()
		p.path = p.path[:0]
	case "b", "b*":
		p.closePath()
		p.fillPath()
		p.strokePath()
		p.path = p.path[:0]
	case "n":
		p.path = p.path[:0]

	case "BT":
		p.tm, p.tlm = identity, identity
	case "Tc":
		g.charSpace = num(0)
	case "Tw":
		g.wordSpace = num(0)
	case "Tz":
		g.hscale = num(0) / 100
	case "TL":
		g.leading = num(0)
	case "Tr":
		g.mode = int(num(0))
	case "Ts":
		g.rise = num(0)
	case "Tf":
		name := nameArg(args)
		f, ok := fonts[name]
		if !ok {
			f = newFontRef(res.Key("Font").Key(name))
			fonts[name] = f
		}
		g.font = f
		if len(args) > 1 {
			g.fontSize = num(1)
		}
	case "Td":
		p.tlm = translate(num(0), num(1)).then(p.tlm)
		p.tm = p.tlm
	case "TD":
		g.leading = -num(1)
		p.tlm = translate(num(0), num(1)).then(p.tlm)
		p.tm = p.tlm
	case "Tm":
		if len(args) == 6 {
			p.tm = affine{num(0), num(1), num(2), num(3), num(4), num(5)}
			p.tlm = p.tm
		}
	case "T*":
		p.nextLine()
	case "Tj":
		if len(args) > 0 {
			p.showText(args[0].RawString())
		}
	case "'":
		p.nextLine()
		if len(args) > 0 {
			p.showText(args[0].RawString())
		}
	case "\"":
		if len(args) == 3 {
			g.wordSpace, g.charSpace = num(0), num(1)
			p.nextLine()
			p.showText(args[2].RawString())
		}
	case "TJ":
		if len(args) == 0 {
			return
		}
		items := args[0]
		for i := 0; i < items.Len(); i++ {
			it := items.Index(i)
			if it.Kind() == pdf.String {
				p.showText(it.RawString())
				continue
			}
			p.tm = translate(-it.Float64()/1000*g.fontSize*g.hscale, 0).then(p.tm)
		}

	case "Do":
		p.xobject(res, nameArg(args), depth)
	}
}

func nameArg(args []pdf.Value) string {
	if len(args) == 0 {
		return ""
	}
	return args[0].Name()
}

func numbers(args []pdf.Value) []float64 {
	out := make([]float64, 0, len(args))
	for _, a := range args {
		if k := a.Kind(); k == pdf.Integer || k == pdf.Real {
			out = append(out, a.Float64())
		}
	}
	return out
}

// deviceColor maps gray, RGB or CMYK operands to a color
func deviceColor(v []float64) (color.NRGBA, bool) {
	u := func(x float64) uint8 { return uint8(math.Round(clamp01(x) * 0xff)) }
	switch len(v) {
	case 1:
		return color.NRGBA{u(v[0]), u(v[0]), u(v[0]), 0xff}, true
	case 3:
		return color.NRGBA{u(v[0]), u(v[1]), u(v[2]), 0xff}, true
	case 4:
		k := 1 - clamp01(v[3])
		return color.NRGBA{
			u((1 - clamp01(v[0])) * k),
			u((1 - clamp01(v[1])) * k),
			u((1 - clamp01(v[2])) * k),
			0xff,
		}, true
	}
	return color.NRGBA{}, false
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

func withAlpha(c color.NRGBA, alpha float64) *image.Uniform {
	c.A = uint8(math.Round(float64(c.A) * clamp01(alpha)))
	return image.NewUniform(c)
}

func (p *painter) extGState(gs pdf.Value) {
	if gs.Kind() != pdf.Dict {
		return
	}
	if v := gs.Key("ca"); !v.IsNull() {
		p.g.fillAlpha = v.Float64()
	}
	if v := gs.Key("CA"); !v.IsNull() {
		p.g.strokeAlpha = v.Float64()
	}
	if v := gs.Key("LW"); !v.IsNull() {
		p.g.lineWidth = v.Float64()
	}
}

func (p *painter) lineTo(pt point) {
	p.path = append(p.path, segment{op: 'l', pts: [3]point{pt}})
	p.cur = pt
}

func (p *painter) curveTo(c1, c2, end point) {
	p.path = append(p.path, segment{op: 'c', pts: [3]point{c1, c2, end}})
	p.cur = end
}

func (p *painter) closePath() {
	p.path = append(p.path, segment{op: 'h'})
	p.cur = p.start
}

func (p *painter) resetRaster() {
	b := p.img.Bounds()
	p.z.Reset(b.Dx(), b.Dy())
}

func (p *painter) fillPath() {
	if len(p.path) == 0 {
		return
	}
	p.resetRaster()
	open := false
	for _, s := range p.path {
		switch s.op {
		case 'm':
			if open {
				p.z.ClosePath()
			}
			p.z.MoveTo(f32(s.pts[0]))
			open = true
		case 'l':
			p.z.LineTo(f32(s.pts[0]))
		case 'c':
			x1, y1 := f32(s.pts[0])
			x2, y2 := f32(s.pts[1])
			x3, y3 := f32(s.pts[2])
			p.z.CubeTo(x1, y1, x2, y2, x3, y3)
		case 'h':
			p.z.ClosePath()
		}
	}
	if open {
		p.z.ClosePath()
	}
	p.z.Draw(p.img, p.img.Bounds(), withAlpha(p.g.fill, p.g.fillAlpha), image.Point{})
}

// strokePath outlines every segment as a quad with round joins and caps
func (p *painter) strokePath() {
	if len(p.path) == 0 {
		return
	}
	half := math.Max(p.g.lineWidth*p.g.ctm.scale()/2, 0.5)

	p.resetRaster()
	var cur, start point
	for _, s := range p.path {
		switch s.op {
		case 'm':
			cur, start = s.pts[0], s.pts[0]
			disc(p.z, cur.x, cur.y, half)
		case 'l':
			strokeQuad(p.z, cur, s.pts[0], half)
			cur = s.pts[0]
		case 'c':
			from := cur
			for i := 1; i <= curveSteps; i++ {
				to := cubicAt(cur, s.pts[0], s.pts[1], s.pts[2], float64(i)/curveSteps)
				strokeQuad(p.z, from, to, half)
				from = to
			}
			cur = s.pts[2]
		case 'h':
			strokeQuad(p.z, cur, start, half)
			cur = start
		}
	}
	p.z.Draw(p.img, p.img.Bounds(), withAlpha(p.g.stroke, p.g.strokeAlpha), image.Point{})
}

// strokeQuad adds the rectangle of half-width w around a -> b plus a round cap at b
func strokeQuad(z *vector.Rasterizer, a, b point, w float64) {
	vx, vy := b.x-a.x, b.y-a.y
	l := math.Hypot(vx, vy)
	if l == 0 {
		return
	}
	nx, ny := -vy/l*w, vx/l*w
	z.MoveTo(float32(a.x+nx), float32(a.y+ny))
	z.LineTo(float32(b.x+nx), float32(b.y+ny))
	z.LineTo(float32(b.x-nx), float32(b.y-ny))
	z.LineTo(float32(a.x-nx), float32(a.y-ny))
	z.ClosePath()
	disc(z, b.x, b.y, w)
}

func cubicAt(p0, p1, p2, p3 point, t float64) point {
	u := 1 - t
	a, b, c, d := u*u*u, 3*u*u*t, 3*u*t*t, t*t*t
	return point{
		a*p0.x + b*p1.x + c*p2.x + d*p3.x,
		a*p0.y + b*p1.y + c*p2.y + d*p3.y,
	}
}

func f32(pt point) (float32, float32) { return float32(pt.x), float32(pt.y) }

func (p *painter) nextLine() {
	p.tlm = translate(0, -p.g.leading).then(p.tlm)
	p.tm = p.tlm
}

// fontRef is a document font: codes, widths and text decoding, drawn with a Go face
type fontRef struct {
	font    pdf.Font
	enc     pdf.TextEncoding
	twoByte bool
	face    *sfnt.Font

	cidWidths    map[int]float64
	defaultWidth float64
}

func newFontRef(v pdf.Value) *fontRef {
	regular, bold := faces()
	f := &fontRef{font: pdf.Font{V: v}, face: regular}
	f.enc = f.font.Encoder()
	if base := f.font.BaseFont(); strings.Contains(base, "Bold") || strings.Contains(base, "Black") {
		f.face = bold
	}

	if v.Key("Subtype").Name() == "Type0" {
		f.twoByte = true
		f.cidWidths, f.defaultWidth = cidWidths(v.Key("DescendantFonts").Index(0))
	}
	return f
}

// cidWidths reads a CIDFont W array: "c [w1 w2 ...]" and "cfirst clast w" runs
func cidWidths(desc pdf.Value) (map[int]float64, float64) {
	dw := 1000.0
	if v := desc.Key("DW"); !v.IsNull() {
		dw = v.Float64()
	}
	widths := make(map[int]float64)
	w := desc.Key("W")
	for i := 0; i < w.Len(); {
		first := int(w.Index(i).Int64())
		next := w.Index(i + 1)
		if next.Kind() == pdf.Array {
			for j := 0; j < next.Len(); j++ {
				widths[first+j] = next.Index(j).Float64()
			}
			i += 2
			continue
		}
		last := int(next.Int64())
		width := w.Index(i + 2).Float64()
		for c := first; c <= last && c-first < 0xffff; c++ {
			widths[c] = width
		}
		i += 3
	}
	return widths, dw
}

// width returns the advance of code in thousandths of text space, or 0 if unknown
func (f *fontRef) width(code int) float64 {
	if f.twoByte {
		if w, ok := f.cidWidths[code]; ok {
			return w
		}
		return f.defaultWidth
	}
	return f.font.Width(code)
}

func (p *painter) showText(raw string) {
	g := &p.g
	f := g.font
	if f == nil {
		f = newFontRef(pdf.Value{})
		g.font = f
	}
	if f.face == nil {
		return
	}

	step := 1
	if f.twoByte {
		step = 2
	}
	visible := g.mode != 3 && g.mode != 7

	p.resetRaster()
	drawn := false
	for i := 0; i+step <= len(raw); i += step {
		code := int(raw[i])
		if step == 2 {
			code = code<<8 | int(raw[i+1])
		}
		r := firstRune(f.enc.Decode(raw[i : i+step]))

		w0 := f.width(code)
		if w0 == 0 {
			w0 = p.advance(f.face, r)
		}
		if visible {
			trm := affine{g.fontSize * g.hscale, 0, 0, g.fontSize, 0, g.rise}.then(p.tm).then(g.ctm)
			if p.glyph(f.face, r, trm) {
				drawn = true
			}
		}

		tx := w0/1000*g.fontSize + g.charSpace
		if step == 1 && code == ' ' {
			tx += g.wordSpace
		}
		p.tm = translate(tx*g.hscale, 0).then(p.tm)
	}
	if drawn {
		p.z.Draw(p.img, p.img.Bounds(), withAlpha(g.fill, g.fillAlpha), image.Point{})
	}
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

// glyph adds the outline of r, mapped by trm from glyph space, to the rasterizer
func (p *painter) glyph(face *sfnt.Font, r rune, trm affine) bool {
	if r <= ' ' {
		return false
	}
	key := glyphKey{face, r}
	segs, ok := p.glyphs[key]
	if !ok {
		gi, err := face.GlyphIndex(&p.buf, r)
		if err == nil && gi != 0 {
			loaded, err := face.LoadGlyph(&p.buf, gi, fixed.I(int(face.UnitsPerEm())), nil)
			if err == nil {
				segs = append(sfnt.Segments(nil), loaded...)
			}
		}
		p.glyphs[key] = segs
	}
	if len(segs) == 0 {
		return false
	}

	upem := float64(face.UnitsPerEm())
	at := func(a fixed.Point26_6) (float32, float32) {
		// sfnt y grows downward, glyph space upward
		return f32(trm.apply(float64(a.X)/64/upem, -float64(a.Y)/64/upem))
	}
	open := false
	for _, s := range segs {
		switch s.Op {
		case sfnt.SegmentOpMoveTo:
			if open {
				p.z.ClosePath()
			}
			p.z.MoveTo(at(s.Args[0]))
			open = true
		case sfnt.SegmentOpLineTo:
			p.z.LineTo(at(s.Args[0]))
		case sfnt.SegmentOpQuadTo:
			x1, y1 := at(s.Args[0])
			x2, y2 := at(s.Args[1])
			p.z.QuadTo(x1, y1, x2, y2)
		case sfnt.SegmentOpCubeTo:
			x1, y1 := at(s.Args[0])
			x2, y2 := at(s.Args[1])
			x3, y3 := at(s.Args[2])
			p.z.CubeTo(x1, y1, x2, y2, x3, y3)
		}
	}
	if open {
		p.z.ClosePath()
	}
	return true
}

// advance is the Go face's advance for r in thousandths of an em, for fonts without widths
func (p *painter) advance(face *sfnt.Font, r rune) float64 {
	gi, err := face.GlyphIndex(&p.buf, r)
	if err != nil || gi == 0 {
		return 500
	}
	upem := face.UnitsPerEm()
	adv, err := face.GlyphAdvance(&p.buf, gi, fixed.I(int(upem)), font.HintingNone)
	if err != nil {
		return 500
	}
	return float64(adv) / 64 / float64(upem) * 1000
}

func (p *painter) xobject(res pdf.Value, name string, depth int) {
	xo := res.Key("XObject").Key(name)
	if xo.Kind() != pdf.Stream {
		return
	}

	switch xo.Key("Subtype").Name() {
	case "Form":
		if depth >= maxFormDepth {
			return
		}
		saved, savedPath := p.g, p.path
		tm, tlm := p.tm, p.tlm
		if m, ok := matrixOf(xo.Key("Matrix")); ok {
			p.g.ctm = m.then(p.g.ctm)
		}
		inner := xo.Key("Resources")
		if inner.Kind() != pdf.Dict {
			inner = res
		}
		p.path = nil
		p.run(xo, inner, depth+1)
		p.g, p.path = saved, savedPath
		p.tm, p.tlm = tm, tlm

	case "Image":
		p.image(xo)
	}
}

// image draws an image XObject into the unit square of the current transform
func (p *painter) image(xo pdf.Value) {
	src, err := decodeImage(xo)
	if err != nil {
		p.fillUnitSquare(placeholderColor)
		return
	}

	b := src.Bounds()
	m := affine{1 / float64(b.Dx()), 0, 0, -1 / float64(b.Dy()), 0, 1}.then(p.g.ctm)
	s2d := f64.Aff3{m[0], m[2], m[4], m[1], m[3], m[5]}
	xdraw.BiLinear.Transform(p.img, s2d, src, b, xdraw.Over, nil)
}

func (p *painter) fillUnitSquare(c color.NRGBA) {
	saved, savedPath := p.g.fill, p.path
	ctm := p.g.ctm
	p.path = []segment{
		{op: 'm', pts: [3]point{ctm.apply(0, 0)}},
		{op: 'l', pts: [3]point{ctm.apply(1, 0)}},
		{op: 'l', pts: [3]point{ctm.apply(1, 1)}},
		{op: 'l', pts: [3]point{ctm.apply(0, 1)}},
		{op: 'h'},
	}
	p.g.fill = c
	p.fillPath()
	p.g.fill, p.path = saved, savedPath
}

// decodeImage reads 8-bit gray, RGB or CMYK samples, unfiltered or Flate-encoded,
// with an optional soft mask
func decodeImage(xo pdf.Value) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("decode image: %v", r)
		}
	}()

	w, h := int(xo.Key("Width").Int64()), int(xo.Key("Height").Int64())
	if w < 1 || h < 1 || int64(w)*int64(h) > maxImagePixels {
		return nil, errUnsupportedImage
	}
	comps := components(xo.Key("ColorSpace"))
	if comps == 0 || xo.Key("ImageMask").Bool() {
		return nil, errUnsupportedImage
	}
	samples, err := readSamples(xo, w, h, comps)
	if err != nil {
		return nil, err
	}

	var alpha []byte
	if sm := xo.Key("SMask"); sm.Kind() == pdf.Stream &&
		int(sm.Key("Width").Int64()) == w && int(sm.Key("Height").Int64()) == h {
		alpha, _ = readSamples(sm, w, h, 1)
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		var c color.NRGBA
		s := samples[i*comps : i*comps+comps]
		switch comps {
		case 1:
			c = color.NRGBA{s[0], s[0], s[0], 0xff}
		case 3:
			c = color.NRGBA{s[0], s[1], s[2], 0xff}
		case 4:
			k := 0xff - int(s[3])
			c = color.NRGBA{
				uint8((0xff - int(s[0])) * k / 0xff),
				uint8((0xff - int(s[1])) * k / 0xff),
				uint8((0xff - int(s[2])) * k / 0xff),
				0xff,
			}
		}
		if alpha != nil {
			c.A = alpha[i]
		}
		out.Pix[i*4], out.Pix[i*4+1], out.Pix[i*4+2], out.Pix[i*4+3] = c.R, c.G, c.B, c.A
	}
	return out, nil
}

// components returns the samples per pixel of a device or ICC color space, or 0
func components(cs pdf.Value) int {
	name := cs.Name()
	if cs.Kind() == pdf.Array {
		name = cs.Index(0).Name()
		if name == "ICCBased" {
			return int(cs.Index(1).Key("N").Int64())
		}
	}
	switch name {
	case "DeviceGray", "CalGray":
		return 1
	case "DeviceRGB", "CalRGB":
		return 3
	case "DeviceCMYK":
		return 4
	}
	return 0
}

func readSamples(strm pdf.Value, w, h, comps int) ([]byte, error) {
	if strm.Key("BitsPerComponent").Int64() != 8 {
		return nil, errUnsupportedImage
	}
	filter := strm.Key("Filter")
	switch filter.Kind() {
	case pdf.Null:
	case pdf.Name:
		if filter.Name() != "FlateDecode" {
			return nil, errUnsupportedImage
		}
	default:
		return nil, errUnsupportedImage
	}

	want := w * h * comps
	data, err := io.ReadAll(io.LimitReader(strm.Reader(), int64(want)))
	if err != nil {
		return nil, err
	}
	if len(data) < want {
		return nil, fmt.Errorf("image data truncated: %d of %d bytes", len(data), want)
	}
	return data, nil
}
