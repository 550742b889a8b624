package stamp

import (
	"bytes"
	"fmt"
	"math"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/kwonno/O2-maintenance-sub000/internal/coords"
	"github.com/kwonno/O2-maintenance-sub000/internal/document"
	"github.com/kwonno/O2-maintenance-sub000/internal/pdf/wrapper"
	"github.com/kwonno/O2-maintenance-sub000/internal/signature"
)

// DrawRect returns the box of a center-anchored stamp of size w x h at (x, y)
func DrawRect(x, y, w, h float64) coords.Rect {
	return coords.Rect{X: x - w/2, Y: y - h/2, Width: w, Height: h}
}

func (e *Engine) stampPDF(req Request) (*Result, error) {
	geom, err := wrapper.NewPDFCPUReader().Open(req.Document)
	if err != nil {
		return nil, document.NewDocumentLoadError("pdf_stamp", err)
	}

	// stale placements from a replaced document yield the original, not an error
	if err := req.Signature.ValidateFor(document.TypePDF, geom.PageCount()); err != nil {
		return unmodified(req.Document, err), nil
	}
	page := req.Signature.Page
	size, err := geom.PageSize(page)
	if err != nil {
		return unmodified(req.Document, document.NewInvalidPlacementError("pdf_stamp", err.Error())), nil
	}

	img, err := signature.Normalize(req.Image)
	if err != nil {
		return nil, err
	}

	rect := DrawRect(req.Signature.X, req.Signature.Y,
		float64(img.Width)*e.opts.SignatureScale, float64(img.Height)*e.opts.SignatureScale)

	desc := fmt.Sprintf("position:bl, offset:%.2f %.2f, scalefactor:%.4f abs, rotation:0, opacity:1",
		rect.X, rect.Y, e.opts.SignatureScale)
	wm, err := api.ImageWatermarkForReader(bytes.NewReader(img.Data), desc, true, false, types.POINTS)
	if err != nil {
		return nil, document.NewImageDecodeError("pdf_stamp", err)
	}

	stamped, err := addWatermark(req.Document, page, wm)
	if err != nil {
		return nil, fmt.Errorf("stamp signature image on page %d: %w", page, err)
	}

	res := &Result{Data: stamped, Stamped: true, ImageRect: rect}

	text := req.labelText()
	if text == "" {
		return res, nil
	}

	center := e.labelCenter(req, rect, size)
	var drawn bool
	res.Data, res.Font, drawn = e.drawLabel(res, stamped, page, text, center)
	res.LabelDrawn = drawn
	return res, nil
}

// labelCenter is the label's own point when valid, else just below the image
func (e *Engine) labelCenter(req Request, img coords.Rect, page wrapper.PageSize) coords.Point {
	if req.Label.HasPoint() {
		if err := req.Label.Validate(); err == nil {
			return coords.Clamp(coords.Point{X: req.Label.X, Y: req.Label.Y}, page.Width, page.Height)
		}
	}
	below := coords.Point{
		X: img.X + img.Width/2,
		Y: img.Y - DefaultLabelGap - float64(e.opts.LabelFontSize)/2,
	}
	return coords.Clamp(below, page.Width, page.Height)
}

// drawLabel walks the font fallback chain. Each failure is recorded; if every attempt fails
// the image-only document is returned unchanged.
func (e *Engine) drawLabel(res *Result, src []byte, page int, text string, center coords.Point) ([]byte, string, bool) {
	candidates, warnings := e.fonts.Candidates(text)
	for _, w := range warnings {
		res.warn(w)
	}

	for _, fontName := range candidates {
		out, err := e.drawText(src, page, text, fontName, center)
		if err == nil {
			return out, fontName, true
		}
		res.warn(document.NewFontDegradedError(fmt.Sprintf("drawing label with font %q failed", fontName), err))
	}

	res.warn(document.NewFontDegradedError("label omitted, every font strategy failed", nil))
	return src, "", false
}

func (e *Engine) drawText(src []byte, page int, text, fontName string, center coords.Point) (out []byte, err error) {
	// pdfcpu panics on some font and encoding combinations
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("text watermark panicked: %v", r)
		}
	}()

	size := e.opts.LabelFontSize
	origin := labelBox(text, fontName, size, center)

	desc := fmt.Sprintf("points:%d, position:bl, offset:%.2f %.2f, scalefactor:1 abs, rotation:0, fillcolor:#000000, opacity:1",
		size, origin.X, origin.Y)
	if fontName != "" {
		desc = "fontname:" + fontName + ", " + desc
	}

	wm, err := api.TextWatermark(text, desc, true, false, types.POINTS)
	if err != nil {
		return nil, err
	}
	return addWatermark(src, page, wm)
}

// labelBox is the watermark box for a one-line label centered on center
func labelBox(text, fontName string, size int, center coords.Point) coords.Rect {
	width := TextWidth(text, fontName, size)
	if math.IsNaN(width) || width <= 0 {
		width = float64(size) * float64(len([]rune(text))) / 2
	}
	return DrawRect(center.X, center.Y, width, TextHeight(fontName, size))
}

func addWatermark(src []byte, page int, wm *model.Watermark) ([]byte, error) {
	var out bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(src), &out, []string{fmt.Sprint(page)}, wm, wrapper.NewConfiguration()); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
