// Package stamp bakes a signature image and an optional text label into a copy of a PDF or
// spreadsheet. The PDF backend draws with pdfcpu; the spreadsheet backend uses excelize.
package stamp

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kwonno/O2-maintenance-sub000/internal/coords"
	"github.com/kwonno/O2-maintenance-sub000/internal/document"
)

// Defaults for Options fields left zero
const (
	DefaultSignatureScale   = 0.3
	DefaultLabelFontSize    = 18
	DefaultSheetImageWidth  = 150
	DefaultSheetImageHeight = 60
	DefaultLabelGap         = 4.0
)

// Options configures an Engine
type Options struct {
	// FontSources are tried in order; the first that loads and covers the label wins
	FontSources []FontSource
	// FontCacheDir receives installed font metrics; defaults to a temp subdirectory
	FontCacheDir string
	// SignatureScale is applied to the image's pixel size to get its PDF size in points
	SignatureScale float64
	// LabelFontSize is the label size in points
	LabelFontSize int
	// SheetImageWidth and SheetImageHeight bound the anchored picture in pixels
	SheetImageWidth  int
	SheetImageHeight int
}

func (o Options) withDefaults() Options {
	if o.SignatureScale <= 0 {
		o.SignatureScale = DefaultSignatureScale
	}
	if o.LabelFontSize <= 0 {
		o.LabelFontSize = DefaultLabelFontSize
	}
	if o.SheetImageWidth <= 0 {
		o.SheetImageWidth = DefaultSheetImageWidth
	}
	if o.SheetImageHeight <= 0 {
		o.SheetImageHeight = DefaultSheetImageHeight
	}
	if o.FontCacheDir == "" {
		o.FontCacheDir = filepath.Join(os.TempDir(), "signstamp-fonts")
	}
	return o
}

// Request is one stamping job. Document is never modified.
type Request struct {
	Type      document.DocumentType
	Document  []byte
	Image     []byte
	Signature document.SignaturePlacement
	// Label positions the text independently; nil draws it next to the image
	Label *document.TextLabelPlacement
	// LabelText is the display name; Label.Text takes precedence when set
	LabelText string
}

func (r Request) labelText() string {
	if r.Label != nil && r.Label.Text != "" {
		return r.Label.Text
	}
	return r.LabelText
}

// Result is the stamped output
type Result struct {
	Data        []byte
	ContentType string
	// Stamped is false when the placement could not be applied and Data is the original document
	Stamped    bool
	LabelDrawn bool
	// Font is the font the label was drawn with ("" for the viewer default)
	Font string
	// ImageRect is the drawn image box in PDF points, origin bottom-left
	ImageRect coords.Rect
	// ImageCell and LabelCell are the anchor cells on spreadsheets
	ImageCell string
	LabelCell string
	// Warnings lists absorbed, non-fatal problems
	Warnings []error
}

func (r *Result) warn(err error) {
	r.Warnings = append(r.Warnings, err)
}

// Engine dispatches requests to the backend for their document type. It holds only
// read-only state and is safe for concurrent use.
type Engine struct {
	opts   Options
	fonts  *FontResolver
	logger *zap.Logger
}

// NewEngine installs the configured fonts and returns a ready engine. Call once at startup.
func NewEngine(opts Options, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	fonts, err := NewFontResolver(opts.FontSources, opts.FontCacheDir, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("stamping engine ready",
		zap.Strings("fonts", fonts.Fonts()),
		zap.Int("font_sources", len(opts.FontSources)),
		zap.Float64("signature_scale", opts.SignatureScale))

	return &Engine{opts: opts, fonts: fonts, logger: logger}, nil
}

// Fonts exposes the resolver, mainly for diagnostics
func (e *Engine) Fonts() *FontResolver {
	return e.fonts
}

// Stamp produces stamped document bytes. Load and image failures are fatal; placement and
// font problems are absorbed and reported in Result.Warnings.
func (e *Engine) Stamp(ctx context.Context, req Request) (*Result, error) {
	docType, err := document.ParseDocumentType(string(req.Type))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var res *Result
	if docType == document.TypePDF {
		res, err = e.stampPDF(req)
	} else {
		res, err = e.stampSheet(req)
	}
	if err != nil {
		return nil, err
	}

	// a request abandoned by its caller never receives output
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.ContentType = docType.ContentType()

	for _, w := range res.Warnings {
		e.logger.Warn("stamp degraded",
			zap.String("type", string(docType)),
			zap.String("kind", document.KindOf(w).String()),
			zap.Error(w))
	}
	return res, nil
}

// unmodified returns a copy of the original document as a non-stamped result
func unmodified(src []byte, reason error) *Result {
	res := &Result{Data: append([]byte(nil), src...)}
	res.warn(reason)
	return res
}
