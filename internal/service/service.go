// Package service orchestrates the preview and stamping pipelines over a blob store:
// fetch, validate, render or stamp, and write the signed copy back.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/kwonno/O2-maintenance-sub000/internal/document"
	"github.com/kwonno/O2-maintenance-sub000/internal/metrics"
	"github.com/kwonno/O2-maintenance-sub000/internal/preview"
	"github.com/kwonno/O2-maintenance-sub000/internal/signature"
	"github.com/kwonno/O2-maintenance-sub000/internal/stamp"
	"github.com/kwonno/O2-maintenance-sub000/internal/storage"
)

// Defaults for Options fields left zero
const (
	DefaultSignedURLTTL    = 15 * time.Minute
	DefaultContainerWidth  = 816
	DefaultContainerHeight = 1056
)

// ErrNoSignature is returned when a stamp request carries no signature source
var ErrNoSignature = errors.New("no signature given: provide a stored image path, a data URL or strokes")

// ErrOutputIsSource is returned when the output path would overwrite the source document
var ErrOutputIsSource = errors.New("output path must differ from the source document")

// Options wires a Service
type Options struct {
	Store         storage.Store
	Engine        *stamp.Engine
	PDFRenderer   *preview.PDFRenderer
	SheetRenderer *preview.SheetRenderer
	// ContainerWidth and ContainerHeight are the default preview container in pixels
	ContainerWidth  float64
	ContainerHeight float64
	SignedURLTTL    time.Duration
	Logger          *zap.Logger
}

// Service is stateless between calls and safe for concurrent use
type Service struct {
	store           storage.Store
	engine          *stamp.Engine
	pdf             *preview.PDFRenderer
	sheet           *preview.SheetRenderer
	containerWidth  float64
	containerHeight float64
	ttl             time.Duration
	logger          *zap.Logger
}

// New validates the options and returns a Service
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("service: store is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("service: stamping engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PDFRenderer == nil {
		opts.PDFRenderer = preview.NewPDFRenderer(nil, nil, logger)
	}
	if opts.SheetRenderer == nil {
		opts.SheetRenderer = preview.NewSheetRenderer(preview.DefaultCellCeiling, logger)
	}
	if opts.ContainerWidth <= 0 {
		opts.ContainerWidth = DefaultContainerWidth
	}
	if opts.ContainerHeight <= 0 {
		opts.ContainerHeight = DefaultContainerHeight
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = DefaultSignedURLTTL
	}

	return &Service{
		store:           opts.Store,
		engine:          opts.Engine,
		pdf:             opts.PDFRenderer,
		sheet:           opts.SheetRenderer,
		containerWidth:  opts.ContainerWidth,
		containerHeight: opts.ContainerHeight,
		ttl:             opts.SignedURLTTL,
		logger:          logger,
	}, nil
}

// Store exposes the underlying blob store
func (s *Service) Store() storage.Store {
	return s.store
}

// resolveType parses the declared type, falling back to the path's extension
func resolveType(declared, docPath string) (document.DocumentType, error) {
	if declared == "" {
		declared = path.Ext(docPath)
	}
	return document.ParseDocumentType(declared)
}

// fetch validates the type before any bytes are read
func (s *Service) fetch(ctx context.Context, declared, docPath string) (document.DocumentType, []byte, error) {
	docType, err := resolveType(declared, docPath)
	if err != nil {
		return "", nil, err
	}
	data, err := s.store.Get(ctx, docPath)
	if err != nil {
		return "", nil, err
	}
	return docType, data, nil
}

func (s *Service) container(w, h float64) (float64, float64) {
	if w <= 0 {
		w = s.containerWidth
	}
	if h <= 0 {
		h = s.containerHeight
	}
	return w, h
}

// DocumentInfo summarizes a stored document
type DocumentInfo struct {
	Path      string                `json:"path"`
	Type      document.DocumentType `json:"type"`
	Size      int                   `json:"size"`
	PageCount int                   `json:"page_count"`
	Pages     []PageInfo            `json:"pages,omitempty"`
	Sheet     string                `json:"sheet,omitempty"`
	Columns   int                   `json:"columns,omitempty"`
	Rows      int                   `json:"rows,omitempty"`
	Merges    []string              `json:"merges,omitempty"`
	// Placeholder is true when the sheet is too large to preview as a grid
	Placeholder bool `json:"placeholder,omitempty"`
}

// PageInfo is the native size of one PDF page in points
type PageInfo struct {
	Page   int     `json:"page"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Info loads a document and reports its pages or grid
func (s *Service) Info(ctx context.Context, docPath, declaredType string) (*DocumentInfo, error) {
	docType, data, err := s.fetch(ctx, declaredType, docPath)
	if err != nil {
		return nil, err
	}
	info := &DocumentInfo{Path: docPath, Type: docType, Size: len(data)}

	if docType == document.TypePDF {
		w, h := s.container(0, 0)
		view, err := s.pdf.Load(data, w, h)
		if err != nil {
			return nil, err
		}
		info.PageCount = view.PageCount()
		for p := 1; p <= view.PageCount(); p++ {
			if p > 1 {
				view.GoToPage(p)
			}
			size := view.PageSize()
			info.Pages = append(info.Pages, PageInfo{Page: p, Width: size.Width, Height: size.Height})
		}
		return info, nil
	}

	model, err := s.sheet.Load(data)
	if err != nil {
		return nil, err
	}
	info.PageCount = 1
	info.Sheet = model.Name()
	info.Columns, info.Rows = model.Dimensions()
	for _, m := range model.Merges() {
		info.Merges = append(info.Merges, m.String())
	}
	info.Placeholder = model.Placeholder()
	return info, nil
}

// PDFPreviewRequest asks for one page of a stored PDF
type PDFPreviewRequest struct {
	Path            string
	Page            int
	ContainerWidth  float64
	ContainerHeight float64
	// Marker is drawn when it targets the requested page
	Marker *document.SignaturePlacement
}

// PDFPreview is a rendered page plus the geometry needed to map clicks
type PDFPreview struct {
	Page         int               `json:"page"`
	PageCount    int               `json:"page_count"`
	PageWidth    float64           `json:"page_width"`
	PageHeight   float64           `json:"page_height"`
	Scale        float64           `json:"scale"`
	RasterWidth  int               `json:"raster_width"`
	RasterHeight int               `json:"raster_height"`
	PNG          []byte            `json:"-"`
	Marker       *MarkerCoordinate `json:"marker,omitempty"`
}

// MarkerCoordinate is a placement projected onto the preview raster
type MarkerCoordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (s *Service) loadPDFView(ctx context.Context, docPath string, page int, w, h float64) (*preview.PDFView, error) {
	_, data, err := s.fetch(ctx, string(document.TypePDF), docPath)
	if err != nil {
		return nil, err
	}
	w, h = s.container(w, h)
	view, err := s.pdf.Load(data, w, h)
	if err != nil {
		return nil, err
	}
	if page > 1 && !view.GoToPage(page) {
		return nil, document.NewInvalidPlacementError("pdf_preview",
			fmt.Sprintf("page %d out of range (document has %d pages)", page, view.PageCount()))
	}
	return view, nil
}

// PreviewPDF renders a page of a stored PDF
func (s *Service) PreviewPDF(ctx context.Context, req PDFPreviewRequest) (*PDFPreview, error) {
	view, err := s.loadPDFView(ctx, req.Path, req.Page, req.ContainerWidth, req.ContainerHeight)
	if err != nil {
		return nil, err
	}
	png, err := view.Render(req.Marker)
	if err != nil {
		return nil, err
	}
	metrics.ObservePreview(string(document.TypePDF))

	size := view.PageSize()
	rw, rh := view.RasterSize()
	out := &PDFPreview{
		Page:         view.CurrentPage(),
		PageCount:    view.PageCount(),
		PageWidth:    size.Width,
		PageHeight:   size.Height,
		Scale:        view.Scale(),
		RasterWidth:  rw,
		RasterHeight: rh,
		PNG:          png,
	}
	if req.Marker != nil && req.Marker.Page == view.CurrentPage() {
		p, err := view.MarkerPosition(*req.Marker)
		if err == nil {
			out.Marker = &MarkerCoordinate{X: p.X, Y: p.Y}
		}
	}
	return out, nil
}

// PDFClickRequest is a click on a PDF preview raster of the given container size
type PDFClickRequest struct {
	Path            string
	Page            int
	ContainerWidth  float64
	ContainerHeight float64
	ScreenX         float64
	ScreenY         float64
}

// ResolvePDFClick converts a preview click into a page-native placement
func (s *Service) ResolvePDFClick(ctx context.Context, req PDFClickRequest) (document.SignaturePlacement, error) {
	view, err := s.loadPDFView(ctx, req.Path, req.Page, req.ContainerWidth, req.ContainerHeight)
	if err != nil {
		return document.SignaturePlacement{}, err
	}
	return view.OnClick(req.ScreenX, req.ScreenY)
}

// SheetPreview is the rendered grid of a stored spreadsheet
type SheetPreview struct {
	HTML string            `json:"html"`
	View *preview.GridView `json:"view"`
}

func (s *Service) loadSheet(ctx context.Context, docPath, declared string) (*preview.SheetModel, error) {
	docType, data, err := s.fetch(ctx, declared, docPath)
	if err != nil {
		return nil, err
	}
	if !docType.IsSpreadsheet() {
		return nil, document.NewUnsupportedTypeError(string(docType) + " (expected a spreadsheet)")
	}
	return s.sheet.Load(data)
}

// PreviewSheet renders the first sheet of a stored workbook
func (s *Service) PreviewSheet(ctx context.Context, docPath, declaredType string) (*SheetPreview, error) {
	model, err := s.loadSheet(ctx, docPath, declaredType)
	if err != nil {
		return nil, err
	}
	view, err := model.Build()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := model.RenderHTML(&buf); err != nil {
		return nil, fmt.Errorf("render sheet preview: %w", err)
	}
	metrics.ObservePreview(string(document.TypeXLSX))
	return &SheetPreview{HTML: buf.String(), View: view}, nil
}

// SheetClickRequest is a click on a rendered cell
type SheetClickRequest struct {
	Path  string
	Type  string
	Click preview.CellClick
}

// ResolveSheetClick converts a cell click into a placement with the real cell under it
func (s *Service) ResolveSheetClick(ctx context.Context, req SheetClickRequest) (document.SignaturePlacement, error) {
	model, err := s.loadSheet(ctx, req.Path, req.Type)
	if err != nil {
		return document.SignaturePlacement{}, err
	}
	return model.ResolveClick(req.Click)
}

// Point is one sampled pointer position on the signature pad
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SignatureInput names exactly one signature source
type SignatureInput struct {
	// Path is a stored image
	Path string
	// DataURL is an inline data:image/...;base64 image
	DataURL string
	// Strokes are freehand strokes drawn on a pad of PadWidth x PadHeight pixels
	Strokes   [][]Point
	PadWidth  int
	PadHeight int
}

// capture turns the input into a finalized signature
func (s *Service) capture(ctx context.Context, in SignatureInput, displayName string) (*signature.Capture, error) {
	switch {
	case in.Path != "":
		data, err := s.store.Get(ctx, in.Path)
		if err != nil {
			return nil, err
		}
		return signature.FromUpload(data, displayName)
	case in.DataURL != "":
		data, err := signature.ParseDataURL(in.DataURL)
		if err != nil {
			return nil, err
		}
		return signature.FromUpload(data, displayName)
	case len(in.Strokes) > 0:
		session := signature.NewSession(in.PadWidth, in.PadHeight)
		pad, err := session.Pad()
		if err != nil {
			return nil, err
		}
		for _, stroke := range in.Strokes {
			for i, p := range stroke {
				if i == 0 {
					pad.PointerDown(p.X, p.Y)
				} else {
					pad.PointerMove(p.X, p.Y)
				}
			}
			pad.PointerUp()
		}
		return session.Finalize(displayName)
	default:
		return nil, ErrNoSignature
	}
}

// StampRequest stamps a stored document
type StampRequest struct {
	Path        string
	Type        string
	Signature   SignatureInput
	Placement   document.SignaturePlacement
	Label       *document.TextLabelPlacement
	DisplayName string
	// OutputPath overrides the default <name>.signed.<ext>
	OutputPath string
}

// StampResponse describes the written output
type StampResponse struct {
	OutputPath  string   `json:"output_path"`
	URL         string   `json:"url,omitempty"`
	ContentType string   `json:"content_type"`
	Size        int      `json:"size"`
	Stamped     bool     `json:"stamped"`
	LabelDrawn  bool     `json:"label_drawn"`
	Font        string   `json:"font,omitempty"`
	ImageCell   string   `json:"image_cell,omitempty"`
	LabelCell   string   `json:"label_cell,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Stamp fetches the document and signature, stamps, stores the result and signs a URL for it
func (s *Service) Stamp(ctx context.Context, req StampRequest) (resp *StampResponse, err error) {
	start := time.Now()
	docType, err := resolveType(req.Type, req.Path)
	if err != nil {
		return nil, err
	}
	outcome := metrics.OutcomeFailed
	defer func() {
		metrics.ObserveStamp(string(docType), outcome, time.Since(start))
	}()

	out := req.OutputPath
	if out == "" {
		out = storage.OutputPath(req.Path, docType.Extension())
	}
	if storage.NormalizePath(out) == storage.NormalizePath(req.Path) {
		return nil, fmt.Errorf("%w: %s", ErrOutputIsSource, req.Path)
	}

	data, err := s.store.Get(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	sig, err := s.capture(ctx, req.Signature, req.DisplayName)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Stamp(ctx, stamp.Request{
		Type:      docType,
		Document:  data,
		Image:     sig.Image.Data,
		Signature: req.Placement,
		Label:     req.Label,
		LabelText: sig.DisplayName,
	})
	if err != nil {
		s.logger.Warn("stamp failed", zap.String("path", req.Path), zap.String("kind", document.KindOf(err).String()), zap.Error(err))
		return nil, err
	}

	if err := s.store.Put(ctx, out, res.Data, res.ContentType); err != nil {
		return nil, fmt.Errorf("store stamped document: %w", err)
	}

	resp = &StampResponse{
		OutputPath:  out,
		ContentType: res.ContentType,
		Size:        len(res.Data),
		Stamped:     res.Stamped,
		LabelDrawn:  res.LabelDrawn,
		Font:        res.Font,
		ImageCell:   res.ImageCell,
		LabelCell:   res.LabelCell,
	}
	degraded := 0
	for _, w := range res.Warnings {
		resp.Warnings = append(resp.Warnings, w.Error())
		if errors.Is(w, document.ErrFontResolutionDegraded) {
			degraded++
		}
	}
	metrics.FontDegraded(degraded)

	if u, err := s.store.SignedURL(ctx, out, s.ttl); err == nil {
		resp.URL = u
	} else if !errors.Is(err, storage.ErrPresignNotSupported) {
		s.logger.Warn("signing output URL failed", zap.String("path", out), zap.Error(err))
	}

	outcome = metrics.OutcomeUnchanged
	if res.Stamped {
		outcome = metrics.OutcomeStamped
	}
	s.logger.Info("document stamped",
		zap.String("path", req.Path),
		zap.String("output", out),
		zap.Bool("stamped", res.Stamped),
		zap.Bool("label", res.LabelDrawn),
		zap.Int("warnings", len(res.Warnings)))
	return resp, nil
}

// Fonts lists the label fonts installed in the stamping engine, in fallback order
func (s *Service) Fonts() []string {
	return s.engine.Fonts().Fonts()
}
