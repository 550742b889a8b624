package wrapper

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFCPUReader implements GeometryReader using pdfcpu
type PDFCPUReader struct{}

// NewPDFCPUReader creates a new pdfcpu geometry reader
func NewPDFCPUReader() *PDFCPUReader {
	return &PDFCPUReader{}
}

var configDirOnce sync.Once

// NewConfiguration returns the relaxed pdfcpu configuration shared by every read and write.
// pdfcpu's on-disk config dir is disabled so nothing is written to the user's home; output
// uses a plain xref table without object streams.
func NewConfiguration() *model.Configuration {
	configDirOnce.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false
	return conf
}

// Open parses data with relaxed validation and resolves every page's dimensions
func (r *PDFCPUReader) Open(data []byte) (Geometry, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), NewConfiguration())
	if err != nil {
		return nil, &WrapperError{
			Library: LibraryPDFCPU,
			Op:      "open",
			Err:     fmt.Errorf("failed to read PDF context: %w", err),
		}
	}

	if err := ctx.EnsurePageCount(); err != nil {
		return nil, &WrapperError{
			Library: LibraryPDFCPU,
			Op:      "open",
			Err:     fmt.Errorf("failed to ensure page count: %w", err),
		}
	}
	if ctx.PageCount < 1 {
		return nil, &WrapperError{Library: LibraryPDFCPU, Op: "open", Err: ErrEmptyDocument}
	}

	dims, err := ctx.PageDims()
	if err != nil {
		return nil, &WrapperError{
			Library: LibraryPDFCPU,
			Op:      "page_dims",
			Err:     fmt.Errorf("failed to resolve page dimensions: %w", err),
		}
	}

	sizes := make([]PageSize, ctx.PageCount)
	for i := range sizes {
		sizes[i] = DefaultPageSize
		if i < len(dims) {
			if s := (PageSize{Width: dims[i].Width, Height: dims[i].Height}); s.Valid() {
				sizes[i] = s
			}
		}
	}

	return &staticGeometry{library: LibraryPDFCPU, sizes: sizes}, nil
}

// Library returns the library type
func (r *PDFCPUReader) Library() LibraryType {
	return LibraryPDFCPU
}

// staticGeometry holds page sizes resolved eagerly at open time, so it is safe to share
type staticGeometry struct {
	library LibraryType
	sizes   []PageSize
}

func (g *staticGeometry) PageCount() int {
	return len(g.sizes)
}

func (g *staticGeometry) PageSize(page int) (PageSize, error) {
	if err := checkPage(g.library, page, len(g.sizes)); err != nil {
		return PageSize{}, err
	}
	return g.sizes[page-1], nil
}
