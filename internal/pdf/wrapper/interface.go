package wrapper

import (
	"errors"
	"fmt"
)

// GeometryReader opens PDF bytes far enough to answer page-geometry questions.
// Implementations never retain or modify the input slice.
type GeometryReader interface {
	Open(data []byte) (Geometry, error)
	Library() LibraryType
}

// Geometry is the page-addressable view of an opened PDF
type Geometry interface {
	// PageCount returns the number of pages
	PageCount() int
	// PageSize returns the native size of a 1-based page
	PageSize(page int) (PageSize, error)
}

// LibraryType represents the underlying PDF library being used
type LibraryType string

const (
	LibraryPDFCPU     LibraryType = "pdfcpu"
	LibraryLedongthuc LibraryType = "ledongthuc"
	LibraryAuto       LibraryType = "auto" // pdfcpu first, ledongthuc on failure
)

// ParseLibraryType validates a configured library name
func ParseLibraryType(s string) (LibraryType, error) {
	switch lt := LibraryType(s); lt {
	case LibraryPDFCPU, LibraryLedongthuc, LibraryAuto:
		return lt, nil
	default:
		return "", &WrapperError{Library: lt, Op: "parse", Err: ErrUnsupportedLibrary}
	}
}

// PageSize represents the native dimensions of a PDF page in points
type PageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether both dimensions are positive
func (s PageSize) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// DefaultPageSize is US Letter, used when a page carries no usable MediaBox
var DefaultPageSize = PageSize{Width: 612, Height: 792}

// WrapperError records which backend failed and in which operation
type WrapperError struct {
	Library LibraryType `json:"library"`
	Op      string      `json:"operation"`
	Err     error       `json:"error"`
}

func (e *WrapperError) Error() string {
	return fmt.Sprintf("PDF %s library error in %s: %v", e.Library, e.Op, e.Err)
}

func (e *WrapperError) Unwrap() error {
	return e.Err
}

// Common error variables
var (
	ErrUnsupportedLibrary = errors.New("unsupported library type")
	ErrInvalidPage        = errors.New("invalid page number")
	ErrEmptyDocument      = errors.New("document has no pages")
)

func checkPage(lib LibraryType, page, count int) error {
	if page < 1 || page > count {
		return &WrapperError{
			Library: lib,
			Op:      "page_size",
			Err:     fmt.Errorf("%w %d (document has %d pages)", ErrInvalidPage, page, count),
		}
	}
	return nil
}
