package wrapper

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// maxParentDepth bounds the page-tree walk for inherited MediaBox entries
const maxParentDepth = 32

// LedongthucReader implements GeometryReader using ledongthuc/pdf
type LedongthucReader struct{}

// NewLedongthucReader creates a new ledongthuc geometry reader
func NewLedongthucReader() *LedongthucReader {
	return &LedongthucReader{}
}

// Open parses data and reads each page's MediaBox, following Parent links for inherited boxes
func (l *LedongthucReader) Open(data []byte) (geom Geometry, err error) {
	// ledongthuc panics on some malformed inputs instead of returning an error
	defer func() {
		if r := recover(); r != nil {
			geom = nil
			err = &WrapperError{Library: LibraryLedongthuc, Op: "open", Err: fmt.Errorf("malformed PDF: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &WrapperError{
			Library: LibraryLedongthuc,
			Op:      "open",
			Err:     fmt.Errorf("failed to open PDF: %w", err),
		}
	}

	count := reader.NumPage()
	if count < 1 {
		return nil, &WrapperError{Library: LibraryLedongthuc, Op: "open", Err: ErrEmptyDocument}
	}

	sizes := make([]PageSize, count)
	for i := range sizes {
		sizes[i] = mediaBoxSize(reader.Page(i + 1).V)
	}

	return &staticGeometry{library: LibraryLedongthuc, sizes: sizes}, nil
}

// Library returns the library type
func (l *LedongthucReader) Library() LibraryType {
	return LibraryLedongthuc
}

func mediaBoxSize(page pdf.Value) PageSize {
	node := page
	for depth := 0; depth < maxParentDepth && !node.IsNull(); depth++ {
		box := node.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			size := PageSize{
				Width:  box.Index(2).Float64() - box.Index(0).Float64(),
				Height: box.Index(3).Float64() - box.Index(1).Float64(),
			}
			if size.Width < 0 {
				size.Width = -size.Width
			}
			if size.Height < 0 {
				size.Height = -size.Height
			}
			if size.Valid() {
				return size
			}
		}
		node = node.Key("Parent")
	}
	return DefaultPageSize
}
