package wrapper

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// GeometryFactory creates geometry readers and implements LibraryAuto fallback
type GeometryFactory struct {
	preferred LibraryType
	logger    *zap.Logger
}

// NewGeometryFactory creates a factory for the given preferred library
func NewGeometryFactory(preferred LibraryType, logger *zap.Logger) *GeometryFactory {
	if preferred == "" {
		preferred = LibraryAuto
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeometryFactory{preferred: preferred, logger: logger}
}

// Create instantiates a reader of the specified type
func (f *GeometryFactory) Create(libType LibraryType) (GeometryReader, error) {
	switch libType {
	case LibraryPDFCPU:
		return NewPDFCPUReader(), nil
	case LibraryLedongthuc:
		return NewLedongthucReader(), nil
	case LibraryAuto:
		return &autoReader{
			chain:  []GeometryReader{NewPDFCPUReader(), NewLedongthucReader()},
			logger: f.logger,
		}, nil
	default:
		return nil, &WrapperError{
			Library: libType,
			Op:      "create",
			Err:     fmt.Errorf("%w: %s", ErrUnsupportedLibrary, libType),
		}
	}
}

// Reader returns a reader for the preferred library
func (f *GeometryFactory) Reader() (GeometryReader, error) {
	return f.Create(f.preferred)
}

// Open is a convenience for Reader().Open(data)
func (f *GeometryFactory) Open(data []byte) (Geometry, error) {
	r, err := f.Reader()
	if err != nil {
		return nil, err
	}
	return r.Open(data)
}

// Preferred returns the configured library type
func (f *GeometryFactory) Preferred() LibraryType {
	return f.preferred
}

// SupportedLibraries returns a list of all supported library types
func SupportedLibraries() []LibraryType {
	return []LibraryType{LibraryPDFCPU, LibraryLedongthuc, LibraryAuto}
}

// autoReader tries each backend in order and returns the first success
type autoReader struct {
	chain  []GeometryReader
	logger *zap.Logger
}

func (a *autoReader) Open(data []byte) (Geometry, error) {
	var errs []error
	for _, r := range a.chain {
		geom, err := r.Open(data)
		if err == nil {
			return geom, nil
		}
		a.logger.Debug("geometry backend failed, trying next",
			zap.String("library", string(r.Library())), zap.Error(err))
		errs = append(errs, err)
	}
	return nil, &WrapperError{Library: LibraryAuto, Op: "open", Err: errors.Join(errs...)}
}

func (a *autoReader) Library() LibraryType {
	return LibraryAuto
}
