package wrapper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonno/O2-maintenance-sub000/internal/testutil"
)

func TestGeometryFactory_CreateReaders(t *testing.T) {
	factory := NewGeometryFactory("", nil)
	assert.Equal(t, LibraryAuto, factory.Preferred())

	tests := []struct {
		name        string
		libType     LibraryType
		expectError bool
	}{
		{name: "create_pdfcpu_reader", libType: LibraryPDFCPU},
		{name: "create_ledongthuc_reader", libType: LibraryLedongthuc},
		{name: "create_auto_reader", libType: LibraryAuto},
		{name: "create_invalid_reader", libType: LibraryType("invalid"), expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := factory.Create(tt.libType)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, r)
				assert.True(t, errors.Is(err, ErrUnsupportedLibrary))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.libType, r.Library())
		})
	}
}

func TestReaders_PageGeometry(t *testing.T) {
	data := testutil.PDF(3, 612, 792)

	for _, lib := range []LibraryType{LibraryPDFCPU, LibraryLedongthuc, LibraryAuto} {
		t.Run(string(lib), func(t *testing.T) {
			r, err := NewGeometryFactory(lib, nil).Reader()
			require.NoError(t, err)

			geom, err := r.Open(data)
			require.NoError(t, err)
			assert.Equal(t, 3, geom.PageCount())

			size, err := geom.PageSize(2)
			require.NoError(t, err)
			assert.InDelta(t, 612, size.Width, 1e-9)
			assert.InDelta(t, 792, size.Height, 1e-9)

			_, err = geom.PageSize(4)
			assert.True(t, errors.Is(err, ErrInvalidPage))
			_, err = geom.PageSize(0)
			assert.True(t, errors.Is(err, ErrInvalidPage))
		})
	}
}

func TestReaders_LandscapePage(t *testing.T) {
	geom, err := NewGeometryFactory(LibraryPDFCPU, nil).Open(testutil.PDF(1, 842, 595))
	require.NoError(t, err)

	size, err := geom.PageSize(1)
	require.NoError(t, err)
	assert.InDelta(t, 842, size.Width, 1e-9)
	assert.InDelta(t, 595, size.Height, 1e-9)
}

func TestReaders_RejectGarbage(t *testing.T) {
	garbage := []byte("this is not a pdf")

	for _, lib := range []LibraryType{LibraryPDFCPU, LibraryLedongthuc, LibraryAuto} {
		t.Run(string(lib), func(t *testing.T) {
			_, err := NewGeometryFactory(lib, nil).Open(garbage)
			require.Error(t, err)

			var we *WrapperError
			require.ErrorAs(t, err, &we)
			assert.Equal(t, lib, we.Library)
		})
	}
}

func TestParseLibraryType(t *testing.T) {
	for _, lib := range SupportedLibraries() {
		got, err := ParseLibraryType(string(lib))
		require.NoError(t, err)
		assert.Equal(t, lib, got)
	}
	_, err := ParseLibraryType("custom")
	assert.Error(t, err)
}
