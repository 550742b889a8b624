package signature

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonno/O2-maintenance-sub000/internal/document"
	"github.com/kwonno/O2-maintenance-sub000/internal/testutil"
)

func TestPad_DrawAndEncode(t *testing.T) {
	p := NewPad(100, 40)
	assert.True(t, p.Empty())

	p.PointerMove(5, 5) // ignored, pointer not down
	assert.True(t, p.Empty())

	p.PointerDown(10, 20)
	p.PointerMove(50, 20)
	p.PointerMove(90, 30)
	p.PointerUp()
	p.PointerMove(99, 39) // ignored after up

	img, err := p.Encode()
	require.NoError(t, err)
	assert.Equal(t, MIMEPNG, img.MIME)

	decoded, err := png.Decode(bytes.NewReader(img.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 40), decoded.Bounds())

	_, _, _, inkAlpha := decoded.At(30, 20).RGBA()
	assert.NotZero(t, inkAlpha, "stroke pixels are painted")
	_, _, _, bgAlpha := decoded.At(30, 35).RGBA()
	assert.Zero(t, bgAlpha, "background stays transparent")
}

func TestPad_Clear(t *testing.T) {
	p := NewPad(0, 0)
	p.PointerDown(1, 1)
	p.PointerUp()
	assert.False(t, p.Empty())

	p.Clear()
	assert.True(t, p.Empty())
	_, err := p.Encode()
	assert.ErrorIs(t, err, ErrEmptySignature)
}

func TestSession_RejectsEmpty(t *testing.T) {
	s := NewSession(0, 0)
	_, err := s.Finalize("Kim Minji")
	assert.ErrorIs(t, err, ErrEmptySignature)
}

func TestSession_ModesAreExclusive(t *testing.T) {
	s := NewSession(0, 0)
	pad, err := s.Pad()
	require.NoError(t, err)
	pad.PointerDown(10, 10)
	pad.PointerMove(20, 20)
	pad.PointerUp()

	assert.ErrorIs(t, s.Upload(testutil.PNG(10, 10)), ErrModeConflict)
	assert.Equal(t, TypeDrawn, s.Mode())

	s.Reset()
	require.NoError(t, s.Upload(testutil.PNG(10, 10)))
	_, err = s.Pad()
	assert.ErrorIs(t, err, ErrModeConflict)

	c, err := s.Finalize("  Kim Minji ")
	require.NoError(t, err)
	assert.Equal(t, TypeUploaded, c.Type)
	assert.Equal(t, "Kim Minji", c.DisplayName)
}

func TestFromUpload_NormalizesFormats(t *testing.T) {
	src := image.NewPaletted(image.Rect(0, 0, 12, 8), []color.Color{color.White, color.Black})
	var gifBuf bytes.Buffer
	require.NoError(t, gif.Encode(&gifBuf, src, nil))

	c, err := FromUpload(gifBuf.Bytes(), "")
	require.NoError(t, err)
	assert.Equal(t, MIMEPNG, c.Image.MIME, "gif is re-encoded")
	assert.Equal(t, 12, c.Image.Width)
	assert.Equal(t, 8, c.Image.Height)

	pngData := testutil.PNG(30, 10)
	c, err = FromUpload(pngData, "")
	require.NoError(t, err)
	assert.Equal(t, pngData, c.Image.Data, "png passes through")
}

func TestNormalize_RejectsMalformed(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("not an image"),
		"truncated": testutil.PNG(50, 50)[:60],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, document.ErrImageDecode))
		})
	}
}

// pngHeader returns a 1x1 PNG whose IHDR claims w x h
func pngHeader(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data := append([]byte(nil), testutil.PNG(1, 1)...)
	require.Equal(t, "IHDR", string(data[12:16]))
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestNormalize_RejectsOversizedDimensions(t *testing.T) {
	data := pngHeader(t, 8000, 8000)
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 8000, cfg.Width)

	_, err = Normalize(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImageTooLarge)
	assert.ErrorIs(t, err, document.ErrImageDecode)

	_, err = FromUpload(data, "Jane Roe")
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestDataURL_RoundTrip(t *testing.T) {
	img, err := Normalize(testutil.PNG(4, 4))
	require.NoError(t, err)

	data, err := ParseDataURL(img.DataURL())
	require.NoError(t, err)
	assert.Equal(t, img.Data, data)

	_, err = ParseDataURL("data:image/png,raw")
	assert.Error(t, err)
	_, err = ParseDataURL("%%%")
	assert.Error(t, err)
}
