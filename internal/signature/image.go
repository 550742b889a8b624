package signature

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/kwonno/O2-maintenance-sub000/internal/document"
)

// MIME types of normalized signature images
const (
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
)

// ErrBlankImage is returned for empty or zero-sized images
var ErrBlankImage = errors.New("signature image is empty")

// MaxPixels caps width*height of a signature image; decoders allocate the full bitmap from the header
const MaxPixels = 16 << 20

// ErrImageTooLarge is returned when the image header declares more than MaxPixels
var ErrImageTooLarge = errors.New("signature image dimensions exceed the pixel limit")

// Image is a self-contained encoded signature image in a format every backend can embed
type Image struct {
	Data   []byte `json:"-"`
	MIME   string `json:"mime"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Extension returns the file extension for the image format, with the dot
func (i Image) Extension() string {
	if i.MIME == MIMEJPEG {
		return ".jpg"
	}
	return ".png"
}

// Normalize decodes data and returns it as PNG or JPEG. PNG and JPEG pass through unchanged;
// GIF, BMP, TIFF and WebP are re-encoded as PNG. Decode failures are ImageDecode errors.
func Normalize(data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, document.NewImageDecodeError("normalize", ErrBlankImage)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, document.NewImageDecodeError("normalize", err)
	}
	if cfg.Width < 1 || cfg.Height < 1 {
		return Image{}, document.NewImageDecodeError("normalize", ErrBlankImage)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return Image{}, document.NewImageDecodeError("normalize",
			fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height))
	}

	switch format {
	case "png":
		if err := verify(data, png.Decode); err != nil {
			return Image{}, err
		}
		return Image{Data: data, MIME: MIMEPNG, Width: cfg.Width, Height: cfg.Height}, nil
	case "jpeg":
		if err := verify(data, jpeg.Decode); err != nil {
			return Image{}, err
		}
		return Image{Data: data, MIME: MIMEJPEG, Width: cfg.Width, Height: cfg.Height}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, document.NewImageDecodeError("normalize", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Image{}, document.NewImageDecodeError("normalize", err)
	}
	b := img.Bounds()
	return Image{Data: buf.Bytes(), MIME: MIMEPNG, Width: b.Dx(), Height: b.Dy()}, nil
}

// verify fully decodes data; a valid header over a truncated body must not reach a backend
func verify(data []byte, decode func(r io.Reader) (image.Image, error)) error {
	if _, err := decode(bytes.NewReader(data)); err != nil {
		return document.NewImageDecodeError("normalize", err)
	}
	return nil
}

// DataURL encodes the image for transport
func (i Image) DataURL() string {
	return "data:" + i.MIME + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// ParseDataURL decodes a base64 data URL or bare base64 payload
func ParseDataURL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, document.NewImageDecodeError("data_url", fmt.Errorf("data URL must be base64 encoded"))
		}
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, document.NewImageDecodeError("data_url", err)
	}
	return data, nil
}
