// Package coords maps positions between on-screen preview space and document-native space.
//
// Screen space has its origin at the top-left of the rendered raster and is scaled by the
// render scale. PDF-native space has its origin at the bottom-left of the page and is measured
// in unscaled points. Spreadsheet-native space is a point grid with a top-left origin whose
// cells are derived from column widths and row heights (see Grid).
package coords

import (
	"errors"
	"fmt"
	"math"
)

const (
	// FitMargin is the fraction of the container an auto-fit page may occupy
	FitMargin = 0.95
	// MaxScale prevents upscaling past the native page size
	MaxScale = 1.0
)

// ErrInvalidScale is returned when a transform is asked to use a non-positive scale
var ErrInvalidScale = errors.New("coords: scale must be positive")

// Point is a position in either screen or native space
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned box; X/Y is the corner closest to the space's origin
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ScreenToNative converts a click on the raster into PDF-native coordinates.
// pageHeight must be the native (unscaled) page height.
func ScreenToNative(clickX, clickY, scale, pageHeight float64) (Point, error) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return Point{}, fmt.Errorf("%w: got %v", ErrInvalidScale, scale)
	}
	return Point{
		X: clickX / scale,
		Y: pageHeight - clickY/scale,
	}, nil
}

// NativeToScreen is the exact inverse of ScreenToNative, used to place the marker overlay
func NativeToScreen(nativeX, nativeY, scale, pageHeight float64) (Point, error) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return Point{}, fmt.Errorf("%w: got %v", ErrInvalidScale, scale)
	}
	return Point{
		X: nativeX * scale,
		Y: (pageHeight - nativeY) * scale,
	}, nil
}

// Clamp pulls p into [0,width] x [0,height]. Float division at page edges routinely lands a
// hair outside the page, so out-of-range points are clamped rather than rejected.
func Clamp(p Point, width, height float64) Point {
	return Point{
		X: clampAxis(p.X, width),
		Y: clampAxis(p.Y, height),
	}
}

func clampAxis(v, limit float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

// AutoFitScale returns the render scale that fits a page into its container without
// upscaling past 100% and with a 5% margin. It returns 0 for degenerate sizes.
func AutoFitScale(containerWidth, containerHeight, pageWidth, pageHeight float64) float64 {
	if containerWidth <= 0 || containerHeight <= 0 || pageWidth <= 0 || pageHeight <= 0 {
		return 0
	}
	scale := math.Min(containerWidth/pageWidth, containerHeight/pageHeight)
	scale = math.Min(scale, MaxScale)
	return scale * FitMargin
}

// ScaleFromRaster derives the scale from the raster that is actually displayed.
// Callers use it instead of a cached scale so a resize can never leave a stale value behind.
func ScaleFromRaster(rasterWidth, nativeWidth float64) float64 {
	if rasterWidth <= 0 || nativeWidth <= 0 {
		return 0
	}
	return rasterWidth / nativeWidth
}
