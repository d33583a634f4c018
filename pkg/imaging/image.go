// Package imaging provides the grayscale intensity buffer the regressor
// samples from. The core only needs random-access intensity lookup at
// fractional, possibly out-of-bounds coordinates, with a defined fill value
// outside the image extent.
package imaging

import (
	"image"
	"math"

	"shapetrack/pkg/geometry"
)

// Image is a dense grayscale pixel buffer. Out-of-bounds lookups resolve to
// the Fill value instead of failing, so feature sampling never has to guard
// against shapes drifting off the image.
type Image struct {
	Pixels []float64
	Width  int
	Height int
	// Fill is returned for coordinates outside the image extent.
	Fill float64
}

// New returns a zero-filled image of the given size.
func New(width, height int) *Image {
	return &Image{
		Pixels: make([]float64, width*height),
		Width:  width,
		Height: height,
	}
}

// FromImage converts any image.Image into an intensity buffer using the
// Rec. 601 luma weights.
func FromImage(src image.Image) *Image {
	bounds := src.Bounds()
	out := New(bounds.Dx(), bounds.Dy())
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			lum := float64(r)*0.299 + float64(g)*0.587 + float64(b)*0.114
			out.Pixels[y*out.Width+x] = lum / 256.0
		}
	}
	return out
}

// Set writes the intensity at an integer pixel position. Writes outside the
// extent are dropped.
func (im *Image) Set(x, y int, v float64) {
	if x < 0 || y < 0 || x >= im.Width || y >= im.Height {
		return
	}
	im.Pixels[y*im.Width+x] = v
}

// At returns the intensity at an integer pixel position, or Fill outside the
// extent.
func (im *Image) At(x, y int) float64 {
	if x < 0 || y < 0 || x >= im.Width || y >= im.Height {
		return im.Fill
	}
	return im.Pixels[y*im.Width+x]
}

// Sample returns the intensity at a fractional coordinate. The coordinate is
// floored to its containing pixel; anything outside the extent resolves to
// Fill.
func (im *Image) Sample(p geometry.Point) float64 {
	return im.At(int(math.Floor(p.X)), int(math.Floor(p.Y)))
}

// SampleAll looks up every coordinate in ps, producing one intensity per
// input.
func (im *Image) SampleAll(ps []geometry.Point) []float64 {
	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = im.Sample(p)
	}
	return out
}
