// Package visualization renders landmark shapes and detection rectangles over
// images for inspecting training data and model predictions.
package visualization

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"shapetrack/pkg/geometry"
	img "shapetrack/pkg/imaging"
)

// markRadius is the half-size of the crosses drawn at landmark positions.
const markRadius = 2

// LandmarkColor is the default overlay color for landmark marks.
var LandmarkColor = color.NRGBA{R: 0, G: 255, B: 0, A: 255}

// RectColor is the default overlay color for detection rectangles.
var RectColor = color.NRGBA{R: 255, G: 0, B: 0, A: 255}

// ToNRGBA renders an intensity image as a grayscale NRGBA background.
func ToNRGBA(src *img.Image) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, src.Width, src.Height))
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			v := math.Max(0, math.Min(255, src.At(x, y)))
			g := uint8(v)
			out.SetNRGBA(x, y, color.NRGBA{R: g, G: g, B: g, A: 255})
		}
	}
	return out
}

// DrawShape draws a cross at every landmark of the shape onto dst.
func DrawShape(dst *image.NRGBA, shape geometry.Shape, c color.NRGBA) {
	for _, p := range shape {
		x, y := int(math.Round(p.X)), int(math.Round(p.Y))
		for d := -markRadius; d <= markRadius; d++ {
			setIfInside(dst, x+d, y, c)
			setIfInside(dst, x, y+d, c)
		}
	}
}

// DrawRect draws the outline of a rectangle onto dst.
func DrawRect(dst *image.NRGBA, r geometry.Rect, c color.NRGBA) {
	x0, y0 := int(math.Round(r.MinX)), int(math.Round(r.MinY))
	x1, y1 := int(math.Round(r.MaxX)), int(math.Round(r.MaxY))
	for x := x0; x <= x1; x++ {
		setIfInside(dst, x, y0, c)
		setIfInside(dst, x, y1, c)
	}
	for y := y0; y <= y1; y++ {
		setIfInside(dst, x0, y, c)
		setIfInside(dst, x1, y, c)
	}
}

func setIfInside(dst *image.NRGBA, x, y int, c color.NRGBA) {
	if image.Pt(x, y).In(dst.Bounds()) {
		dst.SetNRGBA(x, y, c)
	}
}

// SaveOverlay renders the image with the given shape marked on it and writes
// the result to path. The encoding follows the file extension.
func SaveOverlay(path string, src *img.Image, shape geometry.Shape) error {
	dst := ToNRGBA(src)
	DrawShape(dst, shape, LandmarkColor)
	return imaging.Save(dst, path)
}
