package visualization

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"shapetrack/pkg/geometry"
	img "shapetrack/pkg/imaging"
)

func gradientImage(w, h int) *img.Image {
	out := img.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(x, y, float64(x+y))
		}
	}
	return out
}

func TestToNRGBA(t *testing.T) {
	src := gradientImage(8, 6)
	src.Set(0, 0, -10)
	src.Set(1, 0, 300)

	dst := ToNRGBA(src)
	if dst.Bounds() != image.Rect(0, 0, 8, 6) {
		t.Fatalf("Unexpected bounds %v", dst.Bounds())
	}
	if c := dst.NRGBAAt(0, 0); c.R != 0 || c.G != 0 || c.B != 0 || c.A != 255 {
		t.Errorf("Negative intensity should clamp to black, got %+v", c)
	}
	if c := dst.NRGBAAt(1, 0); c.R != 255 {
		t.Errorf("Overflowing intensity should clamp to white, got %+v", c)
	}
	if c := dst.NRGBAAt(3, 2); c.R != 5 || c.G != 5 || c.B != 5 {
		t.Errorf("Expected gray value 5 at (3,2), got %+v", c)
	}
}

func TestDrawShape(t *testing.T) {
	dst := ToNRGBA(gradientImage(16, 16))
	DrawShape(dst, geometry.Shape{{X: 8, Y: 8}}, LandmarkColor)

	// The cross covers the landmark and its four arms.
	for _, pt := range []image.Point{{8, 8}, {6, 8}, {10, 8}, {8, 6}, {8, 10}} {
		if dst.NRGBAAt(pt.X, pt.Y) != LandmarkColor {
			t.Errorf("Expected landmark color at %v", pt)
		}
	}
	if dst.NRGBAAt(6, 6) == LandmarkColor {
		t.Error("Cross corner should stay untouched")
	}

	// Landmarks near the border must not panic and stay inside.
	DrawShape(dst, geometry.Shape{{X: 0, Y: 0}, {X: 15, Y: 15}, {X: -5, Y: 40}}, LandmarkColor)
	if dst.NRGBAAt(0, 0) != LandmarkColor {
		t.Error("Expected landmark color at the corner")
	}
}

func TestDrawRect(t *testing.T) {
	dst := ToNRGBA(gradientImage(16, 16))
	DrawRect(dst, geometry.Rect{MinX: 2, MinY: 3, MaxX: 10, MaxY: 12}, RectColor)

	for _, pt := range []image.Point{{2, 3}, {10, 3}, {2, 12}, {10, 12}, {6, 3}, {2, 8}} {
		if dst.NRGBAAt(pt.X, pt.Y) != RectColor {
			t.Errorf("Expected rect color on outline at %v", pt)
		}
	}
	if dst.NRGBAAt(6, 8) == RectColor {
		t.Error("Rect interior should stay untouched")
	}
}

func TestSaveOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.png")
	src := gradientImage(12, 12)
	shape := geometry.Shape{{X: 3, Y: 3}, {X: 9, Y: 9}}

	if err := SaveOverlay(path, src, shape); err != nil {
		t.Fatalf("SaveOverlay failed: %v", err)
	}

	back, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("Reading overlay back: %v", err)
	}
	if back.Bounds().Dx() != 12 || back.Bounds().Dy() != 12 {
		t.Errorf("Unexpected overlay size %v", back.Bounds())
	}
	r, g, b, _ := back.At(3, 3).RGBA()
	if r != 0 || g>>8 != 255 || b != 0 {
		t.Errorf("Expected landmark color at (3,3), got r=%d g=%d b=%d", r>>8, g>>8, b>>8)
	}
}
