package imaging

import (
	"image"
	"image/color"
	"testing"

	"shapetrack/pkg/geometry"
)

func TestSampleInsideAndOutside(t *testing.T) {
	im := New(4, 3)
	im.Set(2, 1, 200)
	im.Fill = 42

	if got := im.Sample(geometry.Point{X: 2, Y: 1}); got != 200 {
		t.Errorf("Expected 200 at (2,1), got %v", got)
	}

	// Fractional coordinates resolve to the containing pixel.
	if got := im.Sample(geometry.Point{X: 2.9, Y: 1.7}); got != 200 {
		t.Errorf("Expected 200 at (2.9,1.7), got %v", got)
	}

	outside := []geometry.Point{
		{X: -0.5, Y: 1},
		{X: 1, Y: -0.1},
		{X: 4, Y: 1},
		{X: 1, Y: 3},
		{X: 1000, Y: 1000},
	}
	for _, p := range outside {
		if got := im.Sample(p); got != 42 {
			t.Errorf("Expected fill value at %v, got %v", p, got)
		}
	}
}

func TestSampleAll(t *testing.T) {
	im := New(2, 2)
	im.Set(0, 0, 1)
	im.Set(1, 1, 2)

	got := im.SampleAll([]geometry.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: -1, Y: -1}})
	want := []float64{1, 2, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestFromImage(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 1))
	src.SetGray(0, 0, color.Gray{Y: 0})
	src.SetGray(1, 0, color.Gray{Y: 255})

	im := FromImage(src)
	if im.Width != 2 || im.Height != 1 {
		t.Fatalf("Unexpected dimensions %dx%d", im.Width, im.Height)
	}
	if im.At(0, 0) != 0 {
		t.Errorf("Expected black pixel to be 0, got %v", im.At(0, 0))
	}
	if v := im.At(1, 0); v < 254 || v > 256 {
		t.Errorf("Expected white pixel near 255, got %v", v)
	}
}

func TestFromImageNonZeroOrigin(t *testing.T) {
	src := image.NewGray(image.Rect(5, 5, 7, 6))
	src.SetGray(6, 5, color.Gray{Y: 128})

	im := FromImage(src)
	if im.Width != 2 || im.Height != 1 {
		t.Fatalf("Unexpected dimensions %dx%d", im.Width, im.Height)
	}
	if v := im.At(1, 0); v < 127 || v > 129 {
		t.Errorf("Expected translated pixel near 128, got %v", v)
	}
}

func TestSetOutsideIsDropped(t *testing.T) {
	im := New(2, 2)
	im.Set(-1, 0, 9)
	im.Set(0, 5, 9)
	for i, v := range im.Pixels {
		if v != 0 {
			t.Errorf("Pixel %d unexpectedly set to %v", i, v)
		}
	}
}
