package geometry

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func shapesAlmostEqual(a, b Shape) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !almostEqual(a[i].X, b[i].X) || !almostEqual(a[i].Y, b[i].Y) {
			return false
		}
	}
	return true
}

// applyKnown builds a shape by mapping s through scale, rotation theta and
// translation, optionally mirroring the x axis first.
func applyKnown(s Shape, scale, theta, tx, ty float64, mirror bool) Shape {
	out := make(Shape, len(s))
	cos, sin := math.Cos(theta), math.Sin(theta)
	for i, p := range s {
		x := p.X
		if mirror {
			x = -x
		}
		out[i] = Point{
			X: scale*(cos*x-sin*p.Y) + tx,
			Y: scale*(sin*x+cos*p.Y) + ty,
		}
	}
	return out
}

func TestEstimateSimilarityTransformRotationAndScale(t *testing.T) {
	// 90 degree rotation plus a scale of 2, no translation.
	from := Shape{{0, 0}, {1, 0}}
	to := Shape{{0, 0}, {0, 2}}

	trans, err := EstimateSimilarityTransform(from, to)
	if err != nil {
		t.Fatalf("EstimateSimilarityTransform failed: %v", err)
	}

	// Recovered rotation angle and scale.
	scale := math.Hypot(trans.Linear[0][0], trans.Linear[1][0])
	if !almostEqual(scale, 2) {
		t.Errorf("Expected scale 2, got %v", scale)
	}
	theta := math.Atan2(trans.Linear[1][0], trans.Linear[0][0])
	if !almostEqual(theta, math.Pi/2) {
		t.Errorf("Expected rotation pi/2, got %v", theta)
	}
	if !almostEqual(trans.Translation.X, 0) || !almostEqual(trans.Translation.Y, 0) {
		t.Errorf("Expected zero translation, got %v", trans.Translation)
	}

	mapped := trans.ApplyShape(from)
	if !shapesAlmostEqual(mapped, to) {
		t.Errorf("Mapped shape %v does not match target %v", mapped, to)
	}
}

func TestEstimateSimilarityTransformRecoversKnownSimilarity(t *testing.T) {
	from := Shape{{0, 0}, {3, 1}, {1, 4}, {-2, 2}, {0.5, -1.5}}

	cases := []struct {
		name   string
		scale  float64
		theta  float64
		tx, ty float64
		mirror bool
	}{
		{"translation only", 1, 0, 5, -3, false},
		{"rotation and translation", 1, 0.7, -2, 4, false},
		{"scaled rotation", 2.5, -1.2, 10, 20, false},
		{"small scale", 0.25, 2.9, 0.5, -0.25, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			to := applyKnown(from, tc.scale, tc.theta, tc.tx, tc.ty, tc.mirror)
			trans, err := EstimateSimilarityTransform(from, to)
			if err != nil {
				t.Fatalf("EstimateSimilarityTransform failed: %v", err)
			}
			mapped := trans.ApplyShape(from)
			if !shapesAlmostEqual(mapped, to) {
				t.Errorf("Mapped shape %v does not match target %v", mapped, to)
			}
		})
	}
}

func TestEstimateSimilarityTransformReflectionHandling(t *testing.T) {
	// A mirrored target is not reachable by any proper similarity. The
	// estimator must still return a rotation (positive determinant of the
	// linear part) and beat every rotation candidate on a dense grid, each
	// paired with its own optimal scale and translation.
	from := Shape{{0, 0}, {3, 1}, {1, 4}, {-2, 2}, {0.5, -1.5}}
	to := applyKnown(from, 1.5, 0.4, 3, -7, true)

	trans, err := EstimateSimilarityTransform(from, to)
	if err != nil {
		t.Fatalf("EstimateSimilarityTransform failed: %v", err)
	}

	det := trans.Linear[0][0]*trans.Linear[1][1] - trans.Linear[0][1]*trans.Linear[1][0]
	if det <= 0 {
		t.Errorf("Linear part has non-positive determinant %v, reflection not corrected", det)
	}

	sqErr := func(tr Similarity) float64 {
		var sum float64
		for i := range from {
			d := tr.Apply(from[i]).Sub(to[i])
			sum += d.X*d.X + d.Y*d.Y
		}
		return sum
	}
	got := sqErr(trans)

	meanFrom, meanTo := from.Centroid(), to.Centroid()
	var normFrom float64
	for _, p := range from {
		d := p.Sub(meanFrom)
		normFrom += d.X*d.X + d.Y*d.Y
	}
	best := math.Inf(1)
	for step := 0; step < 3600; step++ {
		theta := 2 * math.Pi * float64(step) / 3600
		cos, sin := math.Cos(theta), math.Sin(theta)
		// Optimal scale for this fixed rotation.
		var dot float64
		for i := range from {
			f := from[i].Sub(meanFrom)
			q := to[i].Sub(meanTo)
			dot += q.X*(cos*f.X-sin*f.Y) + q.Y*(sin*f.X+cos*f.Y)
		}
		scale := dot / normFrom
		cand := Similarity{Linear: [2][2]float64{
			{scale * cos, -scale * sin},
			{scale * sin, scale * cos},
		}}
		cand.Translation = meanTo.Sub(cand.ApplyLinear(meanFrom))
		if e := sqErr(cand); e < best {
			best = e
		}
	}
	if got > best+1e-6 {
		t.Errorf("Recovered transform error %v worse than best grid rotation %v", got, best)
	}
}

func TestEstimateSimilarityTransformLeastSquares(t *testing.T) {
	// With noise the transform is no longer exact, but it must not be worse
	// than the identity mapping for noise much smaller than the shape.
	from := Shape{{0, 0}, {4, 0}, {4, 4}, {0, 4}}
	to := applyKnown(from, 1.3, 0.5, 2, 1, false)
	noisy := to.Clone()
	noisy[0].X += 0.05
	noisy[2].Y -= 0.05

	trans, err := EstimateSimilarityTransform(from, noisy)
	if err != nil {
		t.Fatalf("EstimateSimilarityTransform failed: %v", err)
	}
	mapped := trans.ApplyShape(from)

	var fitErr, identErr float64
	for i := range noisy {
		d := mapped[i].Sub(noisy[i])
		fitErr += d.X*d.X + d.Y*d.Y
		d = from[i].Sub(noisy[i])
		identErr += d.X*d.X + d.Y*d.Y
	}
	if fitErr >= identErr {
		t.Errorf("Fitted transform error %v not better than identity %v", fitErr, identErr)
	}
}

func TestEstimateSimilarityTransformDegenerateShape(t *testing.T) {
	// All source landmarks coincide: zero variance. Scale must fall back to
	// 1 and the centroid mapping must still be exact.
	from := Shape{{2, 3}, {2, 3}, {2, 3}}
	to := Shape{{0, 0}, {2, 0}, {1, 2}}

	trans, err := EstimateSimilarityTransform(from, to)
	if err != nil {
		t.Fatalf("EstimateSimilarityTransform failed: %v", err)
	}

	mapped := trans.Apply(from.Centroid())
	want := to.Centroid()
	if !almostEqual(mapped.X, want.X) || !almostEqual(mapped.Y, want.Y) {
		t.Errorf("Centroid mapped to %v, want %v", mapped, want)
	}
}

func TestEstimateSimilarityTransformMismatch(t *testing.T) {
	if _, err := EstimateSimilarityTransform(Shape{{0, 0}}, Shape{{0, 0}, {1, 1}}); err == nil {
		t.Error("Expected error for mismatched landmark counts")
	}
	if _, err := EstimateSimilarityTransform(Shape{}, Shape{}); err == nil {
		t.Error("Expected error for empty shapes")
	}
}

func TestClosestLandmark(t *testing.T) {
	s := Shape{{0, 0}, {10, 0}, {5, 5}}

	// A point coincident with landmark i must return i.
	for i, p := range s {
		if got := ClosestLandmark(s, p); got != i {
			t.Errorf("Coincident point %d resolved to landmark %d", i, got)
		}
	}

	if got := ClosestLandmark(s, Point{9, 1}); got != 1 {
		t.Errorf("Expected landmark 1, got %d", got)
	}

	// Equidistant point keeps the lowest index.
	tied := Shape{{0, 0}, {2, 0}}
	if got := ClosestLandmark(tied, Point{1, 0}); got != 0 {
		t.Errorf("Tie should keep lowest index, got %d", got)
	}
}

func TestRelativeCoordinates(t *testing.T) {
	s := Shape{{0, 0}, {10, 10}}
	abs := []Point{{1, 1}, {9, 9}}

	rel, closest := RelativeCoordinates(s, abs)
	if closest[0] != 0 || closest[1] != 1 {
		t.Fatalf("Unexpected landmark associations: %v", closest)
	}
	if !almostEqual(rel[0].X, 1) || !almostEqual(rel[0].Y, 1) {
		t.Errorf("Unexpected offset for first coordinate: %v", rel[0])
	}
	if !almostEqual(rel[1].X, -1) || !almostEqual(rel[1].Y, -1) {
		t.Errorf("Unexpected offset for second coordinate: %v", rel[1])
	}
}

func TestShapeArithmetic(t *testing.T) {
	a := Shape{{1, 2}, {3, 4}}
	b := Shape{{0.5, 0.5}, {1, 1}}

	diff, err := Diff(a, b)
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if !shapesAlmostEqual(diff, Shape{{0.5, 1.5}, {2, 3}}) {
		t.Errorf("Unexpected difference: %v", diff)
	}

	sum := a.Clone()
	sum.Add(b)
	if !shapesAlmostEqual(sum, Shape{{1.5, 2.5}, {4, 5}}) {
		t.Errorf("Unexpected sum: %v", sum)
	}

	scaled := a.Clone()
	scaled.AddScaled(2, b)
	if !shapesAlmostEqual(scaled, Shape{{2, 3}, {5, 6}}) {
		t.Errorf("Unexpected scaled sum: %v", scaled)
	}

	if _, err := Diff(a, Shape{{0, 0}}); err == nil {
		t.Error("Expected error for mismatched landmark counts")
	}
}

func TestMeanShape(t *testing.T) {
	mean, err := MeanShape([]Shape{{{0, 0}, {2, 2}}, {{2, 2}, {4, 4}}})
	if err != nil {
		t.Fatalf("MeanShape failed: %v", err)
	}
	if !shapesAlmostEqual(mean, Shape{{1, 1}, {3, 3}}) {
		t.Errorf("Unexpected mean shape: %v", mean)
	}

	if _, err := MeanShape(nil); err == nil {
		t.Error("Expected error for empty input")
	}
	if _, err := MeanShape([]Shape{{{0, 0}}, {{0, 0}, {1, 1}}}); err == nil {
		t.Error("Expected error for mismatched landmark counts")
	}
}

func TestBoundsAndCentroid(t *testing.T) {
	s := Shape{{1, 5}, {-2, 3}, {4, -1}}
	min, max := s.Bounds()
	if min.X != -2 || min.Y != -1 || max.X != 4 || max.Y != 5 {
		t.Errorf("Unexpected bounds: min %v max %v", min, max)
	}
	c := s.Centroid()
	if !almostEqual(c.X, 1) || !almostEqual(c.Y, 7.0/3.0) {
		t.Errorf("Unexpected centroid: %v", c)
	}
}
