// Package geometry provides the shape and rigid-alignment primitives used by
// the cascaded regressor: 2D landmark shapes, best-fit similarity transforms
// between them, and shape-relative encodings of pixel coordinates.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Point is a 2D coordinate.
type Point struct {
	X, Y float64
}

// Add returns p + q.
func (p Point) Add(q Point) Point {
	return Point{p.X + q.X, p.Y + q.Y}
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{p.X - q.X, p.Y - q.Y}
}

// Norm returns the Euclidean length of p.
func (p Point) Norm() float64 {
	return math.Hypot(p.X, p.Y)
}

// Shape is an ordered, fixed-size set of 2D landmark positions. The landmark
// index is stable and meaningful across every shape used in a run: index i
// always denotes the same semantic landmark. A Shape is also used to represent
// a shape-sized residual (an additive correction).
type Shape []Point

// NewShape returns a zero-valued shape with the given number of landmarks.
func NewShape(numLandmarks int) Shape {
	return make(Shape, numLandmarks)
}

// Clone returns a deep copy of s.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Centroid returns the mean of all landmark positions. The centroid of an
// empty shape is the origin.
func (s Shape) Centroid() Point {
	var c Point
	if len(s) == 0 {
		return c
	}
	for _, p := range s {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(s))
	return Point{c.X / n, c.Y / n}
}

// Bounds returns the axis-aligned bounding box of the shape as its min and
// max corners.
func (s Shape) Bounds() (min, max Point) {
	if len(s) == 0 {
		return Point{}, Point{}
	}
	min, max = s[0], s[0]
	for _, p := range s[1:] {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
	}
	return min, max
}

// Add accumulates q into s in place. Shapes must have equal landmark counts.
func (s Shape) Add(q Shape) {
	for i := range s {
		s[i].X += q[i].X
		s[i].Y += q[i].Y
	}
}

// Sub subtracts q from s in place. Shapes must have equal landmark counts.
func (s Shape) Sub(q Shape) {
	for i := range s {
		s[i].X -= q[i].X
		s[i].Y -= q[i].Y
	}
}

// AddScaled accumulates k*q into s in place.
func (s Shape) AddScaled(k float64, q Shape) {
	for i := range s {
		s[i].X += k * q[i].X
		s[i].Y += k * q[i].Y
	}
}

// Scale multiplies every landmark of s by k in place.
func (s Shape) Scale(k float64) {
	for i := range s {
		s[i].X *= k
		s[i].Y *= k
	}
}

// SquaredNorm returns the sum of squared landmark coordinates.
func (s Shape) SquaredNorm() float64 {
	var sum float64
	for _, p := range s {
		sum += p.X*p.X + p.Y*p.Y
	}
	return sum
}

// Diff returns a - b as a new residual shape. It returns an error when the
// landmark counts differ, which indicates shapes from incompatible runs.
func Diff(a, b Shape) (Shape, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("geometry: landmark count mismatch: %d vs %d", len(a), len(b))
	}
	out := a.Clone()
	out.Sub(b)
	return out, nil
}

// MeanShape returns the per-landmark mean of the given shapes, which must all
// share one landmark count.
func MeanShape(shapes []Shape) (Shape, error) {
	if len(shapes) == 0 {
		return nil, fmt.Errorf("geometry: no shapes to average")
	}
	n := len(shapes[0])
	mean := NewShape(n)
	for _, s := range shapes {
		if len(s) != n {
			return nil, fmt.Errorf("geometry: landmark count mismatch: %d vs %d", len(s), n)
		}
		mean.Add(s)
	}
	mean.Scale(1 / float64(len(shapes)))
	return mean, nil
}

// Similarity is a 2x3 affine map whose linear part is a uniform scale times a
// rotation. It takes points from one shape's frame into another's.
type Similarity struct {
	// Linear is the scale*rotation part, row major.
	Linear [2][2]float64
	// Translation is applied after the linear part.
	Translation Point
}

// Identity returns the identity transform.
func Identity() Similarity {
	return Similarity{Linear: [2][2]float64{{1, 0}, {0, 1}}}
}

// Apply maps p through the full transform.
func (t Similarity) Apply(p Point) Point {
	q := t.ApplyLinear(p)
	return q.Add(t.Translation)
}

// ApplyLinear maps p through the linear part only, dropping the translation.
// Shape-relative offsets are mapped this way: they are direction vectors, not
// positions.
func (t Similarity) ApplyLinear(p Point) Point {
	return Point{
		X: t.Linear[0][0]*p.X + t.Linear[0][1]*p.Y,
		Y: t.Linear[1][0]*p.X + t.Linear[1][1]*p.Y,
	}
}

// ApplyShape maps every landmark of s through the full transform, returning a
// new shape.
func (t Similarity) ApplyShape(s Shape) Shape {
	out := make(Shape, len(s))
	for i, p := range s {
		out[i] = t.Apply(p)
	}
	return out
}

// EstimateSimilarityTransform computes the similarity transform (rotation,
// uniform scale, translation) minimizing the mean squared landmark distance
// between the mapped from shape and to, via Procrustes analysis: both shapes
// are centered on their centroids, the 2x2 cross-covariance of the centered
// coordinates is decomposed by SVD, and the rotation is assembled with a
// reflection correction driven by the covariance determinant. A zero-variance
// from shape yields scale 1 instead of a division by zero.
//
// The shapes must share landmark count and ordering.
func EstimateSimilarityTransform(from, to Shape) (Similarity, error) {
	if len(from) != len(to) {
		return Identity(), fmt.Errorf("geometry: landmark count mismatch: %d vs %d", len(from), len(to))
	}
	if len(from) == 0 {
		return Identity(), fmt.Errorf("geometry: cannot align empty shapes")
	}

	n := float64(len(from))
	meanFrom := from.Centroid()
	meanTo := to.Centroid()

	// Cross-covariance of the centered shapes and the mean squared norm of
	// the centered source, both normalized by the landmark count.
	cov := mat.NewDense(2, 2, nil)
	var sFrom float64
	for i := range from {
		f := from[i].Sub(meanFrom)
		t := to[i].Sub(meanTo)
		cov.Set(0, 0, cov.At(0, 0)+f.X*t.X)
		cov.Set(0, 1, cov.At(0, 1)+f.X*t.Y)
		cov.Set(1, 0, cov.At(1, 0)+f.Y*t.X)
		cov.Set(1, 1, cov.At(1, 1)+f.Y*t.Y)
		sFrom += f.X*f.X + f.Y*f.Y
	}
	cov.Scale(1/n, cov)
	sFrom /= n

	var svd mat.SVD
	if ok := svd.Factorize(cov, mat.SVDFull); !ok {
		return Identity(), fmt.Errorf("geometry: SVD of cross-covariance failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sv := svd.Values(nil)

	// Reflection correction: when the covariance determinant is negative (or
	// zero with det(U)·det(V) negative), flip the sign of the smaller
	// singular value's axis.
	sign := [2]float64{1, 1}
	detCov := mat.Det(cov)
	detUV := mat.Det(&u) * mat.Det(&v)
	if detCov < 0 || (detCov == 0 && detUV < 0) {
		if sv[1] < sv[0] {
			sign[1] = -1
		} else {
			sign[0] = -1
		}
	}

	// rot = V · S · Uᵀ, the Umeyama rotation for a cross-covariance built as
	// centeredFrom · centeredToᵀ. Invariant to the SVD's column sign choices,
	// which the transposed variant is not.
	var rot [2][2]float64
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			rot[r][c] = v.At(r, 0)*sign[0]*u.At(c, 0) + v.At(r, 1)*sign[1]*u.At(c, 1)
		}
	}

	scale := 1.0
	if sFrom > 0 {
		scale = (sv[0]*sign[0] + sv[1]*sign[1]) / sFrom
	}

	t := Similarity{}
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			t.Linear[r][c] = scale * rot[r][c]
		}
	}
	rotMean := t.ApplyLinear(meanFrom)
	t.Translation = meanTo.Sub(rotMean)
	return t, nil
}

// ClosestLandmark returns the index of the landmark of s nearest to p by
// Euclidean distance. Ties keep the lowest index. The shape must be non-empty.
func ClosestLandmark(s Shape, p Point) int {
	best := -1
	bestD2 := math.MaxFloat64
	for i, q := range s {
		dx, dy := q.X-p.X, q.Y-p.Y
		d2 := dx*dx + dy*dy
		if d2 < bestD2 {
			bestD2 = d2
			best = i
		}
	}
	return best
}

// RelativeCoordinates re-expresses each absolute coordinate as an offset from
// its nearest landmark of s, returning the offsets and the parallel landmark
// index table. This fixes a sampled coordinate set to the shape: the offsets
// stay meaningful as the shape deforms.
func RelativeCoordinates(s Shape, abs []Point) ([]Point, []int) {
	rel := make([]Point, len(abs))
	closest := make([]int, len(abs))
	for i, p := range abs {
		idx := ClosestLandmark(s, p)
		rel[i] = p.Sub(s[idx])
		closest[i] = idx
	}
	return rel, closest
}
