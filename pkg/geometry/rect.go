package geometry

// Rect is an axis-aligned rectangle in image coordinates, typically a face
// detection box used to seed the cascade's initial shape estimate.
type Rect struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// Width returns the horizontal extent of the rectangle.
func (r Rect) Width() float64 { return r.MaxX - r.MinX }

// Height returns the vertical extent of the rectangle.
func (r Rect) Height() float64 { return r.MaxY - r.MinY }

// BoundingRect returns the axis-aligned bounding rectangle of a shape.
func BoundingRect(s Shape) Rect {
	min, max := s.Bounds()
	return Rect{MinX: min.X, MinY: min.Y, MaxX: max.X, MaxY: max.Y}
}

// NormalizeToRect maps a shape from image coordinates into the rectangle's
// unit frame, where the rectangle spans [0,1] on both axes. Degenerate
// rectangle extents map to 0 on that axis.
func NormalizeToRect(s Shape, r Rect) Shape {
	w, h := r.Width(), r.Height()
	out := make(Shape, len(s))
	for i, p := range s {
		q := Point{}
		if w != 0 {
			q.X = (p.X - r.MinX) / w
		}
		if h != 0 {
			q.Y = (p.Y - r.MinY) / h
		}
		out[i] = q
	}
	return out
}

// DenormalizeFromRect maps a unit-frame shape back into image coordinates
// spanned by the rectangle. It is the inverse of NormalizeToRect for
// non-degenerate rectangles.
func DenormalizeFromRect(s Shape, r Rect) Shape {
	w, h := r.Width(), r.Height()
	out := make(Shape, len(s))
	for i, p := range s {
		out[i] = Point{
			X: r.MinX + p.X*w,
			Y: r.MinY + p.Y*h,
		}
	}
	return out
}
