package trajectory

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Segment is a straight line between two points.
type Segment struct {
	A, B r2.Vec
}

// Bounds returns the axis aligned bounding box of the segment.
func (s Segment) Bounds() r2.Box {
	return r2.Box{
		Min: r2.Vec{X: math.Min(s.A.X, s.B.X), Y: math.Min(s.A.Y, s.B.Y)},
		Max: r2.Vec{X: math.Max(s.A.X, s.B.X), Y: math.Max(s.A.Y, s.B.Y)},
	}
}

// Length returns the euclidean length of the segment.
func (s Segment) Length() float64 { return r2.Norm(r2.Sub(s.B, s.A)) }

// PointSegmentDistance returns the euclidean distance from p to the closest
// point of s. Degenerate segments behave as points.
func PointSegmentDistance(p r2.Vec, s Segment) float64 {
	d := r2.Sub(s.B, s.A)
	l2 := r2.Norm2(d)
	if l2 == 0 {
		return r2.Norm(r2.Sub(p, s.A))
	}
	t := r2.Dot(r2.Sub(p, s.A), d) / l2
	switch {
	case t <= 0:
		return r2.Norm(r2.Sub(p, s.A))
	case t >= 1:
		return r2.Norm(r2.Sub(p, s.B))
	}
	proj := r2.Add(s.A, r2.Scale(t, d))
	return r2.Norm(r2.Sub(p, proj))
}

// ExtendBox grows b to include p.
func ExtendBox(b r2.Box, p r2.Vec) r2.Box {
	return r2.Box{
		Min: r2.Vec{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y)},
		Max: r2.Vec{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y)},
	}
}

// ExpandBox grows b by d in every direction.
func ExpandBox(b r2.Box, d float64) r2.Box {
	return r2.Box{
		Min: r2.Vec{X: b.Min.X - d, Y: b.Min.Y - d},
		Max: r2.Vec{X: b.Max.X + d, Y: b.Max.Y + d},
	}
}
