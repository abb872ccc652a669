// Package trajectory holds the immutable 2D trajectories that bundles are
// built from, plus the geometry helpers shared by the index and free-space code.
package trajectory

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Trajectory is an ordered, immutable sequence of 2D points.
type Trajectory struct {
	ID     string
	points []r2.Vec
	// cumulative arc length at each point, cum[0] == 0
	cum []float64
}

// New copies pts into a new Trajectory.
func New(id string, pts []r2.Vec) *Trajectory {
	t := &Trajectory{
		ID:     id,
		points: make([]r2.Vec, len(pts)),
		cum:    make([]float64, len(pts)),
	}
	copy(t.points, pts)
	for i := 1; i < len(t.points); i++ {
		t.cum[i] = t.cum[i-1] + r2.Norm(r2.Sub(t.points[i], t.points[i-1]))
	}
	return t
}

// FromXY builds a trajectory from alternating x, y values.
func FromXY(id string, xy ...float64) *Trajectory {
	if len(xy)%2 != 0 {
		panic(fmt.Sprintf("trajectory %s: odd coordinate count %d", id, len(xy)))
	}
	pts := make([]r2.Vec, 0, len(xy)/2)
	for i := 0; i < len(xy); i += 2 {
		pts = append(pts, r2.Vec{X: xy[i], Y: xy[i+1]})
	}
	return New(id, pts)
}

// NumPoints returns the number of points.
func (t *Trajectory) NumPoints() int { return len(t.points) }

// NumEdges returns the number of segments between consecutive points.
func (t *Trajectory) NumEdges() int {
	if len(t.points) < 2 {
		return 0
	}
	return len(t.points) - 1
}

// Point returns point i.
func (t *Trajectory) Point(i int) r2.Vec { return t.points[i] }

// Edge returns the segment from point i to point i+1.
func (t *Trajectory) Edge(i int) Segment {
	return Segment{A: t.points[i], B: t.points[i+1]}
}

// Length returns the total arc length.
func (t *Trajectory) Length() float64 {
	if len(t.cum) == 0 {
		return 0
	}
	return t.cum[len(t.cum)-1]
}

// ArcLength returns the arc length from the first point to the fractional
// index idx. Indices outside [0, NumPoints-1] are clamped.
func (t *Trajectory) ArcLength(idx float64) float64 {
	n := len(t.points)
	if n == 0 || idx <= 0 {
		return 0
	}
	if idx >= float64(n-1) {
		return t.cum[n-1]
	}
	i := int(math.Floor(idx))
	frac := idx - float64(i)
	return t.cum[i] + frac*(t.cum[i+1]-t.cum[i])
}

// Reversed returns a copy with the point order reversed. The ID is kept so
// that matches against the copy are reported against the original.
func (t *Trajectory) Reversed() *Trajectory {
	pts := make([]r2.Vec, len(t.points))
	for i, p := range t.points {
		pts[len(pts)-1-i] = p
	}
	return New(t.ID, pts)
}

// Bounds returns the bounding box of all points.
func (t *Trajectory) Bounds() r2.Box {
	if len(t.points) == 0 {
		return r2.Box{}
	}
	b := r2.Box{Min: t.points[0], Max: t.points[0]}
	for _, p := range t.points[1:] {
		b = ExtendBox(b, p)
	}
	return b
}

func (t *Trajectory) String() string {
	return fmt.Sprintf("Trajectory(%s, %d points)", t.ID, len(t.points))
}
