package trajectory

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r2"
)

// Concatenated places a list of trajectories in one global point index
// space. Trajectory k owns the global indices [Start(k), Start(k)+NumPoints).
// Trajectories without points take no space and cannot be looked up.
type Concatenated struct {
	starts []int
	trajs  []*Trajectory
	total  int
}

// Concatenate builds the global index space for ts in order.
func Concatenate(ts []*Trajectory) *Concatenated {
	c := &Concatenated{}
	for _, t := range ts {
		if t == nil || t.NumPoints() == 0 {
			continue
		}
		c.starts = append(c.starts, c.total)
		c.trajs = append(c.trajs, t)
		c.total += t.NumPoints()
	}
	return c
}

// Len returns the number of trajectories with at least one point.
func (c *Concatenated) Len() int { return len(c.trajs) }

// NumPoints returns the total number of points across all trajectories.
func (c *Concatenated) NumPoints() int { return c.total }

// Trajectory returns the k-th trajectory and its global start index.
func (c *Concatenated) Trajectory(k int) (start int, t *Trajectory) {
	return c.starts[k], c.trajs[k]
}

// Floor returns the trajectory owning global index g and its start index.
func (c *Concatenated) Floor(g int) (start int, t *Trajectory, ok bool) {
	if g < 0 || g >= c.total {
		return 0, nil, false
	}
	k := sort.Search(len(c.starts), func(i int) bool { return c.starts[i] > g }) - 1
	return c.starts[k], c.trajs[k], true
}

// Point returns the point at global index g.
func (c *Concatenated) Point(g int) (r2.Vec, bool) {
	start, t, ok := c.Floor(g)
	if !ok {
		return r2.Vec{}, false
	}
	return t.Point(g - start), true
}

// IsEdge reports whether global index g starts an edge, that is g and g+1
// lie in the same trajectory.
func (c *Concatenated) IsEdge(g int) bool {
	start, t, ok := c.Floor(g)
	return ok && g-start < t.NumEdges()
}

// Edge returns the edge starting at global index g.
func (c *Concatenated) Edge(g int) (Segment, bool) {
	start, t, ok := c.Floor(g)
	if !ok || g-start >= t.NumEdges() {
		return Segment{}, false
	}
	return t.Edge(g - start), true
}

// EachEdge calls fn for every edge with its global index.
func (c *Concatenated) EachEdge(fn func(g int, s Segment)) {
	for k, t := range c.trajs {
		for i := 0; i < t.NumEdges(); i++ {
			fn(c.starts[k]+i, t.Edge(i))
		}
	}
}
