package freespace

import (
	"context"
	"sort"

	"github.com/banshee-data/bundle.evolution/internal/spatial"
	"github.com/banshee-data/bundle.evolution/internal/trajectory"
)

// IndexEdges builds an R-tree over every candidate edge keyed by the global
// index of its first point.
func IndexEdges(cand *trajectory.Concatenated, maxEntries int) *spatial.RTree[int] {
	idx := spatial.NewRTree[int](maxEntries)
	cand.EachEdge(func(g int, s trajectory.Segment) {
		idx.Insert(s.Bounds(), g)
	})
	return idx
}

// Builder constructs the labelled graph for one epsilon and one
// representative. Freeness is computed lazily and memoised per cell.
type Builder struct {
	epsilon float64
	rep     *trajectory.Trajectory
	cand    *trajectory.Concatenated
	index   *spatial.RTree[int]

	graph *Graph
	free  map[Coord]bool
}

// NewBuilder prepares a builder. index must hold the edges of cand as
// produced by IndexEdges.
func NewBuilder(epsilon float64, rep *trajectory.Trajectory, cand *trajectory.Concatenated, index *spatial.RTree[int]) *Builder {
	return &Builder{
		epsilon: epsilon,
		rep:     rep,
		cand:    cand,
		index:   index,
		graph:   NewGraph(),
		free:    make(map[Coord]bool),
	}
}

// Graph returns the graph built so far.
func (b *Builder) Graph() *Graph { return b.graph }

// Build adds one layer per representative edge and returns the graph. It
// stops early with ctx's error when ctx is cancelled between layers.
func (b *Builder) Build(ctx context.Context) (*Graph, error) {
	for i := 0; i < b.rep.NumEdges(); i++ {
		if err := ctx.Err(); err != nil {
			return b.graph, err
		}
		b.AddLayer(i)
	}
	return b.graph, nil
}

// IsFree reports whether cell c lies within epsilon. Cells outside the grid
// are never free.
func (b *Builder) IsFree(c Coord) bool {
	if f, ok := b.free[c]; ok {
		return f
	}
	f := b.computeFree(c)
	b.free[c] = f
	return f
}

func (b *Builder) computeFree(c Coord) bool {
	switch {
	case c.IsVertical():
		i, j := c.X/2, (c.Y-1)/2
		if i < 0 || i >= b.rep.NumPoints() {
			return false
		}
		e, ok := b.cand.Edge(j)
		if !ok {
			return false
		}
		return trajectory.PointSegmentDistance(b.rep.Point(i), e) <= b.epsilon
	case c.IsHorizontal():
		i, j := (c.X-1)/2, c.Y/2
		if i < 0 || i >= b.rep.NumEdges() {
			return false
		}
		p, ok := b.cand.Point(j)
		if !ok {
			return false
		}
		return trajectory.PointSegmentDistance(p, b.rep.Edge(i)) <= b.epsilon
	}
	return false
}

// isEntry reports whether c may start a path: the first representative
// point, or the first point of a candidate trajectory.
func (b *Builder) isEntry(c Coord) bool {
	if c.IsVertical() {
		return c.X == 0
	}
	if c.IsHorizontal() {
		start, _, ok := b.cand.Floor(c.Y / 2)
		return ok && start == c.Y/2
	}
	return false
}

// Reachable reports whether c is free and either an entry cell or already
// has a documented predecessor.
func (b *Builder) Reachable(c Coord) bool {
	if !b.IsFree(c) {
		return false
	}
	return b.isEntry(c) || b.graph.Has(c)
}

func (b *Builder) tryAdd(to Coord, from Coord, src Source) bool {
	if from.X < 0 || from.Y < 0 || !b.Reachable(from) {
		return false
	}
	o := Vertical
	if to.IsHorizontal() {
		o = Horizontal
	}
	for _, e := range b.graph.Edges(to) {
		if e.From == from {
			return true
		}
	}
	b.graph.add(LabelledEdge{From: from, To: to, Orientation: o, Source: src})
	return true
}

// AddLayer extends the graph across representative edge i. Candidate edges
// come from a window query around the representative edge grown by epsilon.
// Horizontal cells found along the way are revisited per candidate
// trajectory in ascending order so that bottom propagation reaches every
// index discovered in this column.
func (b *Builder) AddLayer(i int) {
	if i < 0 || i >= b.rep.NumEdges() {
		return
	}
	w := trajectory.ExpandBox(b.rep.Edge(i).Bounds(), b.epsilon)
	hits := b.index.Search(w)
	sort.Ints(hits)

	groups := make(map[int][]int)
	for _, j := range hits {
		start, t, ok := b.cand.Floor(j)
		if !ok {
			continue
		}
		last := start + t.NumEdges()

		v := Vert(i+1, j)
		if b.IsFree(v) {
			b.tryAdd(v, leftOf(v), FromLeft)
		}

		if j == start && b.IsFree(Hor(i, j)) {
			groups[start] = append(groups[start], j)
		}

		if j+1 < last {
			h := Hor(i, j+1)
			if b.IsFree(h) && b.tryAdd(h, leftOf(h), FromLeft) {
				groups[start] = append(groups[start], j+1)
			}
		}
	}

	starts := make([]int, 0, len(groups))
	for s := range groups {
		starts = append(starts, s)
	}
	sort.Ints(starts)

	for _, start := range starts {
		_, t, _ := b.cand.Floor(start)
		last := start + t.NumEdges()
		list := uniqueSorted(groups[start])

		for k := 0; k < len(list); k++ {
			j := list[k]
			v := Vert(i+1, j)
			if b.IsFree(v) {
				b.tryAdd(v, bottomOf(v), FromBottom)
			}
			if j+1 >= last {
				continue
			}
			h := Hor(i, j+1)
			if !b.IsFree(h) || !b.tryAdd(h, bottomOf(h), FromBottom) {
				continue
			}
			if k+1 == len(list) || list[k+1] > j+1 {
				list = append(list, 0)
				copy(list[k+2:], list[k+1:])
				list[k+1] = j + 1
			}
		}
	}
}

func uniqueSorted(in []int) []int {
	sort.Ints(in)
	out := in[:0]
	for k, v := range in {
		if k == 0 || v != in[k-1] {
			out = append(out, v)
		}
	}
	return out
}
