// Package spatial provides an R-tree over axis aligned rectangles. The free
// space builder uses it to find candidate edges near a representative edge
// without scanning every trajectory.
package spatial

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// DefaultMaxEntries is the node fan-out used by NewRTree when maxEntries < 2.
const DefaultMaxEntries = 16

type entry[V comparable] struct {
	box   r2.Box
	child *node[V]
	value V
}

type node[V comparable] struct {
	leaf    bool
	entries []entry[V]
}

func (n *node[V]) bounds() r2.Box {
	b := n.entries[0].box
	for _, e := range n.entries[1:] {
		b = union(b, e.box)
	}
	return b
}

// RTree indexes values by bounding rectangle. Insertion follows the least
// enlargement path and overflowing nodes are split with Guttman's quadratic
// split. It is not safe for concurrent writers; concurrent queries after the
// last insert are fine.
type RTree[V comparable] struct {
	root       *node[V]
	maxEntries int
	minEntries int
	size       int
}

// NewRTree creates an empty tree whose nodes hold at most maxEntries entries.
func NewRTree[V comparable](maxEntries int) *RTree[V] {
	if maxEntries < 2 {
		maxEntries = DefaultMaxEntries
	}
	minEntries := maxEntries * 2 / 5
	if minEntries < 1 {
		minEntries = 1
	}
	return &RTree[V]{
		root:       &node[V]{leaf: true},
		maxEntries: maxEntries,
		minEntries: minEntries,
	}
}

// Size returns the number of inserted entries.
func (t *RTree[V]) Size() int { return t.size }

// Bounds returns the minimum bounding box of all inserted keys, or the zero
// box when the tree is empty.
func (t *RTree[V]) Bounds() r2.Box {
	if len(t.root.entries) == 0 {
		return r2.Box{}
	}
	return t.root.bounds()
}

// Insert adds value under the bounding box key. Min and Max are normalised.
func (t *RTree[V]) Insert(key r2.Box, value V) {
	key = key.Canon()
	if sib := t.insert(t.root, entry[V]{box: key, value: value}); sib != nil {
		old := t.root
		t.root = &node[V]{
			entries: []entry[V]{
				{box: old.bounds(), child: old},
				{box: sib.bounds(), child: sib},
			},
		}
	}
	t.size++
}

// insert places e below n and returns the new sibling when n had to split.
func (t *RTree[V]) insert(n *node[V], e entry[V]) *node[V] {
	if n.leaf {
		n.entries = append(n.entries, e)
	} else {
		i := chooseSubtree(n, e.box)
		child := n.entries[i].child
		sib := t.insert(child, e)
		n.entries[i].box = child.bounds()
		if sib != nil {
			n.entries = append(n.entries, entry[V]{box: sib.bounds(), child: sib})
		}
	}
	if len(n.entries) > t.maxEntries {
		return t.split(n)
	}
	return nil
}

// chooseSubtree picks the child needing least enlargement, ties broken by
// smaller area.
func chooseSubtree[V comparable](n *node[V], b r2.Box) int {
	best := 0
	bestEnl, bestArea := math.Inf(1), math.Inf(1)
	for i, e := range n.entries {
		a := area(e.box)
		enl := area(union(e.box, b)) - a
		if enl < bestEnl || (enl == bestEnl && a < bestArea) {
			best, bestEnl, bestArea = i, enl, a
		}
	}
	return best
}

// split distributes n's entries over n and a new sibling.
func (t *RTree[V]) split(n *node[V]) *node[V] {
	entries := n.entries
	s1, s2 := pickSeeds(entries)

	g1 := []entry[V]{entries[s1]}
	g2 := []entry[V]{entries[s2]}
	b1, b2 := entries[s1].box, entries[s2].box

	rest := make([]entry[V], 0, len(entries)-2)
	for i, e := range entries {
		if i != s1 && i != s2 {
			rest = append(rest, e)
		}
	}

	for len(rest) > 0 {
		// Hand everything left to a group that would otherwise underflow.
		if len(g1)+len(rest) == t.minEntries {
			g1 = append(g1, rest...)
			break
		}
		if len(g2)+len(rest) == t.minEntries {
			g2 = append(g2, rest...)
			break
		}

		next, d1, d2 := pickNext(rest, b1, b2)
		e := rest[next]
		rest = append(rest[:next], rest[next+1:]...)

		toFirst := d1 < d2
		if d1 == d2 {
			a1, a2 := area(b1), area(b2)
			toFirst = a1 < a2 || (a1 == a2 && len(g1) <= len(g2))
		}
		if toFirst {
			g1 = append(g1, e)
			b1 = union(b1, e.box)
		} else {
			g2 = append(g2, e)
			b2 = union(b2, e.box)
		}
	}

	n.entries = g1
	return &node[V]{leaf: n.leaf, entries: g2}
}

// pickSeeds returns the pair wasting the most area when grouped together.
func pickSeeds[V comparable](entries []entry[V]) (int, int) {
	s1, s2 := 0, 1
	worst := math.Inf(-1)
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			d := area(union(entries[i].box, entries[j].box)) - area(entries[i].box) - area(entries[j].box)
			if d > worst {
				worst, s1, s2 = d, i, j
			}
		}
	}
	return s1, s2
}

// pickNext returns the entry with the strongest preference for one group.
func pickNext[V comparable](rest []entry[V], b1, b2 r2.Box) (idx int, d1, d2 float64) {
	bestDiff := math.Inf(-1)
	a1, a2 := area(b1), area(b2)
	for i, e := range rest {
		e1 := area(union(b1, e.box)) - a1
		e2 := area(union(b2, e.box)) - a2
		if diff := math.Abs(e1 - e2); diff > bestDiff {
			bestDiff, idx, d1, d2 = diff, i, e1, e2
		}
	}
	return idx, d1, d2
}

// WindowQuery returns every value whose key intersects the closed window
// [xmin, xmax] x [ymin, ymax]. Touching boxes count as intersecting.
func (t *RTree[V]) WindowQuery(xmin, ymin, xmax, ymax float64) []V {
	w := r2.Box{Min: r2.Vec{X: xmin, Y: ymin}, Max: r2.Vec{X: xmax, Y: ymax}}.Canon()
	var out []V
	if len(t.root.entries) == 0 {
		return out
	}
	stack := []*node[V]{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range n.entries {
			if !intersects(e.box, w) {
				continue
			}
			if n.leaf {
				out = append(out, e.value)
			} else {
				stack = append(stack, e.child)
			}
		}
	}
	return out
}

// Search is WindowQuery over a box.
func (t *RTree[V]) Search(w r2.Box) []V {
	return t.WindowQuery(w.Min.X, w.Min.Y, w.Max.X, w.Max.Y)
}

// Values returns every inserted value in tree order.
func (t *RTree[V]) Values() []V {
	out := make([]V, 0, t.size)
	var walk func(n *node[V])
	walk = func(n *node[V]) {
		for _, e := range n.entries {
			if n.leaf {
				out = append(out, e.value)
			} else {
				walk(e.child)
			}
		}
	}
	walk(t.root)
	return out
}

// height is used by tests to check balance.
func (t *RTree[V]) height() int {
	h := 1
	for n := t.root; !n.leaf; n = n.entries[0].child {
		h++
	}
	return h
}

// union and area are kept local: r2.Box.Union treats a zero-area box as
// empty, and the keys of axis-aligned segments have zero area.
func union(a, b r2.Box) r2.Box {
	return r2.Box{
		Min: r2.Vec{X: math.Min(a.Min.X, b.Min.X), Y: math.Min(a.Min.Y, b.Min.Y)},
		Max: r2.Vec{X: math.Max(a.Max.X, b.Max.X), Y: math.Max(a.Max.Y, b.Max.Y)},
	}
}

func area(b r2.Box) float64 {
	return (b.Max.X - b.Min.X) * (b.Max.Y - b.Min.Y)
}

func intersects(a, b r2.Box) bool {
	return a.Min.X <= b.Max.X && b.Min.X <= a.Max.X &&
		a.Min.Y <= b.Max.Y && b.Min.Y <= a.Max.Y
}
