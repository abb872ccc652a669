package spatial

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
)

func seg(x0, y0, x1, y1 float64) r2.Box {
	return r2.Box{Min: r2.Vec{X: x0, Y: y0}, Max: r2.Vec{X: x1, Y: y1}}
}

func sorted(ids []int) []int {
	out := append([]int(nil), ids...)
	sort.Ints(out)
	return out
}

func TestRTreeInsertValues(t *testing.T) {
	tree := NewRTree[int](2)
	tree.Insert(seg(-2, 0, 0, -2), 1)
	tree.Insert(seg(-1, 0, 0, 0), 2)
	tree.Insert(seg(2, -1, 2, 0), 3)

	assert.Equal(t, 3, tree.Size())
	assert.Equal(t, []int{1, 2, 3}, sorted(tree.Values()))
}

func TestRTreeWindowQuery(t *testing.T) {
	tree := NewRTree[int](2)
	tree.Insert(seg(-2, 0, 0, -2), 1)
	tree.Insert(seg(-1, 0, 0, 0), 2)
	tree.Insert(seg(2, -1, 2, 0), 3)

	got := sorted(tree.WindowQuery(-1, -1, 1, 1))
	if diff := cmp.Diff([]int{1, 2}, got); diff != "" {
		t.Errorf("WindowQuery mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, tree.WindowQuery(10, 10, 11, 11))
	assert.Equal(t, []int{3}, tree.WindowQuery(2, 0, 3, 0.5), "touching boxes intersect")
}

func TestRTreeBounds(t *testing.T) {
	tree := NewRTree[int](2)
	assert.Equal(t, r2.Box{}, tree.Bounds())

	tree.Insert(seg(1, 1, 2, 2), 1)
	tree.Insert(seg(1, 2, 2, 2), 2)
	tree.Insert(seg(3, 1, 2, 2), 3)

	assert.Equal(t, seg(1, 1, 3, 2), tree.Bounds())
}

func TestRTreeMatchesLinearScan(t *testing.T) {
	t.Parallel()
	for _, fanout := range []int{2, 4, 16} {
		rng := rand.New(rand.NewSource(int64(fanout)))
		tree := NewRTree[int](fanout)
		boxes := make([]r2.Box, 0, 600)
		for i := 0; i < 600; i++ {
			x, y := rng.Float64()*100, rng.Float64()*100
			b := seg(x, y, x+rng.Float64()*5, y+rng.Float64()*5)
			if i%7 == 0 {
				// degenerate horizontal segment
				b.Max.Y = b.Min.Y
			}
			boxes = append(boxes, b)
			tree.Insert(b, i)
		}
		require.Equal(t, len(boxes), tree.Size())

		for q := 0; q < 200; q++ {
			x, y := rng.Float64()*100, rng.Float64()*100
			w := seg(x, y, x+rng.Float64()*20, y+rng.Float64()*20)

			var want []int
			for i, b := range boxes {
				if intersects(b, w) {
					want = append(want, i)
				}
			}
			got := sorted(tree.Search(w))
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("fanout %d query %d mismatch (-want +got):\n%s", fanout, q, diff)
			}
		}

		var full r2.Box
		for i, b := range boxes {
			if i == 0 {
				full = b
				continue
			}
			full = union(full, b)
		}
		assert.Equal(t, full, tree.Bounds())
	}
}

func TestRTreeBalanced(t *testing.T) {
	tree := NewRTree[int](4)
	for i := 0; i < 1000; i++ {
		x := float64(i % 37)
		y := float64(i / 37)
		tree.Insert(seg(x, y, x+0.5, y+0.5), i)
	}

	var depths []int
	var walk func(n *node[int], d int)
	walk = func(n *node[int], d int) {
		assert.LessOrEqual(t, len(n.entries), 4)
		if n.leaf {
			depths = append(depths, d)
			return
		}
		for _, e := range n.entries {
			assert.Equal(t, e.child.bounds(), e.box, "parent box must equal child bounds")
			walk(e.child, d+1)
		}
	}
	walk(tree.root, 1)
	for _, d := range depths {
		assert.Equal(t, tree.height(), d)
	}
	assert.Len(t, tree.Values(), 1000)
}

func TestRTreeNormalisesKeys(t *testing.T) {
	tree := NewRTree[string](0)
	tree.Insert(r2.Box{Min: r2.Vec{X: 5, Y: 5}, Max: r2.Vec{X: 1, Y: 1}}, "flipped")
	assert.Equal(t, []string{"flipped"}, tree.WindowQuery(2, 2, 3, 3))
	assert.Equal(t, seg(1, 1, 5, 5), tree.Bounds())
	assert.Equal(t, []string{"flipped"}, tree.WindowQuery(3, 3, 2, 2), "window corners in either order")
}

func TestRTreeBoundsCoverFlatKeys(t *testing.T) {
	tree := NewRTree[int](2)
	tree.Insert(seg(0, 0, 4, 0), 1)
	tree.Insert(seg(10, -2, 10, 3), 2)
	tree.Insert(seg(-1, 7, 2, 7), 3)

	assert.Equal(t, seg(-1, -2, 10, 7), tree.Bounds())
	assert.ElementsMatch(t, []int{1}, tree.WindowQuery(3, -0.5, 3.5, 0.5))
	assert.ElementsMatch(t, []int{2}, tree.WindowQuery(9, 1, 11, 1))
	assert.ElementsMatch(t, []int{1, 2, 3}, tree.WindowQuery(-5, -5, 15, 15))
}
