// Package freespace builds the labelled free-space graph between one
// representative trajectory and a concatenated set of candidate trajectories.
//
// Grid coordinates interleave points and edges on both axes: point i maps to
// 2i and edge i maps to 2i+1. A cell (2i, 2j+1) relates representative point
// i to candidate edge j, a cell (2i+1, 2j) relates representative edge i to
// candidate point j. The two kinds never share a coordinate.
package freespace

import (
	"fmt"
	"sort"
)

// VertexCoord maps point index i to its grid coordinate.
func VertexCoord(i int) int { return 2 * i }

// EdgeCoord maps edge index j to its grid coordinate.
func EdgeCoord(j int) int { return 2*j + 1 }

// Coord is a cell of the free-space grid.
type Coord struct {
	X, Y int
}

// Vert is the cell of representative point i against candidate edge j.
func Vert(i, j int) Coord { return Coord{X: VertexCoord(i), Y: EdgeCoord(j)} }

// Hor is the cell of representative edge i against candidate point j.
func Hor(i, j int) Coord { return Coord{X: EdgeCoord(i), Y: VertexCoord(j)} }

// IsVertical reports whether c relates a representative point to a candidate edge.
func (c Coord) IsVertical() bool { return c.X%2 == 0 && c.Y%2 != 0 }

// IsHorizontal reports whether c relates a representative edge to a candidate point.
func (c Coord) IsHorizontal() bool { return c.X%2 != 0 && c.Y%2 == 0 }

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// Orientation of the target cell of a labelled edge.
type Orientation uint8

const (
	Vertical Orientation = iota
	Horizontal
)

func (o Orientation) String() string {
	if o == Vertical {
		return "vertical"
	}
	return "horizontal"
}

// Source tells which neighbour a labelled edge was propagated from.
type Source uint8

const (
	FromLeft Source = iota
	FromBottom
)

func (s Source) String() string {
	if s == FromLeft {
		return "left"
	}
	return "bottom"
}

// LabelledEdge connects a free predecessor cell to a free cell.
type LabelledEdge struct {
	From, To    Coord
	Orientation Orientation
	Source      Source
}

// leftOf and bottomOf give the predecessor cells of a target.
func leftOf(c Coord) Coord {
	if c.IsVertical() {
		return Coord{X: c.X - 2, Y: c.Y}
	}
	return Coord{X: c.X - 1, Y: c.Y - 1}
}

func bottomOf(c Coord) Coord {
	if c.IsVertical() {
		return Coord{X: c.X - 1, Y: c.Y - 1}
	}
	return Coord{X: c.X, Y: c.Y - 2}
}

// Graph is a sparse map from cell to its incoming labelled edges. Only cells
// with at least one incoming edge are stored.
type Graph struct {
	cells map[Coord][]LabelledEdge
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{cells: make(map[Coord][]LabelledEdge)}
}

func (g *Graph) add(e LabelledEdge) {
	g.cells[e.To] = append(g.cells[e.To], e)
}

// Edges returns the incoming edges of c.
func (g *Graph) Edges(c Coord) []LabelledEdge { return g.cells[c] }

// Has reports whether c has at least one incoming edge.
func (g *Graph) Has(c Coord) bool { return len(g.cells[c]) > 0 }

// Len returns the number of stored cells.
func (g *Graph) Len() int { return len(g.cells) }

// Coords returns the stored cells ordered by X then Y.
func (g *Graph) Coords() []Coord {
	out := make([]Coord, 0, len(g.cells))
	for c := range g.cells {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return out
}

// Connected reports whether a path of labelled edges leads from start to end.
func (g *Graph) Connected(start, end Coord) bool {
	if start == end {
		return true
	}
	seen := map[Coord]bool{end: true}
	stack := []Coord{end}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.cells[c] {
			if e.From == start {
				return true
			}
			if !seen[e.From] {
				seen[e.From] = true
				stack = append(stack, e.From)
			}
		}
	}
	return false
}
