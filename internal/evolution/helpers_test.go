package evolution

import (
	"context"
	"sort"

	"github.com/banshee-data/bundle.evolution/internal/bundle"
	"github.com/banshee-data/bundle.evolution/internal/trajectory"
)

// line returns a horizontal trajectory with n unit spaced points at height y.
func line(id string, y float64, n int) *trajectory.Trajectory {
	xy := make([]float64, 0, 2*n)
	for i := 0; i < n; i++ {
		xy = append(xy, float64(i), y)
	}
	return trajectory.FromXY(id, xy...)
}

var (
	trA = line("a", 0, 10)
	trB = line("b", 0.5, 10)
	trC = line("c", 1, 10)
	trD = line("d", 1.5, 10)
)

func sub(t *trajectory.Trajectory, s, e float64) trajectory.Subtrajectory {
	return trajectory.Subtrajectory{Parent: t, Start: s, End: e}
}

// scripted returns a generator whose bundles depend on epsilon only.
func scripted(fn func(eps float64) []*bundle.Bundle) bundle.Generator {
	return bundle.GeneratorFunc(func(_ context.Context, _ []*trajectory.Trajectory, p bundle.Params) (bundle.Result, error) {
		res := bundle.EmptyResult()
		for _, b := range fn(p.Epsilon) {
			res.Bundles.Add(b)
		}
		return res, nil
	})
}

func births(d *Diagram) map[int]float64 {
	out := make(map[int]float64)
	for _, c := range d.Classes() {
		out[c], _ = d.BirthMoment(c)
	}
	return out
}

func stateKeys(s *State) []string {
	var out []string
	for _, b := range s.Bundles().Sorted() {
		out = append(out, b.Key())
	}
	sort.Strings(out)
	return out
}
