package bundle

import (
	"context"
	"fmt"
	"sort"

	"github.com/banshee-data/bundle.evolution/internal/freespace"
	"github.com/banshee-data/bundle.evolution/internal/monitoring"
	"github.com/banshee-data/bundle.evolution/internal/trajectory"
)

// Params configures one generator run.
type Params struct {
	Epsilon float64
	// Lambda is the positional slack, Epsilon times the lambda factor.
	Lambda          float64
	IgnoreDirection bool
}

// Result is the output of one generator run: the bundles found and, for
// bundles found dominated, the bundle that absorbed them.
type Result struct {
	Bundles Set
	Merges  Merges
}

// EmptyResult returns a result with no bundles.
func EmptyResult() Result {
	return Result{Bundles: make(Set), Merges: make(Merges)}
}

// Generator discovers bundles at one epsilon. Implementations must be
// deterministic for fixed inputs and should return promptly once ctx is done.
type Generator interface {
	Generate(ctx context.Context, trajectories []*trajectory.Trajectory, p Params) (Result, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, trajectories []*trajectory.Trajectory, p Params) (Result, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, trajectories []*trajectory.Trajectory, p Params) (Result, error) {
	return f(ctx, trajectories, p)
}

// FreeSpaceGenerator reports groups of whole trajectories. Each trajectory in
// turn is the representative; a candidate joins its bundle when the labelled
// graph connects the first representative point on the candidate's first
// edge to the last representative point on the candidate's last edge.
// Bundles contained in a larger bundle are dropped and recorded as merged
// into the smallest such bundle.
type FreeSpaceGenerator struct {
	// MaxEntries is the R-tree fan-out; zero selects the default.
	MaxEntries int
}

// Generate implements Generator.
func (g FreeSpaceGenerator) Generate(ctx context.Context, trajectories []*trajectory.Trajectory, p Params) (Result, error) {
	if p.Epsilon < 0 {
		return Result{}, fmt.Errorf("epsilon must be non-negative, got %g", p.Epsilon)
	}

	var reps []*trajectory.Trajectory
	originals := make(map[string]*trajectory.Trajectory)
	for _, t := range trajectories {
		if t == nil || t.NumEdges() == 0 {
			continue
		}
		if _, dup := originals[t.ID]; dup {
			return Result{}, fmt.Errorf("duplicate trajectory id %q", t.ID)
		}
		originals[t.ID] = t
		reps = append(reps, t)
	}

	cands := append([]*trajectory.Trajectory(nil), reps...)
	if p.IgnoreDirection {
		for _, t := range reps {
			cands = append(cands, t.Reversed())
		}
	}
	conc := trajectory.Concatenate(cands)
	index := freespace.IndexEdges(conc, g.MaxEntries)

	found := make(Set)
	for _, rep := range reps {
		fb := freespace.NewBuilder(p.Epsilon, rep, conc, index)
		graph, err := fb.Build(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("building free space for %s: %w", rep.ID, err)
		}

		var members []trajectory.Subtrajectory
		for k := 0; k < conc.Len(); k++ {
			start, t := conc.Trajectory(k)
			from := freespace.Vert(0, start)
			to := freespace.Vert(rep.NumEdges(), start+t.NumEdges()-1)
			if graph.Connected(from, to) {
				members = append(members, trajectory.Whole(originals[t.ID]))
			}
		}
		if len(members) > 0 {
			found.Add(New(members...))
		}
	}

	res := EmptyResult()
	ordered := found.Sorted()
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Size() < ordered[j].Size() })
	for i, b := range ordered {
		var absorber *Bundle
		for _, c := range ordered[i+1:] {
			if c.Size() > b.Size() && c.HasAsSubBundle(b) {
				absorber = c
				break
			}
		}
		if absorber != nil {
			res.Merges.Add(b, absorber)
			continue
		}
		res.Bundles.Add(b)
	}

	monitoring.Infof(monitoring.TagGenerator, "eps=%g: %d bundles, %d dominated", p.Epsilon, len(res.Bundles), len(res.Merges))
	return res, nil
}
