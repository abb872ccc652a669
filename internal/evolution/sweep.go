package evolution

import (
	"context"
	"sort"

	"github.com/banshee-data/bundle.evolution/internal/bundle"
	"github.com/banshee-data/bundle.evolution/internal/monitoring"
	"github.com/banshee-data/bundle.evolution/internal/trajectory"
)

// containment selects which side of a match must contain the other.
type containment int

const (
	// candidateContains: the candidate bundle contains the query.
	candidateContains containment = iota
	// queryContains: the query bundle contains the candidate.
	queryContains
)

// recorded holds the bundles kept for one epsilon before folding.
type recorded struct {
	bundles bundle.Set
	merges  bundle.Merges
}

// sweep is the state of one sequential run. It owns the generator cache and
// the recorded results and is passed explicitly through the refinement
// recursion.
type sweep struct {
	ctx   context.Context
	b     *Builder
	trajs []*trajectory.Trajectory

	generated map[float64]bundle.Result
	recorded  map[float64]*recorded
	coarse    map[float64]bool
}

func newSweep(ctx context.Context, b *Builder, trajs []*trajectory.Trajectory) *sweep {
	return &sweep{
		ctx:       ctx,
		b:         b,
		trajs:     trajs,
		generated: make(map[float64]bundle.Result),
		recorded:  make(map[float64]*recorded),
		coarse:    make(map[float64]bool),
	}
}

func (s *sweep) aborted() bool {
	return s.ctx.Err() != nil || s.b.aborted.Load()
}

// generate returns the memoised generator result at eps. Failures are
// logged and treated as an empty result; results cut short by an abort are
// not cached.
func (s *sweep) generate(eps float64) bundle.Result {
	if r, ok := s.generated[eps]; ok {
		return r
	}
	res, err := s.b.gen.Generate(s.ctx, s.trajs, s.b.cfg.params(eps))
	if err != nil {
		if s.aborted() {
			return bundle.EmptyResult()
		}
		monitoring.Warnf(monitoring.TagEvolution, "eps=%g: bundle generation failed: %v", eps, err)
		res = bundle.EmptyResult()
	}
	if res.Bundles == nil {
		res.Bundles = make(bundle.Set)
	}
	if res.Merges == nil {
		res.Merges = make(bundle.Merges)
	}
	s.generated[eps] = res
	return res
}

// record keeps bs at eps. The entry is created even when bs is empty.
func (s *sweep) record(eps float64, bs ...*bundle.Bundle) {
	r, ok := s.recorded[eps]
	if !ok {
		r = &recorded{bundles: make(bundle.Set), merges: s.generate(eps).Merges}
		s.recorded[eps] = r
	}
	for _, b := range bs {
		r.bundles.Add(b)
	}
}

// match returns the first bundle of set with q's size that q continues
// into, by exact containment, lambda containment or equality. dir says
// which side must contain the other.
func (s *sweep) match(set bundle.Set, q *bundle.Bundle, eps float64, dir containment) *bundle.Bundle {
	lambda := eps * s.b.cfg.LambdaFactor
	for _, c := range set.Sorted() {
		if c.Size() != q.Size() {
			continue
		}
		outer, inner := c, q
		if dir == queryContains {
			outer, inner = q, c
		}
		if outer.HasAsSubBundle(inner) || outer.HasAsLambdaSubBundle(inner, lambda) || outer.Equal(inner) {
			return c
		}
	}
	return nil
}

// run samples every coarse epsilon. A bundle is confirmed when it continues
// a bundle of the previous sample; bundles first seen at a sample stay
// tentative until the next sample confirms them, and tentative bundles left
// unconfirmed start a refinement search between the two samples. The last
// sample keeps everything it found.
func (s *sweep) run(schedule []float64, d *Diagram) {
	prevAll := make(bundle.Set)
	prevTentative := make(bundle.Set)
	prevEps, havePrev := 0.0, false
	if last, ok := d.Last(); ok {
		prevAll = last.Bundles()
		prevEps, havePrev = last.Epsilon, true
	}

	for n, eps := range schedule {
		if s.aborted() {
			monitoring.Statusf(monitoring.TagEvolution, "aborted before eps=%g", eps)
			return
		}
		res := s.generate(eps)
		if s.aborted() {
			return
		}
		s.coarse[eps] = true

		confirmed := make(bundle.Set)
		fresh := make(bundle.Set)
		promoted := make(bundle.Set)
		for _, nb := range res.Bundles.Sorted() {
			old := s.match(prevAll, nb, eps, queryContains)
			if old == nil {
				fresh.Add(nb)
				continue
			}
			confirmed.Add(nb)
			if prevTentative.Has(old) {
				promoted.Add(old)
			}
		}
		s.record(eps, confirmed.Sorted()...)
		if n == len(schedule)-1 {
			// No later sample can confirm the bundles first seen here.
			s.record(eps, fresh.Sorted()...)
		}
		if havePrev && len(promoted) > 0 {
			s.record(prevEps, promoted.Sorted()...)
		}

		leftovers := make(bundle.Set)
		for k, b := range prevTentative {
			if !promoted.Has(b) {
				leftovers[k] = b
			}
		}
		if havePrev && len(leftovers) > 0 && !s.b.cfg.DisableRefinement {
			h := (eps - prevEps) / 2
			if mid := prevEps + h; admissible(mid) {
				monitoring.Infof(monitoring.TagDigDeep, "%d tentative bundles between eps=%g and eps=%g", len(leftovers), prevEps, eps)
				s.digdeep(prevEps+h/2, mid, prevEps, leftovers)
			}
		}

		prevAll = confirmed.Clone()
		prevAll.AddAll(fresh)
		prevTentative = fresh
		prevEps, havePrev = eps, true

		s.b.updateState(func(st *BuildState) {
			st.CurrentEpsilon = eps
			st.Samples = n + 1
			st.RefinedSamples = len(s.generated) - (n + 1)
		})
		monitoring.Statusf(monitoring.TagEvolution, "eps=%g: %d bundles, %d confirmed", eps, len(res.Bundles), len(confirmed))
	}
}

// digdeep checks tentative bundles seen at origin against probes e1 < e2
// above it. A bundle still covering something at e1 and covered by something
// at e2 is stable and recorded at all three epsilons. A bundle confirmed on
// one side only is recorded with its match, and the match is searched
// further: past e2 for case1, between e1 and e2 for case2. Unconfirmed
// bundles are dropped. Each level halves the step and stops once a probe
// leaves the quarter grid or passes the maximum epsilon.
func (s *sweep) digdeep(e1, e2, origin float64, tentative bundle.Set) {
	if s.aborted() || len(tentative) == 0 || !(e1 < e2) {
		return
	}
	s1 := s.generate(e1).Bundles
	s2 := s.generate(e2).Bundles
	if s.aborted() {
		return
	}

	case1 := make(bundle.Set)
	case2 := make(bundle.Set)
	for _, b := range tentative.Sorted() {
		lo := s.match(s1, b, e1, queryContains)
		hi := s.match(s2, b, e2, candidateContains)
		switch {
		case lo != nil && hi != nil:
			s.record(e1, lo)
			s.record(e2, hi)
			s.record(origin, b)
		case hi != nil:
			s.record(e2, hi)
			s.record(origin, b)
			case1.Add(hi)
		case lo != nil:
			s.record(e1, lo)
			s.record(origin, b)
			case2.Add(lo)
		default:
			monitoring.Infof(monitoring.TagDigDeep, "eps=%g: dropping unconfirmed bundle %s", origin, b.Key())
		}
	}

	h := e2 - origin
	maxEps := s.b.cfg.MaxEps
	if len(case1) > 0 {
		if n1, n2 := e2+h/4, e2+h/2; admissible(n1) && n2 <= maxEps {
			s.digdeep(n1, n2, e2, case1)
		}
	}
	if len(case2) > 0 {
		if n1, n2 := e1+h/4, e1+h/2; admissible(n1) && n2 <= maxEps {
			s.digdeep(n1, n2, e1, case2)
		}
	}
}

// fold replays every recorded epsilon in increasing order into the diagram,
// keeping only generator merges whose two ends survived. A refined epsilon
// also keeps the generated bundles that continue a bundle of the previous
// recorded epsilon, so probes do not retire classes they were not about.
func (s *sweep) fold(f *folder) {
	eps := make([]float64, 0, len(s.recorded))
	for e := range s.recorded {
		eps = append(eps, e)
	}
	sort.Float64s(eps)

	var prev bundle.Set
	for _, e := range eps {
		r := s.recorded[e]
		if !s.coarse[e] && prev != nil {
			s.carryForward(e, prev, r.bundles)
		}
		prev = r.bundles
		f.process(e, r.bundles, r.merges.Prune(r.bundles))
	}
}

// carryForward adds to kept every bundle generated at eps that continues a
// bundle of prev. Each bundle of prev is continued at most once, and those
// already continued by a kept bundle are taken first.
func (s *sweep) carryForward(eps float64, prev, kept bundle.Set) {
	open := prev.Clone()
	for _, b := range kept.Sorted() {
		if old := s.match(open, b, eps, queryContains); old != nil {
			open.Remove(old)
		}
	}
	for _, g := range s.generated[eps].Bundles.Sorted() {
		if kept.Has(g) {
			continue
		}
		if old := s.match(open, g, eps, queryContains); old != nil {
			open.Remove(old)
			kept.Add(g)
		}
	}
}
