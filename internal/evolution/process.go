package evolution

import (
	"github.com/banshee-data/bundle.evolution/internal/bundle"
	"github.com/banshee-data/bundle.evolution/internal/monitoring"
)

// folder assigns classes to the bundles of successive epsilons and appends
// the resulting states to a diagram. Epsilons must be folded in increasing
// order.
type folder struct {
	d            *Diagram
	lambdaFactor float64
	encountered  bundle.Set
	nextClass    int
}

// newFolder resumes from whatever d already holds.
func newFolder(d *Diagram, lambdaFactor float64) *folder {
	f := &folder{
		d:            d,
		lambdaFactor: lambdaFactor,
		encountered:  make(bundle.Set),
		nextClass:    d.NextClass(),
	}
	for _, e := range d.epsilons {
		f.encountered.AddAll(d.states[e].Bundles())
	}
	return f
}

func (f *folder) newClass(st *State, b *bundle.Bundle) int {
	c := f.nextClass
	f.nextClass++
	st.Put(c, b)
	st.AddBirth(c)
	f.d.SetBirth(c, st.Epsilon)
	return c
}

// process folds the bundles found at eps into a new state.
func (f *folder) process(eps float64, bundles bundle.Set, merges bundle.Merges) *State {
	st := NewState(eps)
	prev, ok := f.d.Previous(eps)
	if !ok {
		for _, b := range bundles.Sorted() {
			c := f.newClass(st, b)
			monitoring.Infof(monitoring.TagFirstState, "eps=%g: class %d born with %d members", eps, c, b.Size())
		}
		f.encountered.AddAll(bundles)
		f.d.AddState(st)
		return st
	}

	lambda := eps * f.lambdaFactor
	prevClasses := prev.Classes()
	claimed := make(map[int]bool, len(prevClasses))

	for _, nb := range bundles.Sorted() {
		if c, ok := f.continuation(prev, prevClasses, claimed, nb, lambda); ok {
			claimed[c] = true
			st.Put(c, nb)
			continue
		}
		if f.encountered.Has(nb) {
			monitoring.Infof(monitoring.TagProcessBundles, "eps=%g: dropping reappearing bundle %s", eps, nb.Key())
			continue
		}
		c := f.newClass(st, nb)
		monitoring.Infof(monitoring.TagProcessBundles, "eps=%g: class %d born with %d members", eps, c, nb.Size())
	}

	for _, c := range prevClasses {
		if claimed[c] {
			continue
		}
		old, _ := prev.Bundle(c)
		f.resolveMerge(st, c, old, merges, lambda)
	}

	f.encountered.AddAll(bundles)
	f.d.AddState(st)
	return st
}

// continuation finds an unclaimed previous class of equal size whose bundle
// nb contains, trying exact containment over every candidate before lambda
// containment. The first match in class order wins.
func (f *folder) continuation(prev *State, classes []int, claimed map[int]bool, nb *bundle.Bundle, lambda float64) (int, bool) {
	tests := []func(old *bundle.Bundle) bool{
		func(old *bundle.Bundle) bool { return nb.HasAsSubBundle(old) },
		func(old *bundle.Bundle) bool { return nb.HasAsLambdaSubBundle(old, lambda) },
	}
	for _, test := range tests {
		for _, c := range classes {
			if claimed[c] {
				continue
			}
			old, _ := prev.Bundle(c)
			if old.Size() == nb.Size() && test(old) {
				return c, true
			}
		}
	}
	return 0, false
}

// resolveMerge records where retiring class c went. A present bundle that
// lambda contains the retiring one wins; otherwise the generator's merge
// chain is followed from any record whose source covers it.
func (f *folder) resolveMerge(st *State, c int, old *bundle.Bundle, merges bundle.Merges, lambda float64) {
	for _, oc := range st.Classes() {
		nb, _ := st.Bundle(oc)
		if nb.HasAsLambdaSubBundle(old, lambda) {
			f.recordMerge(st, c, oc)
			return
		}
	}

	for _, m := range merges.Sorted() {
		if !m.From.HasAsLambdaSubBundle(old, lambda) {
			continue
		}
		to := m.To
		seen := map[string]bool{m.From.Key(): true}
		for !st.Has(to) && !seen[to.Key()] {
			seen[to.Key()] = true
			next, ok := merges.Next(to)
			if !ok {
				break
			}
			to = next
		}
		if oc, ok := st.Class(to); ok && oc != c {
			f.recordMerge(st, c, oc)
			return
		}
	}

	monitoring.Warnf(monitoring.TagProcessBundles, "eps=%g: No merge found for class %d", st.Epsilon, c)
}

func (f *folder) recordMerge(st *State, from, to int) {
	st.AddMerge(from, to)
	f.d.SetMerge(from, st.Epsilon, to)
	monitoring.Infof(monitoring.TagProcessBundles, "eps=%g: class %d merged into %d", st.Epsilon, from, to)
}
