package evolution

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/bundle.evolution/internal/bundle"
)

// Diagram is the evolution diagram: states keyed by strictly increasing
// epsilon plus the birth and merge moment of every class.
type Diagram struct {
	epsilons   []float64
	states     map[float64]*State
	births     map[int]float64
	merges     map[int]float64
	mergedInto map[int]int
}

// NewDiagram returns an empty diagram.
func NewDiagram() *Diagram {
	return &Diagram{
		states:     make(map[float64]*State),
		births:     make(map[int]float64),
		merges:     make(map[int]float64),
		mergedInto: make(map[int]int),
	}
}

// AddState inserts s at s.Epsilon, replacing any state already there.
func (d *Diagram) AddState(s *State) {
	if _, ok := d.states[s.Epsilon]; !ok {
		i := sort.SearchFloat64s(d.epsilons, s.Epsilon)
		d.epsilons = append(d.epsilons, 0)
		copy(d.epsilons[i+1:], d.epsilons[i:])
		d.epsilons[i] = s.Epsilon
	}
	d.states[s.Epsilon] = s
}

// Epsilons returns the sampled epsilons in increasing order.
func (d *Diagram) Epsilons() []float64 {
	return append([]float64(nil), d.epsilons...)
}

// State returns the state at epsilon.
func (d *Diagram) State(eps float64) (*State, bool) {
	s, ok := d.states[eps]
	return s, ok
}

// IsEmpty reports whether no state was added.
func (d *Diagram) IsEmpty() bool { return len(d.epsilons) == 0 }

// Last returns the state with the largest epsilon.
func (d *Diagram) Last() (*State, bool) {
	if len(d.epsilons) == 0 {
		return nil, false
	}
	return d.states[d.epsilons[len(d.epsilons)-1]], true
}

// Previous returns the state with the largest epsilon below eps.
func (d *Diagram) Previous(eps float64) (*State, bool) {
	i := sort.SearchFloat64s(d.epsilons, eps)
	if i == 0 {
		return nil, false
	}
	return d.states[d.epsilons[i-1]], true
}

// SetBirth records the birth moment of class.
func (d *Diagram) SetBirth(class int, eps float64) { d.births[class] = eps }

// SetMerge records that class merged into other at eps.
func (d *Diagram) SetMerge(class int, eps float64, into int) {
	d.merges[class] = eps
	d.mergedInto[class] = into
}

// NumClasses returns the number of classes ever born.
func (d *Diagram) NumClasses() int { return len(d.births) }

// NextClass returns the id the next born class receives.
func (d *Diagram) NextClass() int {
	next := 0
	for c := range d.births {
		if c >= next {
			next = c + 1
		}
	}
	return next
}

// Classes returns every class id in ascending order.
func (d *Diagram) Classes() []int {
	out := make([]int, 0, len(d.births))
	for c := range d.births {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// BirthMoment returns the epsilon at which class was born.
func (d *Diagram) BirthMoment(class int) (float64, bool) {
	e, ok := d.births[class]
	return e, ok
}

// MergeMoment returns the epsilon at which class merged.
func (d *Diagram) MergeMoment(class int) (float64, bool) {
	e, ok := d.merges[class]
	return e, ok
}

// MergedInto returns the class that absorbed class.
func (d *Diagram) MergedInto(class int) (int, bool) {
	c, ok := d.mergedInto[class]
	return c, ok
}

// LastPresence returns the largest epsilon whose state holds class.
func (d *Diagram) LastPresence(class int) (float64, bool) {
	for i := len(d.epsilons) - 1; i >= 0; i-- {
		if _, ok := d.states[d.epsilons[i]].bundles[class]; ok {
			return d.epsilons[i], true
		}
	}
	return 0, false
}

// EndMoment returns the merge moment of class, or the last sampled epsilon
// when the class never merged.
func (d *Diagram) EndMoment(class int) (float64, bool) {
	if _, ok := d.births[class]; !ok {
		return 0, false
	}
	if e, ok := d.merges[class]; ok {
		return e, true
	}
	return d.epsilons[len(d.epsilons)-1], true
}

// BundleUpToLevel returns the bundle class had at the largest sampled
// epsilon not above eps. Class ids persist across continuations, so this is
// the latest state at or below eps that still holds the class.
func (d *Diagram) BundleUpToLevel(class int, eps float64) (*bundle.Bundle, bool) {
	var found *bundle.Bundle
	for _, e := range d.epsilons {
		if e > eps {
			break
		}
		if b, ok := d.states[e].bundles[class]; ok {
			found = b
		}
	}
	return found, found != nil
}

// BestEpsilon returns the sampled epsilon holding class closest to the
// geometric mean of its birth and end moments.
func (d *Diagram) BestEpsilon(class int) (float64, bool) {
	birth, ok := d.births[class]
	if !ok {
		return 0, false
	}
	end, _ := d.EndMoment(class)
	target := birth
	if birth > 0 && end > 0 {
		target = stat.GeometricMean([]float64{birth, end}, nil)
	}

	best, bestDist := 0.0, math.Inf(1)
	for _, e := range d.epsilons {
		if _, present := d.states[e].bundles[class]; !present {
			continue
		}
		if dist := math.Abs(e - target); dist < bestDist {
			best, bestDist = e, dist
		}
	}
	if math.IsInf(bestDist, 1) {
		return birth, true
	}
	return best, true
}
