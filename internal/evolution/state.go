package evolution

import (
	"sort"

	"github.com/banshee-data/bundle.evolution/internal/bundle"
)

// State is the diagram at one epsilon: a one to one mapping between bundles
// and class ids, the classes born here, and the classes that merged here.
type State struct {
	Epsilon float64

	bundles map[int]*bundle.Bundle
	classes map[string]int
	births  map[int]struct{}
	merges  map[int]int
}

// NewState returns an empty state at epsilon.
func NewState(epsilon float64) *State {
	return &State{
		Epsilon: epsilon,
		bundles: make(map[int]*bundle.Bundle),
		classes: make(map[string]int),
		births:  make(map[int]struct{}),
		merges:  make(map[int]int),
	}
}

// Put assigns b to class. Any earlier assignment of class or of b is replaced.
func (s *State) Put(class int, b *bundle.Bundle) {
	if old, ok := s.bundles[class]; ok {
		delete(s.classes, old.Key())
	}
	if oldClass, ok := s.classes[b.Key()]; ok {
		delete(s.bundles, oldClass)
	}
	s.bundles[class] = b
	s.classes[b.Key()] = class
}

// Bundle returns the bundle of class.
func (s *State) Bundle(class int) (*bundle.Bundle, bool) {
	b, ok := s.bundles[class]
	return b, ok
}

// Class returns the class of a bundle equal to b.
func (s *State) Class(b *bundle.Bundle) (int, bool) {
	c, ok := s.classes[b.Key()]
	return c, ok
}

// Has reports whether a bundle equal to b is present.
func (s *State) Has(b *bundle.Bundle) bool {
	_, ok := s.classes[b.Key()]
	return ok
}

// Len returns the number of bundles.
func (s *State) Len() int { return len(s.bundles) }

// Classes returns the class ids in ascending order.
func (s *State) Classes() []int {
	out := make([]int, 0, len(s.bundles))
	for c := range s.bundles {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// Bundles returns the bundles as a set.
func (s *State) Bundles() bundle.Set {
	out := make(bundle.Set, len(s.bundles))
	for _, b := range s.bundles {
		out.Add(b)
	}
	return out
}

// AddBirth marks class as born at this epsilon.
func (s *State) AddBirth(class int) { s.births[class] = struct{}{} }

// Births returns the classes born here in ascending order.
func (s *State) Births() []int {
	out := make([]int, 0, len(s.births))
	for c := range s.births {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// AddMerge records that class from merged into class to here.
func (s *State) AddMerge(from, to int) { s.merges[from] = to }

// Merges returns a copy of the retired class to absorbing class mapping.
func (s *State) Merges() map[int]int {
	out := make(map[int]int, len(s.merges))
	for k, v := range s.merges {
		out[k] = v
	}
	return out
}
