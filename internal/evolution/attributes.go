package evolution

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Attribute describes a per-class value derived from a diagram.
type Attribute struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Value returns NaN when the attribute is undefined for the class.
	Value func(d *Diagram, class int) float64 `json:"-"`
}

// AttributeRegistry holds attributes by name.
type AttributeRegistry struct {
	mu    sync.RWMutex
	attrs map[string]*Attribute
}

// NewAttributeRegistry returns an empty registry.
func NewAttributeRegistry() *AttributeRegistry {
	return &AttributeRegistry{attrs: make(map[string]*Attribute)}
}

// Register adds a, replacing any attribute with the same name.
func (r *AttributeRegistry) Register(a *Attribute) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attrs[a.Name] = a
}

// Get returns the attribute called name.
func (r *AttributeRegistry) Get(name string) (*Attribute, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.attrs[name]
	return a, ok
}

// Names returns the registered names in alphabetical order.
func (r *AttributeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.attrs))
	for n := range r.attrs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Evaluate computes every registered attribute for class.
func (r *AttributeRegistry) Evaluate(d *Diagram, class int) map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.attrs))
	for n, a := range r.attrs {
		out[n] = a.Value(d, class)
	}
	return out
}

// DefaultAttributes returns a registry with the built in class attributes.
func DefaultAttributes() *AttributeRegistry {
	r := NewAttributeRegistry()
	r.Register(&Attribute{Name: "birth", Description: "epsilon at which the class was born", Value: birthAttr})
	r.Register(&Attribute{Name: "merge", Description: "epsilon at which the class merged, NaN while open", Value: mergeAttr})
	r.Register(&Attribute{Name: "life_span", Description: "end of life minus birth", Value: LifeSpan})
	r.Register(&Attribute{Name: "relative_life_span", Description: "life span divided by birth", Value: relativeLifeSpan})
	r.Register(&Attribute{Name: "best_eps", Description: "representative epsilon of the class", Value: bestEpsAttr})
	r.Register(&Attribute{Name: "size", Description: "members at the best epsilon", Value: sizeAttr})
	r.Register(&Attribute{Name: "mean_length", Description: "mean member arc length at the best epsilon", Value: meanLengthAttr})
	r.Register(&Attribute{Name: "max_length", Description: "longest member arc length at the best epsilon", Value: maxLengthAttr})
	return r
}

func birthAttr(d *Diagram, class int) float64 {
	if e, ok := d.BirthMoment(class); ok {
		return e
	}
	return math.NaN()
}

func mergeAttr(d *Diagram, class int) float64 {
	if e, ok := d.MergeMoment(class); ok {
		return e
	}
	return math.NaN()
}

// LifeSpan returns the epsilon range the class was alive for.
func LifeSpan(d *Diagram, class int) float64 {
	birth, ok := d.BirthMoment(class)
	if !ok {
		return math.NaN()
	}
	end, _ := d.EndMoment(class)
	return end - birth
}

func relativeLifeSpan(d *Diagram, class int) float64 {
	birth, ok := d.BirthMoment(class)
	if !ok || birth == 0 {
		return math.NaN()
	}
	return LifeSpan(d, class) / birth
}

func bestEpsAttr(d *Diagram, class int) float64 {
	if e, ok := d.BestEpsilon(class); ok {
		return e
	}
	return math.NaN()
}

func bestLengths(d *Diagram, class int) []float64 {
	e, ok := d.BestEpsilon(class)
	if !ok {
		return nil
	}
	b, ok := d.BundleUpToLevel(class, e)
	if !ok {
		return nil
	}
	return b.Lengths()
}

func sizeAttr(d *Diagram, class int) float64 {
	e, ok := d.BestEpsilon(class)
	if !ok {
		return math.NaN()
	}
	b, ok := d.BundleUpToLevel(class, e)
	if !ok {
		return math.NaN()
	}
	return float64(b.Size())
}

func meanLengthAttr(d *Diagram, class int) float64 {
	l := bestLengths(d, class)
	if len(l) == 0 {
		return math.NaN()
	}
	return stat.Mean(l, nil)
}

func maxLengthAttr(d *Diagram, class int) float64 {
	l := bestLengths(d, class)
	if len(l) == 0 {
		return math.NaN()
	}
	return floats.Max(l)
}
