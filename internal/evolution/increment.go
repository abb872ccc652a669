package evolution

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidIncrement is returned for increments that would not advance
// epsilon.
var ErrInvalidIncrement = errors.New("invalid epsilon increment")

// maxSamples bounds the number of coarse epsilon samples in one sweep.
const maxSamples = 10000

// IncrementKind selects how epsilon advances between coarse samples.
type IncrementKind string

const (
	Additive       IncrementKind = "additive"
	Multiplicative IncrementKind = "multiplicative"
)

// Increment advances epsilon by a fixed step.
type Increment struct {
	Kind IncrementKind `json:"kind"`
	Step float64       `json:"step"`
}

// Next returns the epsilon following e: e+step for additive increments and
// max(1, e)*step for multiplicative ones.
func (inc Increment) Next(e float64) float64 {
	if inc.Kind == Multiplicative {
		return math.Max(1, e) * inc.Step
	}
	return e + inc.Step
}

// Validate rejects increments that do not strictly increase epsilon.
func (inc Increment) Validate() error {
	switch inc.Kind {
	case Additive:
		if !(inc.Step > 0) || math.IsInf(inc.Step, 0) {
			return fmt.Errorf("%w: additive step must be positive, got %g", ErrInvalidIncrement, inc.Step)
		}
	case Multiplicative:
		if !(inc.Step > 1) || math.IsInf(inc.Step, 0) {
			return fmt.Errorf("%w: multiplicative step must be greater than 1, got %g", ErrInvalidIncrement, inc.Step)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidIncrement, inc.Kind)
	}
	return nil
}

func (inc Increment) String() string {
	return fmt.Sprintf("%s:%g", inc.Kind, inc.Step)
}

// ParseIncrement parses "kind:step", for example "additive:0.5" or
// "multiplicative:2". The kind may be abbreviated to "add" or "mul".
func ParseIncrement(s string) (Increment, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Increment{}, fmt.Errorf("invalid increment %q: expected kind:step", s)
	}
	var kind IncrementKind
	switch strings.ToLower(strings.TrimSpace(parts[0])) {
	case "additive", "add":
		kind = Additive
	case "multiplicative", "mul":
		kind = Multiplicative
	default:
		return Increment{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidIncrement, parts[0])
	}
	step, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Increment{}, fmt.Errorf("invalid step value %q: %w", parts[1], err)
	}
	inc := Increment{Kind: kind, Step: step}
	if err := inc.Validate(); err != nil {
		return Increment{}, err
	}
	return inc, nil
}

// Schedule returns the coarse epsilon samples from start up to max. The last
// step is clamped so that max itself is sampled.
func Schedule(inc Increment, start, max float64) []float64 {
	var out []float64
	for e := start; e <= max && len(out) < maxSamples; e = advance(inc, e, max) {
		out = append(out, e)
	}
	return out
}

func advance(inc Increment, e, max float64) float64 {
	n := inc.Next(e)
	if e < max && n > max {
		return max
	}
	return n
}

// admissible reports whether e lies on the quarter grid that bounds the
// refinement search.
func admissible(e float64) bool {
	q := e * 4
	return !math.IsInf(q, 0) && q == math.Trunc(q)
}
