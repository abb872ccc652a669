// Package bundle defines bundles of subtrajectories, the containment tests
// used to track them across epsilon, and the generator contract that
// produces them.
package bundle

import (
	"sort"
	"strings"

	"github.com/banshee-data/bundle.evolution/internal/trajectory"
)

// Bundle is an unordered set of subtrajectories. It is immutable once built.
type Bundle struct {
	members []trajectory.Subtrajectory
	key     string
}

// New builds a bundle from members. Duplicate members are collapsed.
func New(members ...trajectory.Subtrajectory) *Bundle {
	byKey := make(map[string]trajectory.Subtrajectory, len(members))
	for _, m := range members {
		byKey[m.Key()] = m
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := &Bundle{members: make([]trajectory.Subtrajectory, 0, len(keys))}
	for _, k := range keys {
		b.members = append(b.members, byKey[k])
	}
	b.key = "{" + strings.Join(keys, ";") + "}"
	return b
}

// Size returns the number of members.
func (b *Bundle) Size() int { return len(b.members) }

// Members returns the members ordered by key.
func (b *Bundle) Members() []trajectory.Subtrajectory {
	out := make([]trajectory.Subtrajectory, len(b.members))
	copy(out, b.members)
	return out
}

// Key identifies the bundle by value.
func (b *Bundle) Key() string { return b.key }

// Equal reports value equality.
func (b *Bundle) Equal(o *Bundle) bool {
	return b != nil && o != nil && b.key == o.key
}

// HasAsSubBundle reports whether each member of o is contained in its own
// member of b on the same trajectory. No member of b may stand in for two
// members of o.
func (b *Bundle) HasAsSubBundle(o *Bundle) bool {
	return b.matches(o, func(n, m trajectory.Subtrajectory) bool { return n.Contains(m) })
}

// HasAsLambdaSubBundle is HasAsSubBundle where each end of a member of o may
// extend past its containing member by up to lambda in arc length.
func (b *Bundle) HasAsLambdaSubBundle(o *Bundle, lambda float64) bool {
	return b.matches(o, func(n, m trajectory.Subtrajectory) bool { return n.ContainsWithin(m, lambda) })
}

// matches reports whether every member of o can be paired with a distinct
// member n of b such that contains(n, m) holds. Augmenting paths over the
// member graph; bundles are small.
func (b *Bundle) matches(o *Bundle, contains func(n, m trajectory.Subtrajectory) bool) bool {
	if len(o.members) > len(b.members) {
		return false
	}
	owner := make([]int, len(b.members))
	for i := range owner {
		owner[i] = -1
	}
	var augment func(mi int, seen []bool) bool
	augment = func(mi int, seen []bool) bool {
		for ni, n := range b.members {
			if seen[ni] || !contains(n, o.members[mi]) {
				continue
			}
			seen[ni] = true
			if owner[ni] < 0 || augment(owner[ni], seen) {
				owner[ni] = mi
				return true
			}
		}
		return false
	}
	for mi := range o.members {
		if !augment(mi, make([]bool, len(b.members))) {
			return false
		}
	}
	return true
}

// TrajectoryIDs returns the distinct parent IDs in key order.
func (b *Bundle) TrajectoryIDs() []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range b.members {
		if !seen[m.Parent.ID] {
			seen[m.Parent.ID] = true
			out = append(out, m.Parent.ID)
		}
	}
	return out
}

// Lengths returns the arc length of every member in key order.
func (b *Bundle) Lengths() []float64 {
	out := make([]float64, len(b.members))
	for i, m := range b.members {
		out[i] = m.Length()
	}
	return out
}

func (b *Bundle) String() string { return b.key }
