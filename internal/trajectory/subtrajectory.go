package trajectory

import "fmt"

// Subtrajectory is the part of Parent between the fractional point indices
// Start and End, Start <= End.
type Subtrajectory struct {
	Parent     *Trajectory
	Start, End float64
}

// Whole returns the subtrajectory covering all of t.
func Whole(t *Trajectory) Subtrajectory {
	end := 0.0
	if t.NumPoints() > 0 {
		end = float64(t.NumPoints() - 1)
	}
	return Subtrajectory{Parent: t, Start: 0, End: end}
}

// Key identifies the subtrajectory by parent ID and range.
func (s Subtrajectory) Key() string {
	return fmt.Sprintf("%s[%g,%g]", s.Parent.ID, s.Start, s.End)
}

// Length returns the arc length covered.
func (s Subtrajectory) Length() float64 {
	return s.Parent.ArcLength(s.End) - s.Parent.ArcLength(s.Start)
}

// SameParent reports whether both lie on the same trajectory.
func (s Subtrajectory) SameParent(o Subtrajectory) bool {
	return s.Parent != nil && o.Parent != nil && s.Parent.ID == o.Parent.ID
}

// Contains reports whether o lies within s index-range-wise.
func (s Subtrajectory) Contains(o Subtrajectory) bool {
	return s.SameParent(o) && s.Start <= o.Start && o.End <= s.End
}

// ContainsWithin reports whether o lies within s when each end of o may
// stick out of s by at most lambda in arc length.
func (s Subtrajectory) ContainsWithin(o Subtrajectory, lambda float64) bool {
	if !s.SameParent(o) {
		return false
	}
	if lambda < 0 {
		lambda = 0
	}
	p := s.Parent
	if o.Start < s.Start && p.ArcLength(s.Start)-p.ArcLength(o.Start) > lambda {
		return false
	}
	if o.End > s.End && p.ArcLength(o.End)-p.ArcLength(s.End) > lambda {
		return false
	}
	return true
}

func (s Subtrajectory) String() string { return s.Key() }
