package bundle

import "sort"

// Set holds bundles by key.
type Set map[string]*Bundle

// NewSet returns a set holding bs.
func NewSet(bs ...*Bundle) Set {
	s := make(Set, len(bs))
	for _, b := range bs {
		s.Add(b)
	}
	return s
}

// Add inserts b.
func (s Set) Add(b *Bundle) { s[b.Key()] = b }

// AddAll inserts every bundle of o.
func (s Set) AddAll(o Set) {
	for k, b := range o {
		s[k] = b
	}
}

// Has reports whether a bundle equal to b is present.
func (s Set) Has(b *Bundle) bool {
	_, ok := s[b.Key()]
	return ok
}

// Remove deletes b.
func (s Set) Remove(b *Bundle) { delete(s, b.Key()) }

// Sorted returns the bundles ordered by key.
func (s Set) Sorted() []*Bundle {
	out := make([]*Bundle, 0, len(s))
	for _, b := range s {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Clone returns a shallow copy.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	c.AddAll(s)
	return c
}

// Merge records that From was absorbed by To.
type Merge struct {
	From, To *Bundle
}

// Merges maps the key of an absorbed bundle to its merge record.
type Merges map[string]Merge

// Add records that from was absorbed by to.
func (m Merges) Add(from, to *Bundle) { m[from.Key()] = Merge{From: from, To: to} }

// Next returns the bundle that absorbed b.
func (m Merges) Next(b *Bundle) (*Bundle, bool) {
	r, ok := m[b.Key()]
	if !ok {
		return nil, false
	}
	return r.To, true
}

// Sorted returns the records ordered by the absorbed bundle's key.
func (m Merges) Sorted() []Merge {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Merge, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// Prune returns the records whose two ends are both in s.
func (m Merges) Prune(s Set) Merges {
	out := make(Merges)
	for k, r := range m {
		if s.Has(r.From) && s.Has(r.To) {
			out[k] = r
		}
	}
	return out
}
