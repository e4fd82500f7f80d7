package aggregate

import (
	"fmt"
	"sort"
)

// ChildSet is the "already counted" ledger of a record: the finer records
// whose values are included in its Value. Set semantics, O(1) membership.
type ChildSet map[Ref]struct{}

func NewChildSet(refs ...Ref) ChildSet {
	s := make(ChildSet, len(refs))
	for _, r := range refs {
		s[r] = struct{}{}
	}
	return s
}

func (s ChildSet) Has(r Ref) bool {
	_, ok := s[r]
	return ok
}

func (s ChildSet) Len() int { return len(s) }

// Add inserts refs and returns the ones that were not present yet.
// Adding to a nil set panics; use NewChildSet.
func (s ChildSet) Add(refs ...Ref) []Ref {
	var added []Ref
	for _, r := range refs {
		if s.Has(r) {
			continue
		}
		s[r] = struct{}{}
		added = append(added, r)
	}
	return added
}

func (s ChildSet) Clone() ChildSet {
	c := make(ChildSet, len(s))
	for r := range s {
		c[r] = struct{}{}
	}
	return c
}

// Refs returns the members sorted by their path form.
func (s ChildSet) Refs() []Ref {
	out := make([]Ref, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Strings returns the sorted path forms, for persistence.
func (s ChildSet) Strings() []string {
	refs := s.Refs()
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}

// ParseChildSet builds a set from persisted path strings.
func ParseChildSet(paths []string) (ChildSet, error) {
	s := make(ChildSet, len(paths))
	for _, p := range paths {
		r, err := ParseRef(p)
		if err != nil {
			return nil, fmt.Errorf("children: %w", err)
		}
		s[r] = struct{}{}
	}
	return s, nil
}

// RefStrings converts refs to path form.
func RefStrings(refs []Ref) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.String()
	}
	return out
}
