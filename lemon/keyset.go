package lemon

import "sort"

// KeySet is a set of property names.
type KeySet map[string]struct{}

// NewKeySet builds a set from names.
func NewKeySet(names ...string) KeySet {
	s := make(KeySet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set.
func (s KeySet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Intersects reports whether the sets share a name.
func (s KeySet) Intersects(other KeySet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for n := range small {
		if large.Has(n) {
			return true
		}
	}
	return false
}

// Sorted returns the names in lexical order.
func (s KeySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
