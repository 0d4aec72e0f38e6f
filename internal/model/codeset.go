package model

// CodeSet is an unordered set of code values.
type CodeSet map[string]struct{}

// NewCodeSet builds a set from the given values.
func NewCodeSet(values ...string) CodeSet {
	s := make(CodeSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Has reports whether v is in the set. A nil set contains nothing.
func (s CodeSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Add inserts v into the set.
func (s CodeSet) Add(v string) {
	s[v] = struct{}{}
}

// Len returns the number of values in the set.
func (s CodeSet) Len() int {
	return len(s)
}
