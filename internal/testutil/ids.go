package testutil

import "fmt"

// SequenceGenerator returns prefix-1, prefix-2, ... so journal session
// ids are stable across runs and golden files stay byte-identical.
//
// Not safe for concurrent use.
type SequenceGenerator struct {
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. An empty prefix becomes "session".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "session"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceGenerator) Generate() string {
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
