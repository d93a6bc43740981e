// Package fixture models the contact data and test cases fed to the subject
// program.
package fixture

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lattice-substrate/t9-conformance/t9err"
)

// Contact is one name/phone-number pair. Its position within a test case's
// contact list defines the 1-based index used by expectation sets.
type Contact struct {
	Name   string `yaml:"name" json:"name"`
	Number string `yaml:"number" json:"number"`
}

// Positions is a set of 1-based contact positions.
type Positions map[int]struct{}

// NewPositions builds a set from the given positions. Duplicates collapse.
func NewPositions(ps ...int) Positions {
	s := make(Positions, len(ps))
	for _, p := range ps {
		s[p] = struct{}{}
	}
	return s
}

// Has reports whether p is in the set.
func (s Positions) Has(p int) bool {
	_, ok := s[p]
	return ok
}

// Len returns the number of distinct positions.
func (s Positions) Len() int {
	return len(s)
}

// Union returns a new set holding the positions of both s and other.
func (s Positions) Union(other Positions) Positions {
	out := make(Positions, len(s)+len(other))
	for p := range s {
		out[p] = struct{}{}
	}
	for p := range other {
		out[p] = struct{}{}
	}
	return out
}

// SubsetOf reports whether every position of s is in other.
func (s Positions) SubsetOf(other Positions) bool {
	for p := range s {
		if !other.Has(p) {
			return false
		}
	}
	return true
}

// Sorted returns the positions in ascending order.
func (s Positions) Sorted() []int {
	out := make([]int, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// TestCase is one invocation of the subject program together with the
// expected outcome. It is built once and never mutated.
type TestCase struct {
	Name     string
	Args     []string
	Contacts []Contact
	Expected Positions
	// Bonus holds positions that only count as matches when bonus merging
	// is enabled. Nil means the case defines no bonus set.
	Bonus         Positions
	ExpectFailure bool
	// Extended cases exercise the extended matching mode and only run when
	// bonus merging is enabled.
	Extended bool
}

// HasBonus reports whether the case defines a bonus set.
func (tc *TestCase) HasBonus() bool {
	return tc.Bonus != nil
}

// Validate checks the case against the contact-list bounds and the
// line-delimited ASCII stdin protocol.
func (tc *TestCase) Validate() error {
	if strings.TrimSpace(tc.Name) == "" {
		return t9err.Newf(t9err.ConfigInvalid, "test case name is required")
	}
	for i, c := range tc.Contacts {
		if err := validateField(c.Name); err != nil {
			return t9err.Wrap(t9err.ConfigInvalid, -1, fmt.Sprintf("case %q: contact %d name", tc.Name, i+1), err)
		}
		if err := validateField(c.Number); err != nil {
			return t9err.Wrap(t9err.ConfigInvalid, -1, fmt.Sprintf("case %q: contact %d number", tc.Name, i+1), err)
		}
	}
	if err := checkBounds(tc.Expected, len(tc.Contacts)); err != nil {
		return t9err.Wrap(t9err.ConfigInvalid, -1, fmt.Sprintf("case %q: expected", tc.Name), err)
	}
	if err := checkBounds(tc.Bonus, len(tc.Contacts)); err != nil {
		return t9err.Wrap(t9err.ConfigInvalid, -1, fmt.Sprintf("case %q: bonus", tc.Name), err)
	}
	return nil
}

func checkBounds(s Positions, n int) error {
	for _, p := range s.Sorted() {
		if p < 1 || p > n {
			return fmt.Errorf("position %d outside 1..%d", p, n)
		}
	}
	return nil
}

func validateField(v string) error {
	for i := 0; i < len(v); i++ {
		b := v[i]
		switch {
		case b == '\n' || b == '\r':
			return fmt.Errorf("line break at byte %d", i)
		case b >= 0x80:
			return fmt.Errorf("non-ASCII byte 0x%02x at byte %d", b, i)
		}
	}
	return nil
}
