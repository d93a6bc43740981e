// Package compare decides whether subject output is semantically equal to the
// expected output.
//
// Both sides are normalized the same way: trailing whitespace and blank lines
// are trimmed from the whole text, the text is split on line feeds, and every
// line has its trailing whitespace trimmed and is lowercased. The expected
// side is then treated as a set and the actual side as a sequence.
package compare

import (
	"fmt"
	"strings"
	"unicode"
)

// Mode selects how strictly actual lines must cover the expected set.
type Mode int

const (
	// Subset succeeds when every actual line is in the expected set.
	// Expected lines the subject omits are not detected.
	Subset Mode = iota
	// Strict additionally requires every expected line to appear in the
	// actual output.
	Strict
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Subset:
		return "subset"
	case Strict:
		return "strict"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a mode name to its Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "subset":
		return Subset, nil
	case "strict":
		return Strict, nil
	default:
		return Subset, fmt.Errorf("unknown comparison mode %q", s)
	}
}

// Diff lists the normalized lines that made a comparison fail.
type Diff struct {
	// Unexpected holds actual lines absent from the expected set, in the
	// order the subject emitted them.
	Unexpected []string
	// Missing holds expected lines absent from the actual output. Only
	// populated in Strict mode.
	Missing []string
}

// OK reports whether the comparison succeeded.
func (d Diff) OK() bool {
	return len(d.Unexpected) == 0 && len(d.Missing) == 0
}

// Equal reports whether actual matches expected in Subset mode.
func Equal(actual, expected string) bool {
	return Compare(actual, expected, Subset).OK()
}

// Compare normalizes both sides and reports the lines violating mode.
func Compare(actual, expected string, mode Mode) Diff {
	expLines := Normalize(expected)
	want := make(map[string]struct{}, len(expLines))
	for _, l := range expLines {
		want[l] = struct{}{}
	}

	var d Diff
	actLines := Normalize(actual)
	got := make(map[string]struct{}, len(actLines))
	for _, l := range actLines {
		got[l] = struct{}{}
		if _, ok := want[l]; !ok {
			d.Unexpected = append(d.Unexpected, l)
		}
	}

	if mode == Strict {
		seen := make(map[string]struct{}, len(expLines))
		for _, l := range expLines {
			if _, dup := seen[l]; dup {
				continue
			}
			seen[l] = struct{}{}
			if _, ok := got[l]; !ok {
				d.Missing = append(d.Missing, l)
			}
		}
	}
	return d
}

// Normalize returns the normalized lines of s. Empty input yields a single
// empty line, so an empty actual output never matches a marker line.
func Normalize(s string) []string {
	lines := strings.Split(strings.TrimRightFunc(s, unicode.IsSpace), "\n")
	for i, l := range lines {
		lines[i] = strings.ToLower(strings.TrimRightFunc(l, unicode.IsSpace))
	}
	return lines
}
