// Package synth builds the exact stdin payload fed to the subject program and
// the stdout payload it is expected to produce.
package synth

import (
	"strings"

	"github.com/lattice-substrate/t9-conformance/fixture"
)

const (
	// FoundMarker is the first stdout line when at least one contact matches.
	FoundMarker = "Kontakt(y) nalezen(y)"
	// NotFoundMarker is the only stdout line when nothing matches.
	NotFoundMarker = "Not found"
)

// MergePolicy selects how a case's bonus positions affect the effective
// match set. It is fixed when a suite is constructed.
type MergePolicy struct {
	BonusMergeEnabled bool
}

// Effective returns the positions considered found for tc under p. The
// result is always a superset of tc.Expected.
func (p MergePolicy) Effective(tc *fixture.TestCase) fixture.Positions {
	if p.BonusMergeEnabled && tc.HasBonus() {
		return tc.Expected.Union(tc.Bonus)
	}
	return tc.Expected.Union(nil)
}

// Expected returns the stdout payload the subject must produce for tc.
func (p MergePolicy) Expected(tc *fixture.TestCase) string {
	return Output(tc.Contacts, p.Effective(tc))
}

// Input renders contacts as alternating name and number lines.
func Input(contacts []fixture.Contact) string {
	var b strings.Builder
	for _, c := range contacts {
		b.WriteString(c.Name)
		b.WriteByte('\n')
		b.WriteString(c.Number)
		b.WriteByte('\n')
	}
	return b.String()
}

// Output renders the marker line followed by one lowercased
// "name, number" line per contact whose position is in effective, in
// contact order.
func Output(contacts []fixture.Contact, effective fixture.Positions) string {
	var b strings.Builder
	if effective.Len() > 0 {
		b.WriteString(FoundMarker)
	} else {
		b.WriteString(NotFoundMarker)
	}
	b.WriteByte('\n')
	for i, c := range contacts {
		if !effective.Has(i + 1) {
			continue
		}
		b.WriteString(strings.ToLower(c.Name))
		b.WriteString(", ")
		b.WriteString(strings.ToLower(c.Number))
		b.WriteByte('\n')
	}
	return b.String()
}
