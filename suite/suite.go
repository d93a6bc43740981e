// Package suite loads test catalogs and turns them into validated test cases.
package suite

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lattice-substrate/t9-conformance/fixture"
	"github.com/lattice-substrate/t9-conformance/t9err"
)

// SchemaVersion is the only catalog version this package understands.
const SchemaVersion = "1"

//go:embed default.yaml
var defaultSuite []byte

// Format is a catalog encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Suite is a decoded catalog document.
type Suite struct {
	Version string `yaml:"version" json:"version"`
	Name    string `yaml:"name" json:"name"`
	// Program and BonusMerge are defaults the command line may override.
	Program    string `yaml:"program,omitempty" json:"program,omitempty"`
	BonusMerge *bool  `yaml:"bonus_merge,omitempty" json:"bonus_merge,omitempty"`
	// Env is added to the subject's inherited environment.
	Env    map[string]string            `yaml:"env,omitempty" json:"env,omitempty"`
	Inputs map[string][]fixture.Contact `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Cases  []CaseSpec                   `yaml:"cases" json:"cases"`
}

// CaseSpec is one catalog entry. Contacts come either from a named input set
// or inline, never both.
type CaseSpec struct {
	Name          string            `yaml:"name" json:"name"`
	Args          []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Input         string            `yaml:"input,omitempty" json:"input,omitempty"`
	Contacts      []fixture.Contact `yaml:"contacts,omitempty" json:"contacts,omitempty"`
	Expected      []int             `yaml:"expected" json:"expected"`
	Bonus         []int             `yaml:"bonus,omitempty" json:"bonus,omitempty"`
	ExpectFailure bool              `yaml:"expect_failure,omitempty" json:"expect_failure,omitempty"`
	Extended      bool              `yaml:"extended,omitempty" json:"extended,omitempty"`
}

// Default returns the embedded catalog.
func Default() (*Suite, error) {
	s, err := Parse(defaultSuite, FormatYAML)
	if err != nil {
		return nil, fmt.Errorf("default suite: %w", err)
	}
	return s, nil
}

// Load reads, decodes and validates a catalog file. The format follows the
// file extension; anything other than .json is decoded as YAML.
//
//nolint:gosec // suite path is explicit operator input.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, t9err.Wrap(t9err.ConfigInvalid, -1, "read suite", err)
	}
	return Parse(data, FormatForPath(path))
}

// FormatForPath picks the catalog format from a file name.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Parse decodes and validates a catalog document. Unknown fields and
// trailing documents are rejected.
func Parse(data []byte, format Format) (*Suite, error) {
	var s Suite
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return nil, t9err.Wrap(t9err.ConfigInvalid, -1, "decode suite json", err)
		}
		var trailing any
		if err := dec.Decode(&trailing); err != io.EOF {
			return nil, t9err.Newf(t9err.ConfigInvalid, "decode suite json: unexpected trailing content")
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil {
			return nil, t9err.Wrap(t9err.ConfigInvalid, -1, "decode suite yaml", err)
		}
		var trailing any
		if err := dec.Decode(&trailing); err != io.EOF {
			return nil, t9err.Newf(t9err.ConfigInvalid, "decode suite yaml: unexpected trailing document")
		}
	default:
		return nil, t9err.Newf(t9err.ConfigInvalid, "unsupported suite format %q", format)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the catalog, its environment and every case it defines.
func (s *Suite) Validate() error {
	if _, err := s.TestCases(); err != nil {
		return err
	}
	return ValidateEnv(s.Env)
}

// ValidateEnv rejects variable names the OS environment cannot carry.
func ValidateEnv(env map[string]string) error {
	for k, v := range env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return t9err.Newf(t9err.ConfigInvalid, "invalid env name %q", k)
		}
		if strings.ContainsRune(v, 0) {
			return t9err.Newf(t9err.ConfigInvalid, "env %s: value contains NUL", k)
		}
	}
	return nil
}

// TestCases builds the validated test cases in catalog order.
func (s *Suite) TestCases() ([]fixture.TestCase, error) {
	if s == nil {
		return nil, t9err.Newf(t9err.ConfigInvalid, "suite is nil")
	}
	if s.Version != SchemaVersion {
		return nil, t9err.Newf(t9err.ConfigInvalid, "unsupported suite version %q", s.Version)
	}
	if strings.TrimSpace(s.Name) == "" {
		return nil, t9err.Newf(t9err.ConfigInvalid, "suite name is required")
	}
	if len(s.Cases) == 0 {
		return nil, t9err.Newf(t9err.ConfigInvalid, "suite %s must include at least one case", s.Name)
	}

	seen := make(map[string]struct{}, len(s.Cases))
	cases := make([]fixture.TestCase, 0, len(s.Cases))
	for i := range s.Cases {
		spec := &s.Cases[i]
		if _, ok := seen[spec.Name]; ok {
			return nil, t9err.Newf(t9err.ConfigInvalid, "duplicate case name: %s", spec.Name)
		}
		seen[spec.Name] = struct{}{}

		contacts, err := s.contactsFor(i, spec)
		if err != nil {
			return nil, err
		}
		tc := fixture.TestCase{
			Name:          spec.Name,
			Args:          append([]string(nil), spec.Args...),
			Contacts:      contacts,
			Expected:      fixture.NewPositions(spec.Expected...),
			ExpectFailure: spec.ExpectFailure,
			Extended:      spec.Extended,
		}
		if spec.Bonus != nil {
			tc.Bonus = fixture.NewPositions(spec.Bonus...)
		}
		if err := tc.Validate(); err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}
	return cases, nil
}

func (s *Suite) contactsFor(i int, spec *CaseSpec) ([]fixture.Contact, error) {
	switch {
	case spec.Input != "" && len(spec.Contacts) != 0:
		return nil, t9err.Newf(t9err.ConfigInvalid, "case[%d] %q: input and contacts are mutually exclusive", i, spec.Name)
	case spec.Input != "":
		contacts, ok := s.Inputs[spec.Input]
		if !ok {
			return nil, t9err.Newf(t9err.ConfigInvalid, "case[%d] %q: unknown input %q", i, spec.Name, spec.Input)
		}
		return append([]fixture.Contact(nil), contacts...), nil
	default:
		return append([]fixture.Contact(nil), spec.Contacts...), nil
	}
}
