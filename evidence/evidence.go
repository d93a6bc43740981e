// Package evidence writes the machine-readable record of a harness run.
//
// Evidence files are RFC 8785 canonical JSON, so two runs that observed the
// same behavior differ only in their run id, timestamps and durations.
package evidence

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/google/uuid"

	"github.com/lattice-substrate/t9-conformance/harness"
)

const SchemaVersion = "t9-evidence.v1"

// Run is one harness execution.
type Run struct {
	SchemaVersion  string         `json:"schema_version"`
	RunID          string         `json:"run_id"`
	Suite          string         `json:"suite"`
	Program        string         `json:"program"`
	BonusMerge     bool           `json:"bonus_merge"`
	CompareMode    string         `json:"compare_mode"`
	StartedAtUTC   string         `json:"started_at_utc"`
	CompletedAtUTC string         `json:"completed_at_utc"`
	Total          int            `json:"total"`
	Passed         int            `json:"passed"`
	Aborted        bool           `json:"aborted"`
	AbortReason    string         `json:"abort_reason,omitempty"`
	Cases          []CaseEvidence `json:"cases"`
}

// CaseEvidence is the record of one evaluated case.
type CaseEvidence struct {
	Name           string   `json:"name"`
	Args           []string `json:"args"`
	Passed         bool     `json:"passed"`
	Failures       []string `json:"failures"`
	ExitCode       int      `json:"exit_code"`
	DurationMS     int64    `json:"duration_ms"`
	ExpectedSHA256 string   `json:"expected_sha256"`
	StdoutSHA256   string   `json:"stdout_sha256"`
	StderrSHA256   string   `json:"stderr_sha256"`
}

// Meta describes the run configuration recorded alongside the outcome.
type Meta struct {
	Suite       string
	Program     string
	BonusMerge  bool
	CompareMode string
	StartedAt   time.Time
	CompletedAt time.Time
}

// FromOutcome builds the evidence record for a finished or aborted run.
func FromOutcome(meta Meta, out harness.Outcome, runErr error) *Run {
	r := &Run{
		SchemaVersion:  SchemaVersion,
		RunID:          uuid.NewString(),
		Suite:          meta.Suite,
		Program:        meta.Program,
		BonusMerge:     meta.BonusMerge,
		CompareMode:    meta.CompareMode,
		StartedAtUTC:   meta.StartedAt.UTC().Format(time.RFC3339Nano),
		CompletedAtUTC: meta.CompletedAt.UTC().Format(time.RFC3339Nano),
		Total:          out.Stats.Total,
		Passed:         out.Stats.Passed,
		Cases:          make([]CaseEvidence, 0, len(out.Cases)),
	}
	if runErr != nil {
		r.Aborted = true
		r.AbortReason = runErr.Error()
	}
	for _, cr := range out.Cases {
		failures := make([]string, 0, len(cr.Failures))
		for _, class := range cr.Classes() {
			failures = append(failures, string(class))
		}
		args := cr.Args
		if args == nil {
			args = []string{}
		}
		r.Cases = append(r.Cases, CaseEvidence{
			Name:           cr.Name,
			Args:           args,
			Passed:         cr.Passed(),
			Failures:       failures,
			ExitCode:       cr.Result.ExitCode,
			DurationMS:     cr.Elapsed.Milliseconds(),
			ExpectedSHA256: digest(cr.Expected),
			StdoutSHA256:   digest(cr.Result.Stdout),
			StderrSHA256:   digest(cr.Result.Stderr),
		})
	}
	return r
}

// Marshal returns the canonical JSON encoding of r followed by a newline.
func Marshal(r *Run) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("evidence run is nil")
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence: %w", err)
	}
	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize evidence: %w", err)
	}
	return append(canonical, '\n'), nil
}

// Write validates r and writes it to path.
func Write(path string, r *Run) error {
	if err := Validate(r); err != nil {
		return err
	}
	data, err := Marshal(r)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write evidence file: %w", err)
	}
	return nil
}

// Load reads and validates an evidence file.
//
//nolint:gosec // evidence path is explicit operator input.
func Load(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read evidence: %w", err)
	}
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode evidence: %w", err)
	}
	if err := Validate(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Verify decodes an evidence document and checks that it is valid and
// byte-identical to its canonical encoding. Unknown members are rejected.
func Verify(data []byte) (*Run, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var r Run
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode evidence: %w", err)
	}
	if err := Validate(&r); err != nil {
		return nil, err
	}
	canonical, err := Marshal(&r)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(data, canonical) {
		return nil, fmt.Errorf("evidence is not in canonical form")
	}
	return &r, nil
}

// Validate checks the record's internal consistency.
func Validate(r *Run) error {
	if r == nil {
		return fmt.Errorf("evidence run is nil")
	}
	if r.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version %q", r.SchemaVersion)
	}
	if _, err := uuid.Parse(r.RunID); err != nil {
		return fmt.Errorf("invalid run_id %q: %w", r.RunID, err)
	}
	if r.Total < 0 || r.Passed < 0 || r.Passed > r.Total {
		return fmt.Errorf("inconsistent counters: passed=%d total=%d", r.Passed, r.Total)
	}

	passed := 0
	for i, c := range r.Cases {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("case[%d] has empty name", i)
		}
		if c.Passed != (len(c.Failures) == 0) {
			return fmt.Errorf("case %q: passed=%v disagrees with %d failures", c.Name, c.Passed, len(c.Failures))
		}
		if c.Passed {
			passed++
		}
	}
	if r.Aborted {
		// The case that hit the fatal error is counted but not recorded.
		if r.AbortReason == "" {
			return fmt.Errorf("aborted run is missing abort_reason")
		}
		if len(r.Cases) > r.Total || passed > r.Passed {
			return fmt.Errorf("aborted run records more cases than it counted")
		}
		return nil
	}
	if len(r.Cases) != r.Total {
		return fmt.Errorf("total=%d but %d cases recorded", r.Total, len(r.Cases))
	}
	if passed != r.Passed {
		return fmt.Errorf("passed=%d but %d cases passed", r.Passed, passed)
	}
	return nil
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
