// Package harness runs test cases against the subject program one after
// another, validates each outcome, and keeps the running pass counters.
//
// Every case goes through the same steps: synthesize stdin and the expected
// stdout, invoke the subject, validate, report. Validation never stops at the
// first violated expectation; all of them are collected into the case's
// diagnostic. Only fatal failure classes (see t9err.FailureClass.Fatal) end
// the run early.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lattice-substrate/t9-conformance/compare"
	"github.com/lattice-substrate/t9-conformance/fixture"
	"github.com/lattice-substrate/t9-conformance/invoke"
	"github.com/lattice-substrate/t9-conformance/synth"
	"github.com/lattice-substrate/t9-conformance/t9err"
)

// Config is fixed at suite construction time.
type Config struct {
	Program string
	Policy  synth.MergePolicy
	Mode    compare.Mode
}

// Stats holds the run counters. Passed never exceeds Total.
type Stats struct {
	Total  int
	Passed int
}

// Failed returns the number of failed cases.
func (s Stats) Failed() int {
	return s.Total - s.Passed
}

// PassRate returns the pass percentage. An empty run has a rate of 0.
func (s Stats) PassRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Total) * 100
}

// CaseResult is the evaluated outcome of one test case.
type CaseResult struct {
	Name     string
	Args     []string
	Expected string
	Result   invoke.Result
	Failures []*t9err.Error
	Elapsed  time.Duration
}

// Passed reports whether every expectation held.
func (cr CaseResult) Passed() bool {
	return len(cr.Failures) == 0
}

// Classes returns the failure classes in the order they were recorded.
func (cr CaseResult) Classes() []t9err.FailureClass {
	out := make([]t9err.FailureClass, 0, len(cr.Failures))
	for _, f := range cr.Failures {
		out = append(out, f.Class)
	}
	return out
}

// Outcome is everything a run produced.
type Outcome struct {
	Stats Stats
	Cases []CaseResult
}

// Runner executes test cases sequentially.
type Runner struct {
	cfg      Config
	invoker  invoke.Invoker
	reporter Reporter
	logger   *slog.Logger
	stats    Stats
}

// NewRunner creates a runner. A nil logger falls back to slog.Default().
func NewRunner(cfg Config, inv invoke.Invoker, rep Reporter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, invoker: inv, reporter: rep, logger: logger}
}

// Stats returns the counters accumulated so far.
func (r *Runner) Stats() Stats {
	return r.stats
}

// Run executes cases in order and prints the summary. Extended cases are
// skipped unless bonus merging is enabled. On a fatal failure the run stops,
// no summary is printed, and the partial outcome is returned with the error.
func (r *Runner) Run(ctx context.Context, cases []fixture.TestCase) (Outcome, error) {
	var out Outcome
	for i := range cases {
		tc := &cases[i]
		if tc.Extended && !r.cfg.Policy.BonusMergeEnabled {
			r.logger.Debug("skipping extended case", "case", tc.Name)
			continue
		}
		cr, err := r.RunCase(ctx, tc)
		if err != nil {
			out.Stats = r.stats
			return out, err
		}
		out.Cases = append(out.Cases, cr)
	}
	out.Stats = r.stats
	if err := r.reporter.Summary(r.stats); err != nil {
		return out, t9err.Wrap(t9err.InternalIO, -1, "write summary", err)
	}
	return out, nil
}

// RunCase evaluates a single case and reports it. The returned error is
// non-nil only for failures that must abort the run.
func (r *Runner) RunCase(ctx context.Context, tc *fixture.TestCase) (CaseResult, error) {
	r.stats.Total++

	stdin := synth.Input(tc.Contacts)
	cr := CaseResult{
		Name:     tc.Name,
		Args:     tc.Args,
		Expected: r.cfg.Policy.Expected(tc),
	}

	started := time.Now()
	res, err := r.invoker.Invoke(ctx, r.cfg.Program, tc.Args, stdin)
	cr.Elapsed = time.Since(started)
	cr.Result = res
	if err != nil {
		if t9err.IsFatal(err) {
			r.logger.Error("aborting run", "case", tc.Name, "error", err)
			if repErr := r.reporter.Abort(tc.Name, err); repErr != nil {
				return cr, t9err.Wrap(t9err.InternalIO, -1, "write abort report", repErr)
			}
			return cr, fmt.Errorf("case %q: %w", tc.Name, err)
		}
		cr.Failures = append(cr.Failures, asHarnessError(err))
	} else {
		cr.Failures = Validate(tc, cr.Expected, res, r.cfg.Mode)
	}

	r.logger.Debug("case finished",
		"case", tc.Name,
		"passed", cr.Passed(),
		"exit_code", res.ExitCode,
		"elapsed", cr.Elapsed,
	)

	if cr.Passed() {
		r.stats.Passed++
		if err := r.reporter.Pass(cr); err != nil {
			return cr, t9err.Wrap(t9err.InternalIO, -1, "write report", err)
		}
		return cr, nil
	}
	if err := r.reporter.Fail(cr); err != nil {
		return cr, t9err.Wrap(t9err.InternalIO, -1, "write report", err)
	}
	return cr, nil
}

// Validate checks the exit status, the output and the error stream of an
// invocation. Every violated expectation is returned.
func Validate(tc *fixture.TestCase, expected string, res invoke.Result, mode compare.Mode) []*t9err.Error {
	var failures []*t9err.Error

	switch {
	case tc.ExpectFailure && res.ExitCode == 0:
		failures = append(failures, t9err.Newf(t9err.ExitCodeMismatch,
			"program exited successfully although it should have failed"))
	case !tc.ExpectFailure && res.ExitCode != 0:
		failures = append(failures, t9err.Newf(t9err.ExitCodeMismatch,
			"program exited with code %d although it should have succeeded", res.ExitCode))
	}

	if d := compare.Compare(res.Stdout, expected, mode); !d.OK() {
		msg := "program output does not match the expected output"
		if len(d.Unexpected) > 0 {
			msg += fmt.Sprintf("; unexpected lines %q", d.Unexpected)
		}
		if len(d.Missing) > 0 {
			msg += fmt.Sprintf("; missing lines %q", d.Missing)
		}
		failures = append(failures, t9err.Newf(t9err.OutputMismatch, "%s", msg))
	}

	if tc.ExpectFailure && len(res.Stderr) == 0 {
		failures = append(failures, t9err.Newf(t9err.MissingErrorDiagnostic,
			"program did not write an error message to stderr"))
	}
	return failures
}

func asHarnessError(err error) *t9err.Error {
	var e *t9err.Error
	if errors.As(err, &e) {
		return e
	}
	return t9err.Wrap(t9err.InternalIO, -1, "invoke", err)
}
