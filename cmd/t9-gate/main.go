// Command t9-gate runs the repository's required verification gates in order
// and finishes with a self-check of the harness against the reference
// subject.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/lattice-substrate/t9-conformance/evidence"
)

type gateStep struct {
	label string
	args  []string
}

type commandRunner interface {
	Run(ctx context.Context, name string, args []string, stdout io.Writer, stderr io.Writer) error
}

type realRunner struct{}

var requiredGateSteps = []gateStep{
	{label: "go vet", args: []string{"vet", "./..."}},
	{label: "unit tests", args: []string{"test", "./...", "-count=1", "-timeout=10m"}},
	{label: "race tests", args: []string{"test", "./...", "-race", "-count=1", "-timeout=15m"}},
	{label: "conformance", args: []string{"test", "./conformance", "-count=1", "-timeout=5m", "-v"}},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, realRunner{}))
}

func run(args []string, stdout, stderr io.Writer, runner commandRunner) int {
	if len(args) > 0 {
		switch args[0] {
		case "--help", "-h":
			if err := writeUsage(stdout); err != nil {
				return 1
			}
			return 0
		default:
			if err := writef(stderr, "error: unknown argument %q\n", args[0]); err != nil {
				return 1
			}
			if err := writeUsage(stderr); err != nil {
				return 1
			}
			return 2
		}
	}

	workDir, err := os.MkdirTemp("", "t9-gate-*")
	if err != nil {
		_ = writef(stderr, "gate failed: %v\n", err)
		return 1
	}
	defer os.RemoveAll(workDir)

	steps := append(append([]gateStep(nil), requiredGateSteps...), selfCheckSteps(workDir)...)
	ctx := context.Background()
	total := len(steps) + 1
	for i, step := range steps {
		if err := writef(stdout, "[%d/%d] %s\n", i+1, total, step.label); err != nil {
			return 1
		}
		if err := runner.Run(ctx, "go", step.args, stdout, stderr); err != nil {
			if writeErr := writef(stderr, "gate failed: %s: %v\n", step.label, err); writeErr != nil {
				return 1
			}
			return 1
		}
	}

	if err := writef(stdout, "[%d/%d] self-check evidence\n", total, total); err != nil {
		return 1
	}
	if err := verifyEvidence(filepath.Join(workDir, "evidence.json")); err != nil {
		if writeErr := writef(stderr, "gate failed: self-check evidence: %v\n", err); writeErr != nil {
			return 1
		}
		return 1
	}

	if err := writeLine(stdout, "all gates passed"); err != nil {
		return 1
	}
	return 0
}

// selfCheckSteps build the reference subject and run the default suite
// against it without bonus merging, recording evidence in dir.
func selfCheckSteps(dir string) []gateStep {
	ref := filepath.Join(dir, "t9search-ref")
	return []gateStep{
		{label: "build reference subject", args: []string{"build", "-o", ref, "./cmd/t9search-ref"}},
		{label: "self-check", args: []string{
			"run", "./cmd/t9-harness",
			"--program", ref,
			"--bonus=false",
			"--strict",
			"--no-color",
			"--report", filepath.Join(dir, "evidence.json"),
		}},
	}
}

// verifyEvidence requires a complete run with every case passed.
func verifyEvidence(path string) error {
	rec, err := evidence.Load(path)
	if err != nil {
		return err
	}
	if rec.Aborted {
		return fmt.Errorf("run aborted: %s", rec.AbortReason)
	}
	if rec.Total == 0 || rec.Passed != rec.Total {
		return fmt.Errorf("passed %d of %d cases", rec.Passed, rec.Total)
	}
	return nil
}

func (realRunner) Run(ctx context.Context, name string, args []string, stdout io.Writer, stderr io.Writer) error {
	// #nosec G204 -- command and args are fixed repository gate invocations.
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w", name, args, err)
	}
	return nil
}

func writeUsage(w io.Writer) error {
	if err := writeLine(w, "usage: go run ./cmd/t9-gate [--help]"); err != nil {
		return err
	}
	return writeLine(w, "runs: vet, tests, race, conformance, reference self-check")
}

func writeLine(w io.Writer, msg string) error {
	return writef(w, "%s\n", msg)
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	return nil
}
