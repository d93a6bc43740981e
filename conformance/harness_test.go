package conformance_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lattice-substrate/t9-conformance/evidence"
)

type harness struct {
	root      string
	bin       string
	reference string
}

type cliResult struct {
	exitCode int
	stdout   string
	stderr   string
}

var (
	buildOnce sync.Once
	binDir    string
	buildErr  error
)

func TestHarnessBehavior(t *testing.T) {
	h := testHarness(t)
	checks := behaviorChecks()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := checks[name]
		t.Run(name, func(t *testing.T) {
			check(t, h)
		})
	}
}

func behaviorChecks() map[string]func(*testing.T, *harness) {
	return map[string]func(*testing.T, *harness){
		"reference-passes-without-bonus":  checkReferencePassesWithoutBonus,
		"reference-passes-strict":         checkReferencePassesStrict,
		"contiguous-misses-bonus-cases":   checkContiguousMissesBonusCases,
		"noncontiguous-over-matches":      checkNoncontiguousOverMatches,
		"missing-program-aborts":          checkMissingProgramAborts,
		"non-ascii-output-fails-case":     checkNonASCIIOutputFailsCase,
		"expect-failure-needs-diagnostic": checkExpectFailureNeedsDiagnostic,
		"usage-errors-exit-2":             checkUsageErrors,
		"evidence-is-deterministic":       checkEvidenceDeterministic,
		"program-from-environment":        checkProgramFromEnvironment,
		"no-color-output-is-plain":        checkNoColorOutputIsPlain,
		"timeout-is-per-case":             checkTimeoutIsPerCase,
		"suite-env-reaches-subject":       checkSuiteEnvReachesSubject,
	}
}

func testHarness(t *testing.T) *harness {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("conformance checks use POSIX shell subjects")
	}
	root := repoRoot(t)
	buildOnce.Do(func() {
		binDir, buildErr = buildBinaries(root)
	})
	if buildErr != nil {
		t.Fatalf("build conformance binaries: %v", buildErr)
	}
	return &harness{
		root:      root,
		bin:       filepath.Join(binDir, "t9-harness"),
		reference: filepath.Join(binDir, "t9search-ref"),
	}
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("resolve current file path")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(thisFile), ".."))
}

func buildBinaries(root string) (string, error) {
	dir, err := os.MkdirTemp("", "t9-conformance-*")
	if err != nil {
		return "", err
	}
	for _, name := range []string{"t9-harness", "t9search-ref"} {
		if err := goBuild(root, filepath.Join(dir, name), "./cmd/"+name); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func goBuild(root, out, pkg string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "build", "-trimpath", "-buildvcs=false", "-o", out, pkg)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build %s: %v: %s", pkg, err, strings.TrimSpace(buf.String()))
	}
	return nil
}

// runCLI runs the harness binary with color disabled. env entries are
// appended to the inherited environment and reach the subject too.
func runCLI(t *testing.T, h *harness, args []string, env ...string) cliResult {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	cmd := exec.CommandContext(ctx, h.bin, append([]string{"--no-color"}, args...)...)
	cmd.Env = append(os.Environ(), "T9_HARNESS_PROGRAM=")
	cmd.Env = append(cmd.Env, env...)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			t.Fatalf("run cli %v: %v", args, err)
		}
	}
	return cliResult{exitCode: code, stdout: outBuf.String(), stderr: errBuf.String()}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "t9search")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func expectSummary(t *testing.T, res cliResult, code int, summary string) {
	t.Helper()
	if res.exitCode != code {
		t.Fatalf("expected exit %d, got %d\nstdout:\n%s\nstderr:\n%s", code, res.exitCode, res.stdout, res.stderr)
	}
	if !strings.Contains(res.stdout, summary) {
		t.Fatalf("missing %q in stdout:\n%s", summary, res.stdout)
	}
}

func checkReferencePassesWithoutBonus(t *testing.T, h *harness) {
	res := runCLI(t, h, []string{"--program", h.reference, "--bonus=false"})
	expectSummary(t, res, 0, "Pass rate: 100.00 % [5 / 5]")
	if strings.Contains(res.stdout, "[ FAIL ]") {
		t.Fatalf("unexpected failure:\n%s", res.stdout)
	}
}

func checkReferencePassesStrict(t *testing.T, h *harness) {
	res := runCLI(t, h, []string{"--program", h.reference, "--bonus=false", "--strict"})
	expectSummary(t, res, 0, "Pass rate: 100.00 % [5 / 5]")
}

func checkContiguousMissesBonusCases(t *testing.T, h *harness) {
	res := runCLI(t, h, []string{"--program", h.reference})
	expectSummary(t, res, 1, "Pass rate: 66.67 % [6 / 9]")
	for _, name := range []string{"Assignment example #5", "Non-contiguous search #1", "Non-contiguous search #2"} {
		if !strings.Contains(res.stdout, "[ FAIL ] "+name) {
			t.Fatalf("expected %q to fail:\n%s", name, res.stdout)
		}
	}
}

func checkNoncontiguousOverMatches(t *testing.T, h *harness) {
	res := runCLI(t, h, []string{"--program", h.reference}, "T9SEARCH_MATCH=noncontiguous")
	expectSummary(t, res, 1, "Pass rate: 88.89 % [8 / 9]")
	if !strings.Contains(res.stdout, "[ FAIL ] Assignment example #3") {
		t.Fatalf("expected the 686 query to over-match:\n%s", res.stdout)
	}
	if !strings.Contains(res.stdout, "bedrich smetana ml., 541141120") {
		t.Fatalf("expected the unexpected line in the diagnostic:\n%s", res.stdout)
	}
}

func checkMissingProgramAborts(t *testing.T, h *harness) {
	res := runCLI(t, h, []string{"--program", filepath.Join(t.TempDir(), "absent")})
	if res.exitCode != 10 {
		t.Fatalf("expected exit 10, got %d: %s", res.exitCode, res.stderr)
	}
	if strings.Contains(res.stdout, "Pass rate") {
		t.Fatalf("aborted run must not print a summary:\n%s", res.stdout)
	}
	if !strings.Contains(res.stderr, "LAUNCH_FAILURE") {
		t.Fatalf("expected LAUNCH_FAILURE on stderr: %s", res.stderr)
	}
}

func checkNonASCIIOutputFailsCase(t *testing.T, h *harness) {
	script := writeScript(t, "cat >/dev/null\nprintf 'Kontakt(y) nalezen(y)\\n\\303\\251\\n'\n")
	res := runCLI(t, h, []string{"--program", script, "--bonus=false"})
	expectSummary(t, res, 1, "Pass rate: 0.00 % [0 / 5]")
	if got := strings.Count(res.stdout, "ENCODING_VIOLATION"); got != 5 {
		t.Fatalf("expected 5 encoding violations, got %d:\n%s", got, res.stdout)
	}
	if !strings.Contains(res.stdout, "(byte 22)") {
		t.Fatalf("expected the offending byte offset:\n%s", res.stdout)
	}
}

func checkExpectFailureNeedsDiagnostic(t *testing.T, h *harness) {
	suitePath := writeFile(t, "suite.yaml", `version: "1"
name: failures
cases:
  - name: letters are rejected
    args: ["12a"]
    contacts:
      - name: Petr Dvorak
        number: "603123456"
    expected: []
    expect_failure: true
`)
	res := runCLI(t, h, []string{"--program", h.reference, "--suite", suitePath})
	expectSummary(t, res, 0, "Pass rate: 100.00 % [1 / 1]")

	silent := writeScript(t, "cat >/dev/null\necho 'Not found'\nexit 1\n")
	res = runCLI(t, h, []string{"--program", silent, "--suite", suitePath})
	expectSummary(t, res, 1, "Pass rate: 0.00 % [0 / 1]")
	if !strings.Contains(res.stdout, "MISSING_ERROR_DIAGNOSTIC") {
		t.Fatalf("expected MISSING_ERROR_DIAGNOSTIC:\n%s", res.stdout)
	}
}

func checkSuiteEnvReachesSubject(t *testing.T, h *harness) {
	suitePath := writeFile(t, "suite.yaml", `version: "1"
name: noncontiguous
env:
  T9SEARCH_MATCH: noncontiguous
cases:
  - name: spread over words
    args: ["222"]
    contacts:
      - name: A B C
        number: "111"
    expected: [1]
`)
	res := runCLI(t, h, []string{"--program", h.reference, "--suite", suitePath, "--strict"})
	expectSummary(t, res, 0, "Pass rate: 100.00 % [1 / 1]")

	res = runCLI(t, h, []string{"--program", h.reference, "--suite", suitePath, "--strict", "--env", "T9SEARCH_MATCH=contiguous"})
	expectSummary(t, res, 1, "Pass rate: 0.00 % [0 / 1]")
}

func checkUsageErrors(t *testing.T, h *harness) {
	for _, args := range [][]string{
		{"--no-such-flag"},
		{"extra-argument"},
		{"--suite", filepath.Join(t.TempDir(), "absent.yaml")},
		{"--timeout", "-1s"},
	} {
		res := runCLI(t, h, args)
		if res.exitCode != 2 {
			t.Fatalf("%v: expected exit 2, got %d: %s", args, res.exitCode, res.stderr)
		}
		if !strings.HasPrefix(res.stderr, "error: ") && !strings.Contains(res.stderr, "\nerror: ") {
			t.Fatalf("%v: expected an error line on stderr: %q", args, res.stderr)
		}
	}
}

func checkEvidenceDeterministic(t *testing.T, h *harness) {
	var runs []*evidence.Run
	for i := 0; i < 2; i++ {
		path := filepath.Join(t.TempDir(), "evidence.json")
		res := runCLI(t, h, []string{"--program", h.reference, "--report", path})
		if res.exitCode != 1 {
			t.Fatalf("run %d: expected exit 1, got %d: %s", i, res.exitCode, res.stderr)
		}
		rec, err := evidence.Load(path)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		runs = append(runs, rec)
	}

	first, second := runs[0], runs[1]
	if first.RunID == second.RunID {
		t.Fatal("run ids must be unique")
	}
	if first.Total != 9 || first.Passed != 6 || first.Aborted {
		t.Fatalf("unexpected counters: %+v", first)
	}
	if len(first.Cases) != len(second.Cases) {
		t.Fatalf("case count drift: %d vs %d", len(first.Cases), len(second.Cases))
	}
	for i := range first.Cases {
		a, b := first.Cases[i], second.Cases[i]
		a.DurationMS, b.DurationMS = 0, 0
		if fmt.Sprint(a) != fmt.Sprint(b) {
			t.Fatalf("case %d differs between runs:\n%+v\n%+v", i, a, b)
		}
	}
}

func checkProgramFromEnvironment(t *testing.T, h *harness) {
	res := runCLI(t, h, []string{"--bonus=false"}, "T9_HARNESS_PROGRAM="+h.reference)
	expectSummary(t, res, 0, "Pass rate: 100.00 % [5 / 5]")
}

func checkNoColorOutputIsPlain(t *testing.T, h *harness) {
	res := runCLI(t, h, []string{"--program", h.reference})
	if strings.Contains(res.stdout, "\x1b[") {
		t.Fatalf("escape sequences in --no-color output: %q", res.stdout)
	}
	if !strings.Contains(res.stdout, "[ OK ] Assignment example #1\n") {
		t.Fatalf("expected a plain pass banner:\n%s", res.stdout)
	}
}

func checkTimeoutIsPerCase(t *testing.T, h *harness) {
	script := writeScript(t, "exec sleep 30\n")
	res := runCLI(t, h, []string{"--program", script, "--bonus=false", "--timeout", "100ms"})
	expectSummary(t, res, 1, "Pass rate: 0.00 % [0 / 5]")
	if got := strings.Count(res.stdout, "TIMEOUT"); got != 5 {
		t.Fatalf("expected 5 timeouts, got %d:\n%s", got, res.stdout)
	}
}
