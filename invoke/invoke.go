// Package invoke runs the subject program as a child process and captures
// its streams and exit status.
package invoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/lattice-substrate/t9-conformance/t9err"
)

// DefaultTimeout bounds a single subject invocation.
const DefaultTimeout = 10 * time.Second

// waitDelay bounds how long Wait keeps reading pipes held open by
// descendants after the child itself has exited or been killed.
const waitDelay = 2 * time.Second

// Result is the observed outcome of one invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Invoker abstracts subject execution for the orchestrator.
type Invoker interface {
	Invoke(ctx context.Context, program string, args []string, stdin string) (Result, error)
}

// ProcessInvoker executes the subject on the host.
type ProcessInvoker struct {
	// Timeout bounds each invocation. Zero disables the bound.
	Timeout time.Duration
	// Env is merged into the inherited environment.
	Env map[string]string
}

// Invoke starts program with args, writes stdin and closes it, and waits for
// the child to exit. A non-zero exit status is reported in Result.ExitCode,
// not as an error. Errors are classified as LAUNCH_FAILURE, TIMEOUT,
// STREAM_FAILURE or ENCODING_VIOLATION. A STREAM_FAILURE still returns the
// exit code and whatever output was collected.
func (p ProcessInvoker) Invoke(ctx context.Context, program string, args []string, stdin string) (Result, error) {
	if program == "" {
		return Result{}, t9err.Newf(t9err.LaunchFailure, "empty program path")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("run %s: %w", program, err)
	}
	runCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	// #nosec G204 -- program and args come from the operator-selected suite.
	cmd := exec.CommandContext(runCtx, program, args...)
	cmd.WaitDelay = waitDelay
	if len(p.Env) != 0 {
		cmd.Env = mergeEnv(cmd.Environ(), p.Env)
	}
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, t9err.Wrap(t9err.LaunchFailure, -1, fmt.Sprintf("start %s (%s)", program, classifyStartError(err)), err)
	}
	waitErr := cmd.Wait()
	res := Result{Duration: time.Since(started)}

	// The child has started; from here on nothing is a launch failure.
	var streamErr error
	if waitErr != nil {
		if ctxErr := runCtx.Err(); ctxErr != nil {
			if ctx.Err() == nil && errors.Is(ctxErr, context.DeadlineExceeded) {
				return res, t9err.Newf(t9err.Timeout, "%s killed after %s", program, p.Timeout)
			}
			return res, fmt.Errorf("run %s: %w", program, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			if cmd.ProcessState != nil {
				res.ExitCode = cmd.ProcessState.ExitCode()
			}
			streamErr = t9err.Wrap(t9err.StreamFailure, -1, describeWaitError(program, waitErr), waitErr)
		}
	}

	if err := checkASCII("stdout", stdout.Bytes()); err != nil {
		return res, err
	}
	if err := checkASCII("stderr", stderr.Bytes()); err != nil {
		return res, err
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res, streamErr
}

func describeWaitError(program string, err error) string {
	if errors.Is(err, exec.ErrWaitDelay) {
		return fmt.Sprintf("%s exited but its output stayed open for more than %s", program, waitDelay)
	}
	return fmt.Sprintf("collect output of %s", program)
}

func checkASCII(stream string, b []byte) error {
	for i, c := range b {
		if c >= 0x80 {
			return t9err.New(t9err.EncodingViolation, i, fmt.Sprintf("%s byte 0x%02x is outside 7-bit ASCII", stream, c))
		}
	}
	return nil
}

func classifyStartError(err error) string {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return "command not found"
	}
	if errors.Is(err, os.ErrPermission) {
		return "not executable"
	}
	return "start failed"
}

func mergeEnv(base []string, env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	merged := append([]string(nil), base...)
	for _, k := range keys {
		merged = append(merged, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return merged
}
