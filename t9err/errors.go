// Package t9err defines the failure taxonomy for the t9 conformance harness.
//
// Every error produced while evaluating a test case maps to exactly one
// FailureClass. The class decides whether the run continues with the next
// case or aborts, so callers never need to inspect message text.
package t9err

import (
	"errors"
	"fmt"
)

// FailureClass is a stable failure category.
type FailureClass string

const (
	EncodingViolation      FailureClass = "ENCODING_VIOLATION"
	LaunchFailure          FailureClass = "LAUNCH_FAILURE"
	ExitCodeMismatch       FailureClass = "EXIT_CODE_MISMATCH"
	OutputMismatch         FailureClass = "OUTPUT_MISMATCH"
	MissingErrorDiagnostic FailureClass = "MISSING_ERROR_DIAGNOSTIC"
	Timeout                FailureClass = "TIMEOUT"
	StreamFailure          FailureClass = "STREAM_FAILURE"
	ConfigInvalid          FailureClass = "CONFIG_INVALID"
	InternalIO             FailureClass = "INTERNAL_IO"
)

// Fatal reports whether a failure of this class aborts the whole run.
// Environment-level failures are fatal; content-level failures only fail
// the test case they were observed in.
func (fc FailureClass) Fatal() bool {
	switch fc {
	case LaunchFailure, ConfigInvalid, InternalIO:
		return true
	default:
		return false
	}
}

// ExitCode returns the harness process exit code for a run that ended on
// this failure class.
func (fc FailureClass) ExitCode() int {
	switch fc {
	case LaunchFailure, InternalIO:
		return 10
	case ConfigInvalid:
		return 2
	default:
		return 1
	}
}

// Error is the structured error type for all harness failures.
type Error struct {
	Class   FailureClass
	Offset  int
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Offset >= 0 {
		return fmt.Sprintf("t9err: %s at byte %d: %s", e.Class, e.Offset, msg)
	}
	return fmt.Sprintf("t9err: %s: %s", e.Class, msg)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given class and message.
func New(class FailureClass, offset int, message string) *Error {
	return &Error{Class: class, Offset: offset, Message: message}
}

// Newf creates a new Error without an offset and a formatted message.
func Newf(class FailureClass, format string, args ...any) *Error {
	return &Error{Class: class, Offset: -1, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(class FailureClass, offset int, message string, cause error) *Error {
	return &Error{Class: class, Offset: offset, Message: message, Cause: cause}
}

// ClassOf returns the class of the first *Error in err's chain.
func ClassOf(err error) (FailureClass, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsFatal reports whether err carries a fatal failure class. Unclassified
// errors are treated as internal and therefore fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	class, ok := ClassOf(err)
	if !ok {
		return true
	}
	return class.Fatal()
}
