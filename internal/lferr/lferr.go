// Package lferr defines the structured error type shared across the
// coordinator. Every engine-level failure carries a Kind so callers (and exit
// codes) can dispatch on it without string matching.
package lferr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for dispatch and exit-code mapping.
type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindTransition Kind = "TRANSITION"
	KindLaneBusy   Kind = "LANE_BUSY"
	KindOverlap    Kind = "OVERLAP"
	KindCoverage   Kind = "COVERAGE"
	KindGit        Kind = "GIT"
	KindIO         Kind = "IO"
	KindRecovery   Kind = "RECOVERY"
	KindConcurrent Kind = "CONCURRENT_MODIFICATION"
	KindFatal      Kind = "FATAL"
)

// ExitCode maps an error kind to a process exit code. Zero is reserved for
// success; kinds are stable so scripts can depend on them.
func (k Kind) ExitCode() int {
	switch k {
	case KindValidation:
		return 2
	case KindTransition:
		return 3
	case KindLaneBusy:
		return 4
	case KindOverlap:
		return 5
	case KindCoverage:
		return 6
	case KindGit:
		return 7
	case KindIO:
		return 8
	case KindRecovery:
		return 9
	case KindConcurrent:
		return 10
	default:
		return 1
	}
}

// Error is the coordinator's structured error. Message states the failing
// invariant (observed vs expected); Remediation is the smallest next command
// that unblocks the user.
type Error struct {
	Kind        Kind
	Message     string
	Remediation string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind with a cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithRemediation attaches a suggested next command and returns the error.
func (e *Error) WithRemediation(format string, args ...interface{}) *Error {
	e.Remediation = fmt.Sprintf(format, args...)
	return e
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindFatal.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindFatal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind == kind
	}
	return false
}
