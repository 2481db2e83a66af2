package bridge

import (
	"errors"
	"fmt"
)

// Kind classifies an invocation failure.
type Kind string

const (
	KindInvalidInput    Kind = "invalid_input"
	KindWorkerNotFound  Kind = "worker_not_found"
	KindArtifactWrite   Kind = "artifact_write"
	KindSpawn           Kind = "spawn"
	KindExitNonZero     Kind = "exit_non_zero"
	KindMalformedOutput Kind = "malformed_output"
	KindTimeout         Kind = "timeout"
	KindCanceled        Kind = "canceled"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrInvalidInput    = &Error{Kind: KindInvalidInput}
	ErrWorkerNotFound  = &Error{Kind: KindWorkerNotFound}
	ErrArtifactWrite   = &Error{Kind: KindArtifactWrite}
	ErrSpawn           = &Error{Kind: KindSpawn}
	ErrExitNonZero     = &Error{Kind: KindExitNonZero}
	ErrMalformedOutput = &Error{Kind: KindMalformedOutput}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrCanceled        = &Error{Kind: KindCanceled}
)

// Error is a failed invocation. Message is human readable and is what the
// HTTP layer hands back to its client.
type Error struct {
	Kind    Kind
	Message string

	// ExitCode is set for KindExitNonZero.
	ExitCode int
	// Output holds the raw worker stdout for KindMalformedOutput.
	Output string

	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}
