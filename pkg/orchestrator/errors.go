package orchestrator

import (
	"errors"
	"fmt"
)

// Fatal error kinds. Match them with errors.Is on the error Run returns.
var (
	// ErrEnvironmentUnsupported is returned before any work when the host
	// address space is narrower than 64 bits.
	ErrEnvironmentUnsupported = errors.New("environment unsupported")
	// ErrWorkerFailed covers decompiler errors, worker crashes and timeouts.
	ErrWorkerFailed = errors.New("worker failed")
	// ErrPostProcess covers failures after a successful worker run: splicing,
	// applying the line map and saving the snapshot.
	ErrPostProcess = errors.New("post-processing failed")
	// ErrIdleShutdown is returned when an isolated worker that never
	// reported progress fails to shut down cleanly.
	ErrIdleShutdown = errors.New("idle worker shutdown failed")
)

// Error is the single fatal error class of a run.
type Error struct {
	Kind  error
	Input string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Input)
	}

	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Input, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

func fail(kind error, input string, err error) *Error {
	return &Error{Kind: kind, Input: input, Err: err}
}
