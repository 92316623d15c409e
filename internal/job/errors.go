package job

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned by Add when the job cannot be accepted.
	ErrValidation = errors.New("job validation failed")

	// ErrUnknownJobType means no handler is registered for the type. Never retried.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrTimeout means an attempt outlived its timeout. Retried like a handler error.
	ErrTimeout = errors.New("job timed out")

	// ErrInterrupted means the worker was stopped mid-attempt. The attempt is
	// not counted and the job goes back to the queue.
	ErrInterrupted = errors.New("job attempt interrupted")
)

// HandlerError wraps an error returned (or a panic raised) by a job handler.
type HandlerError struct {
	JobType string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed: %v", e.JobType, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as not worth retrying, e.g. a payload
// that will never decode.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retryable reports whether a failed attempt may be retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnknownJobType) || errors.Is(err, ErrValidation) {
		return false
	}
	return !IsPermanent(err)
}

// Kind returns a short label for err, used for metrics and logs.
func Kind(err error) string {
	var he *HandlerError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUnknownJobType):
		return "unknown_type"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrInterrupted):
		return "interrupted"
	case IsPermanent(err):
		return "permanent"
	case errors.As(err, &he):
		return "handler"
	default:
		return "other"
	}
}
