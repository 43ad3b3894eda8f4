package sentinel

import (
	"errors"
	"fmt"
)

// Error kinds shared by every layer. Callers wrap them with fmt.Errorf("...: %w")
// and transports classify with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrAmbiguous        = errors.New("ambiguous")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrLoadFailure      = errors.New("load failure")
	ErrInvalidUnit      = errors.New("invalid analysis unit")
	ErrExecutionFailure = errors.New("execution failure")
	ErrIO               = errors.New("io failure")
)

// RequestError is a failure caused by the caller's own input. It matches
// ErrInvalidRequest and survives wrapping as a unit failure.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return e.Err.Error() + ": " + ErrInvalidRequest.Error() }

func (e *RequestError) Unwrap() error { return e.Err }

func (e *RequestError) Is(target error) bool { return target == ErrInvalidRequest }

// Invalidf formats a RequestError.
func Invalidf(format string, a ...any) error {
	return &RequestError{Err: fmt.Errorf(format, a...)}
}

// Code returns the stable wire code for err, or "INTERNAL" when err matches no kind.
// An execution failure wins over whatever kind caused it.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExecutionFailure):
		return "EXECUTION_FAILURE"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrAmbiguous):
		return "AMBIGUOUS"
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrLoadFailure):
		return "LOAD_FAILURE"
	case errors.Is(err, ErrInvalidUnit):
		return "INVALID_UNIT"
	case errors.Is(err, ErrIO):
		return "IO_FAILURE"
	default:
		return "INTERNAL"
	}
}
