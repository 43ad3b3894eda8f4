package worker

import (
	"errors"

	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

// ErrUnavailable reports a worker process that is not running or died mid-call.
var ErrUnavailable = errors.New("fitting worker unavailable")

// RemoteError is an error reported by the worker itself.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Is maps worker error kinds onto the domain sentinels.
func (e *RemoteError) Is(target error) bool {
	switch e.Code {
	case KindNotFound:
		return target == sentinel.ErrNotFound
	case KindInvalidParams:
		return target == sentinel.ErrInvalidRequest
	}
	return false
}

func mapRPCError(err *rpcError) error {
	if err == nil {
		return nil
	}
	code := ""
	if err.Data != nil {
		if v, ok := err.Data["error_code"].(string); ok {
			code = v
		}
	}
	if code == "" && err.Code == codeInvalidParams {
		code = KindInvalidParams
	}
	return &RemoteError{Code: code, Message: err.Message}
}

func kindOf(err error) (string, int) {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return KindNotFound, codeServerError
	case errors.Is(err, sentinel.ErrInvalidRequest):
		return KindInvalidParams, codeInvalidParams
	}
	return "", codeServerError
}
