package analysis

import (
	"errors"
	"fmt"

	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

// ExecutionError is the uniform failure of a unit invocation. It matches
// sentinel.ErrExecutionFailure and unwraps to the original cause.
type ExecutionError struct {
	Analysis string
	Model    string
	Err      error
}

func (e *ExecutionError) Error() string {
	switch {
	case e.Model != "" && e.Analysis != "":
		return fmt.Sprintf("analysis '%s' failed for model '%s': %v", e.Analysis, e.Model, e.Err)
	case e.Model != "":
		return fmt.Sprintf("fitting failed for model '%s': %v", e.Model, e.Err)
	default:
		return fmt.Sprintf("analysis '%s' failed: %v", e.Analysis, e.Err)
	}
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool { return target == sentinel.ErrExecutionFailure }

// ModelFailure wraps an engine error with the model that was being fitted.
func ModelFailure(model string, err error) error {
	return &ExecutionError{Model: model, Err: err}
}

// WrapExecution attaches the analysis identity to err, reusing an existing
// ExecutionError so the model name survives. Errors in the caller's own
// parameters come back unchanged.
func WrapExecution(analysisName string, err error) error {
	if err == nil {
		return nil
	}
	var re *sentinel.RequestError
	if errors.As(err, &re) {
		return err
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		if ee.Analysis == "" {
			ee.Analysis = analysisName
		}
		return ee
	}
	return &ExecutionError{Analysis: analysisName, Err: err}
}
