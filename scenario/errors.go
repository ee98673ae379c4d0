package scenario

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout matches every error caused by a wait running out of time.
var ErrTimeout = errors.New("timeout")

// NavigationTimeoutError is returned when the target URL did not finish
// loading within the navigation timeout.
type NavigationTimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *NavigationTimeoutError) Error() string {
	return fmt.Sprintf("navigating to %q: timed out after %s", e.URL, e.Timeout)
}

// Is reports whether target is ErrTimeout.
func (e *NavigationTimeoutError) Is(target error) bool {
	return target == ErrTimeout //nolint:errorlint
}

func (e *NavigationTimeoutError) Unwrap() error {
	return e.Err
}

// ReadinessTimeoutError is returned when a step's condition did not hold
// within the step timeout.
type ReadinessTimeoutError struct {
	// Index is the 1-based position of the step.
	Index   int
	Step    string
	Timeout time.Duration
	Err     error
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("step %d (%s): timed out after %s", e.Index, e.Step, e.Timeout)
}

// Is reports whether target is ErrTimeout.
func (e *ReadinessTimeoutError) Is(target error) bool {
	return target == ErrTimeout //nolint:errorlint
}

func (e *ReadinessTimeoutError) Unwrap() error {
	return e.Err
}
