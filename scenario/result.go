package scenario

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the verdict of a scenario run.
type Outcome string

const (
	Pass Outcome = "pass"
	Fail Outcome = "fail"
)

// StepResult is the outcome of one step.
type StepResult struct {
	// Index is the 1-based position of the step.
	Index       int
	Description string
	Err         error
	Duration    time.Duration
}

// AssertionResult is the outcome of one assertion. Err is set when the
// assertion could not be evaluated, as opposed to the element missing.
type AssertionResult struct {
	Name     string
	Selector string
	Passed   bool
	Err      error
}

// Result is the verdict of one scenario run.
type Result struct {
	Suite    string
	Scenario string
	URL      string
	Outcome  Outcome
	// Reason explains a Fail outcome.
	Reason string
	// Err is the error that stopped the run before its assertions.
	Err        error
	Steps      []StepResult
	Assertions []AssertionResult

	// ArtifactPath is where the screenshot was written, or should have been.
	ArtifactPath string
	// ArtifactErr is set when the screenshot could not be captured or written.
	ArtifactErr error

	Start    time.Time
	Duration time.Duration
}

// Passed reports whether the scenario passed.
func (r *Result) Passed() bool {
	return r.Outcome == Pass
}

// FailedAssertions returns the assertions that did not pass.
func (r *Result) FailedAssertions() []AssertionResult {
	var failed []AssertionResult
	for _, a := range r.Assertions {
		if !a.Passed {
			failed = append(failed, a)
		}
	}
	return failed
}

// fail records err as the error that stopped the run. Only the first one
// is kept.
func (r *Result) fail(err error) {
	if r.Err == nil {
		r.Err = err
	}
}

// finish decides the outcome.
func (r *Result) finish() {
	r.Duration = time.Since(r.Start)

	failed := r.FailedAssertions()
	switch {
	case r.Err != nil:
		r.Outcome = Fail
		r.Reason = r.Err.Error()
	case len(failed) > 0:
		r.Outcome = Fail
		labels := make([]string, 0, len(failed))
		for _, a := range failed {
			labels = append(labels, a.Name)
		}
		r.Reason = fmt.Sprintf("%d of %d assertions failed: %s",
			len(failed), len(r.Assertions), strings.Join(labels, ", "))
	default:
		r.Outcome = Pass
		r.Reason = ""
	}
}
