package storage

import (
	"github.com/pkg/errors"
)

// ArtifactWriteError is returned when an artifact could not be written, or
// could not be found where it should have been written. It is kept apart from
// assertion failures so a passing check with a missing screenshot is still
// reported.
type ArtifactWriteError struct {
	Path string
	err  error
}

// NewArtifactWriteError wraps cause with a stack trace.
func NewArtifactWriteError(path string, cause error) *ArtifactWriteError {
	if cause == nil {
		cause = errors.New("unknown cause")
	}
	return &ArtifactWriteError{
		Path: path,
		err:  errors.Wrapf(cause, "writing artifact %q", path),
	}
}

func (e *ArtifactWriteError) Error() string {
	return e.err.Error()
}

// Unwrap returns the underlying cause.
func (e *ArtifactWriteError) Unwrap() error {
	return errors.Cause(e.err)
}

// StackTrace returns the stack recorded when the error was created.
func (e *ArtifactWriteError) StackTrace() errors.StackTrace {
	type stackTracer interface {
		StackTrace() errors.StackTrace
	}
	if st, ok := e.err.(stackTracer); ok { //nolint:errorlint
		return st.StackTrace()
	}
	return nil
}
