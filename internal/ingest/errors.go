package ingest

import (
	"errors"
	"fmt"
)

// ErrUnexpected marks failures other than storage errors raised while
// handling an upload.
var ErrUnexpected = errors.New("unexpected ingest error")

// UnexpectedError wraps a panic or unclassified error recovered at the
// session boundary.
type UnexpectedError struct {
	Filename string
	Cause    error
	Panic    any
	Stack    []byte
}

func (e *UnexpectedError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("unexpected error handling %q: panic: %v", e.Filename, e.Panic)
	}
	return fmt.Sprintf("unexpected error handling %q: %v", e.Filename, e.Cause)
}

func (e *UnexpectedError) Unwrap() error { return e.Cause }

func (e *UnexpectedError) Is(target error) bool { return target == ErrUnexpected }
