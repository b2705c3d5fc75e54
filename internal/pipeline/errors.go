package pipeline

import (
	"errors"
	"fmt"

	"github.com/scanline-io/timetablex/internal/types"
)

// Error carries a types.ErrorKind alongside the usual wrapped error, so the
// Worker Pool can route retries and populate RetryLog.ErrorType by type
// assertion instead of matching substrings in an error message (the
// source's pattern — see SPEC_FULL.md §A).
type Error struct {
	Kind types.ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns an *Error tagging err with kind. Wrap(kind, nil) returns nil,
// matching the usual Go convention for error-wrapping helpers.
func Wrap(kind types.ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Newf builds an *Error directly from a format string, for failures that
// originate in this package rather than wrapping an upstream error.
func Newf(kind types.ErrorKind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classified types.ErrorKind from err, walking the
// unwrap chain. Errors with no attached kind classify as ErrorKindUnknown.
func KindOf(err error) types.ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return types.ErrorKindUnknown
}
