package scenario

import (
	"errors"
	"fmt"
)

// ErrInvalidScenario is wrapped by every ParseError.
var ErrInvalidScenario = errors.New("invalid scenario")

// ParseError reports a malformed or incomplete scenario descriptor.
type ParseError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%v: %s: %s", ErrInvalidScenario, e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap lets errors.Is match ErrInvalidScenario and the underlying cause.
func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidScenario, e.Err}
	}
	return []error{ErrInvalidScenario}
}

func fieldError(field, reason string) *ParseError {
	return &ParseError{Field: field, Reason: reason}
}
