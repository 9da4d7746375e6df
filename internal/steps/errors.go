package steps

import (
	"errors"
	"fmt"
	"reflect"
)

// TypedError is raised by the throw step and by plugins that want their
// failures matched by name in expected-exception declarations.
type TypedError struct {
	Type    string
	Message string
	Err     error
}

func (e *TypedError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// ErrorType names the error for expected-exception matching.
func (e *TypedError) ErrorType() string {
	return e.Type
}

func (e *TypedError) Unwrap() error {
	return e.Err
}

// NewTypedError constructs a TypedError.
func NewTypedError(typ, format string, args ...any) error {
	return &TypedError{Type: typ, Message: fmt.Sprintf(format, args...)}
}

// AssertionError marks an explicit test failure raised from a step. The
// pipeline reports it as FAILED rather than ERRORED.
type AssertionError struct {
	Message string
}

func (e *AssertionError) Error() string {
	return e.Message
}

// ErrorType names the error for expected-exception matching.
func (e *AssertionError) ErrorType() string {
	return "AssertionError"
}

// IsAssertion reports whether err carries an AssertionError.
func IsAssertion(err error) bool {
	var assertion *AssertionError
	return errors.As(err, &assertion)
}

type typeNamer interface {
	ErrorType() string
}

// ErrorType returns the type name of err: the ErrorType method of the first
// error in the chain that has one, otherwise the Go type name of the
// innermost error.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}

	var named typeNamer
	if errors.As(err, &named) {
		return named.ErrorType()
	}

	inner := err
	for {
		next := errors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}

	t := reflect.TypeOf(inner)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
