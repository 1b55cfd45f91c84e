package optimization

import (
	"errors"
	"fmt"
)

// Kind classifies a fit failure.
type Kind string

const (
	// KindInvalidInput covers malformed samples, axes or configuration.
	KindInvalidInput Kind = "invalid_input"
	// KindSearchSpaceTooLarge is raised when the candidate count exceeds the ceiling.
	KindSearchSpaceTooLarge Kind = "search_space_too_large"
	// KindExecutorUnavailable means no execution context could be acquired.
	KindExecutorUnavailable Kind = "executor_unavailable"
	// KindDispatchTimeout means a dispatch did not complete within the bounded wait.
	KindDispatchTimeout Kind = "dispatch_timeout"
	// KindCanceled is raised when the caller stops a run between stages.
	KindCanceled Kind = "canceled"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrInvalidInput        = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrSearchSpaceTooLarge = &Error{Kind: KindSearchSpaceTooLarge, Message: "search space too large"}
	ErrExecutorUnavailable = &Error{Kind: KindExecutorUnavailable, Message: "executor unavailable"}
	ErrDispatchTimeout     = &Error{Kind: KindDispatchTimeout, Message: "dispatch timeout"}
	ErrCanceled            = &Error{Kind: KindCanceled, Message: "canceled"}
)

// Error represents a fit error with context
// that can be wrapped with additional information.
type Error struct {
	// Kind is the failure class.
	Kind Kind
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	msg := e.Message
	if e.Kind != "" {
		msg = fmt.Sprintf("%s (%s)", e.Message, e.Kind)
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, msg)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind != "" && e.Kind == t.Kind
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// NewErrorf creates a new error of the given kind with a formatted message.
func NewErrorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with a kind and additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsOptimizationError checks if an error is of type Error.
// If the error is an optimization error, it returns the error and true.
// Otherwise, it returns nil and false.
func IsOptimizationError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
