// Package errors provides API errors for the gridfit server: a status-carrying
// error with a stack trace and the mapping from fit failures to HTTP status.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/copyleftdev/gridfit/internal/optimization"
)

// JSON-RPC 2.0 error codes used by the server.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
)

// Error represents an API error with context and stack trace.
type Error struct {
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// The operation that was being performed when the error occurred
	Operation string
	// The component or package where the error occurred
	Component string
	// Status is the HTTP status the error maps to
	Status int
	// Code is the JSON-RPC error code the error maps to
	Code int
	// Kind is the fit failure kind, if the error came from the engine
	Kind optimization.Kind
	// The stack trace
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var builder strings.Builder

	if e.Message != "" {
		builder.WriteString(e.Message)
	}

	if e.Operation != "" {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString("operation=")
		builder.WriteString(e.Operation)
	}

	if e.Component != "" {
		if builder.Len() > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString("component=")
		builder.WriteString(e.Component)
	}

	if e.Err != nil {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Err.Error())
	}

	return builder.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithMessage adds a message to the error.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithOperation adds an operation to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent adds a component to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithStatus sets the HTTP status and derives the JSON-RPC code from it.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	e.Code = codeFor(status)
	return e
}

// StackTrace returns the stack trace as a slice of strings.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates a new error with a message and status.
func New(status int, msg string) *Error {
	e := &Error{
		Message: msg,
		Stack:   getStackTrace(),
	}
	return e.WithStatus(status)
}

// Errorf creates a new error with a formatted message and status.
func Errorf(status int, format string, args ...interface{}) *Error {
	e := &Error{
		Message: fmt.Sprintf(format, args...),
		Stack:   getStackTrace(),
	}
	return e.WithStatus(status)
}

// Wrap wraps an error with additional context. An *Error is updated in
// place; anything else is classified with FromFit first.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if !stderrors.As(err, &e) {
		e = FromFit(err)
	}

	if msg != "" {
		e.Message = msg
	}

	return e
}

// FromFit classifies err by its fit failure kind:
//
//	invalid_input            400
//	search_space_too_large   413
//	executor_unavailable     503
//	dispatch_timeout         504
//	canceled                 409
//
// Anything else is a 500.
func FromFit(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}

	kind := optimization.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case optimization.KindInvalidInput:
		status = http.StatusBadRequest
	case optimization.KindSearchSpaceTooLarge:
		status = http.StatusRequestEntityTooLarge
	case optimization.KindExecutorUnavailable:
		status = http.StatusServiceUnavailable
	case optimization.KindDispatchTimeout:
		status = http.StatusGatewayTimeout
	case optimization.KindCanceled:
		status = http.StatusConflict
	}

	e = &Error{
		Err:   err,
		Kind:  kind,
		Stack: getStackTrace(),
	}
	return e.WithStatus(status)
}

// StatusOf returns the HTTP status err maps to.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return FromFit(err).Status
}

func codeFor(status int) int {
	if status == http.StatusBadRequest {
		return CodeInvalidParams
	}
	return CodeServerError
}

// getStackTrace returns the current stack trace as a slice of strings.
func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, getStackTrace, and the constructor
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
