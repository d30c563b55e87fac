// Package errors carries request-level error context for the QNEWT service:
// what failed, in which component, and where.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Error is an error with component context and a captured stack trace.
type Error struct {
	// Err is the underlying cause, if any.
	Err error
	// Message describes the failure.
	Message string
	// Operation names what was being attempted.
	Operation string
	// Component names the package or subsystem that failed.
	Component string
	// Stack is the capture-time stack trace.
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Operation != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString("operation=")
		b.WriteString(e.Operation)
	}
	if e.Component != "" {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString("component=")
		b.WriteString(e.Component)
	}
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// WithOperation sets the operation name.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent sets the component name.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// New creates an Error with a message and a stack trace.
func New(msg string) *Error {
	return &Error{Message: msg, Stack: stackTrace()}
}

// Errorf creates an Error with a formatted message.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Stack: stackTrace()}
}

// Wrap annotates err with a message, preserving an existing *Error rather
// than stacking a second one. Wrapping nil returns nil.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if !stderrors.As(err, &e) {
		e = &Error{Err: err, Stack: stackTrace()}
	}
	if msg != "" {
		e.Message = msg
	}
	return e
}

// Is delegates to the standard library.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As delegates to the standard library.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

func stackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
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
