package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType classifies failures so callers can decide whether to keep going.
type ErrorType string

const (
	// Parse failures are isolated to one file and never abort a crawl.
	TypeParse ErrorType = "parse"
	// Store failures are fatal for the current operation.
	TypeStore ErrorType = "store"
	// IO covers reads, stats and directory walks.
	TypeIO ErrorType = "io"
	// Watch failures stop the daemon.
	TypeWatch ErrorType = "watch"
	// Config covers loading and validating workspace configuration.
	TypeConfig ErrorType = "config"
	// Conflict means another writer owns the workspace or an operation
	// could not be sequenced.
	TypeConflict ErrorType = "conflict"
)

// Error carries the failure class, the operation and optionally the file.
type Error struct {
	Type ErrorType
	Op   string
	Path string
	Err  error
}

// New creates an Error of the given type for op.
func New(t ErrorType, op string, err error) *Error {
	return &Error{Type: t, Op: op, Err: err}
}

// WithPath attaches the file path that failed.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s failed for %s: %v", e.Type, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Type, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Recoverable reports whether processing can continue past this failure.
func (e *Error) Recoverable() bool {
	return e.Type == TypeParse || e.Type == TypeIO
}

// Is reports whether err is (or wraps) an *Error of type t.
func Is(err error, t ErrorType) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// TypeOf returns the ErrorType of err, or "" when err is not classified.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ""
}
