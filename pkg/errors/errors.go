// Package errors defines the sentinel errors shared across the service and
// an AppError type that carries an HTTP status alongside the cause.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrIO reports an unreadable or unwritable source or snapshot file.
	ErrIO = errors.New("i/o error")
	// ErrParse reports a malformed ingestion record.
	ErrParse = errors.New("parse error")
	// ErrCorrupt reports snapshot bytes that cannot be decoded.
	ErrCorrupt = fmt.Errorf("corrupt snapshot: %w", ErrParse)
	// ErrArgument reports an invalid record limit or missing required input.
	ErrArgument = errors.New("invalid argument")
	// ErrNotFound reports a snapshot that has never been written.
	ErrNotFound = errors.New("not found")
	// ErrNotReady is returned by queries issued before the first index is live.
	ErrNotReady = errors.New("index not ready")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrArgument), errors.Is(err, ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
