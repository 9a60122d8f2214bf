package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Pipeline failure taxonomy
var (
	ErrTransient = errors.New("transient failure")
	ErrQuality   = errors.New("image quality failure")
	ErrPartial   = errors.New("partial failure")
	ErrFatal     = errors.New("fatal failure")
	ErrConflict  = errors.New("operation already in progress")
)

// ErrorKind names a taxonomy bucket for logs and API payloads.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindTransient  ErrorKind = "transient"
	KindQuality    ErrorKind = "quality"
	KindPartial    ErrorKind = "partial"
	KindFatal      ErrorKind = "fatal"
	KindConflict   ErrorKind = "conflict"
	KindNotFound   ErrorKind = "not_found"
	KindInternal   ErrorKind = "internal"
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func ValidationFailed(message string) error {
	return NewAppError("VALIDATION_ERROR", message, ErrValidation)
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrFatal):
		return KindFatal
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrQuality):
		return KindQuality
	case errors.Is(err, ErrPartial):
		return KindPartial
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindInternal
	}
}

// HTTPStatus maps err onto a response status for the HTTP layer.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindQuality:
		return http.StatusUnprocessableEntity
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindPartial:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}
