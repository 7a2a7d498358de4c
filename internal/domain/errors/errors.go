package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an application error for propagation policy decisions.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindConflict    Kind = "conflict"
	KindNotFound    Kind = "not_found"
	KindUnavailable Kind = "unavailable"
	KindBusy        Kind = "busy"
	KindInternal    Kind = "internal"
)

// AppError is a structured application error. Validation and business-rule
// failures are never retried; conflicts are transient and retried by the
// command processor until its attempt budget is exhausted.
type AppError struct {
	Kind      Kind           `json:"kind"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
	Retryable bool           `json:"retryable"`
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

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// NewValidationError reports a violated business rule or malformed input.
func NewValidationError(code, message string) *AppError {
	return &AppError{Kind: KindValidation, Code: code, Message: message}
}

// NewConflictError reports a lost optimistic-concurrency race.
func NewConflictError(code, message string) *AppError {
	return &AppError{Kind: KindConflict, Code: code, Message: message, Retryable: true}
}

// NewNotFoundError reports a command referencing an unknown aggregate.
func NewNotFoundError(resource, id string) *AppError {
	return &AppError{
		Kind:    KindNotFound,
		Code:    "AGGREGATE_NOT_FOUND",
		Message: fmt.Sprintf("%s %q not found", resource, id),
	}
}

// NewUnavailableError reports an unreachable storage backend.
func NewUnavailableError(message string) *AppError {
	return &AppError{Kind: KindUnavailable, Code: "STORAGE_UNAVAILABLE", Message: message, Retryable: true}
}

// NewBusyError reports a conflict retry budget exhausted; the caller may
// resubmit the command later.
func NewBusyError(message string) *AppError {
	return &AppError{Kind: KindBusy, Code: "BUSY", Message: message, Retryable: true}
}

func NewInternalError(message string) *AppError {
	return &AppError{Kind: KindInternal, Code: "INTERNAL_ERROR", Message: message}
}

// IsKind reports whether err (or anything it wraps) is an AppError of kind k.
func IsKind(err error, k Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == k
	}
	return false
}

func IsValidation(err error) bool  { return IsKind(err, KindValidation) }
func IsConflict(err error) bool    { return IsKind(err, KindConflict) }
func IsNotFound(err error) bool    { return IsKind(err, KindNotFound) }
func IsUnavailable(err error) bool { return IsKind(err, KindUnavailable) }
func IsBusy(err error) bool        { return IsKind(err, KindBusy) }
