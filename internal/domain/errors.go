package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AppError represents a domain-specific error with structured information and enhanced context
type AppError struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Operation  string    `json:"operation,omitempty"`
	Cause      error     `json:"-"` // Original error, not serialized
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error wrapping
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithOperation records the operation that produced the error
func (e *AppError) WithOperation(operation string) *AppError {
	e.Operation = operation
	return e
}

// Error codes for the update engine
const (
	ErrNotConfigured     = "NOT_CONFIGURED"      // DataSource not bound
	ErrNotFound          = "NOT_FOUND"           // Content key or file does not resolve
	ErrIntegrityMismatch = "INTEGRITY_MISMATCH"  // Downloaded content digest differs from the manifest
	ErrIOFailure         = "IO_FAILURE"          // Filesystem or transport failure
	ErrCancelled         = "CANCELLED"           // Cooperative cancellation observed
	ErrInvalidOperation  = "INVALID_OPERATION"   // Operation not allowed in the current state
	ErrInvalidInput      = "INVALID_INPUT"       // Caller supplied an invalid argument
	ErrManifestInvalid   = "MANIFEST_INVALID"    // Manifest failed to decode or validate
	ErrEmptyUpdate       = "EMPTY_UPDATE"        // Update carries no patches
	ErrTimeout           = "TIMEOUT"             // Deadline exceeded
	ErrPostCommandFailed = "POST_COMMAND_FAILED" // Post-update command exited with an error
	ErrRateLimit         = "RATE_LIMITED"        // Client exceeded the request rate
	ErrInternal          = "INTERNAL_ERROR"      // Unexpected server failure
)

// NewAppError creates a new AppError with the specified parameters
func NewAppError(code, message string, statusCode int, details any) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
		Timestamp:  time.Now(),
	}
}

// NewAppErrorWithCause creates a new AppError with underlying cause
func NewAppErrorWithCause(code, message string, statusCode int, cause error, details any) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

// NewIOFailure wraps a filesystem or transport error
func NewIOFailure(message string, cause error, details any) *AppError {
	return NewAppErrorWithCause(ErrIOFailure, message, 500, cause, details)
}

// NewCancelled converts a context error into a CANCELLED (or TIMEOUT) AppError
func NewCancelled(ctx context.Context, operation string) *AppError {
	cause := ctx.Err()
	if errors.Is(cause, context.DeadlineExceeded) {
		return NewAppErrorWithCause(ErrTimeout, "Operation timed out", 408, cause, nil).WithOperation(operation)
	}
	return NewAppErrorWithCause(ErrCancelled, "Operation cancelled", 499, cause, nil).WithOperation(operation)
}

// CheckContext returns a cancellation error if ctx is already done
func CheckContext(ctx context.Context, operation string) error {
	select {
	case <-ctx.Done():
		return NewCancelled(ctx, operation)
	default:
		return nil
	}
}

// HasCode reports whether any AppError in err's tree carries code
func HasCode(err error, code string) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *AppError:
		if e.Code == code {
			return true
		}
		return HasCode(e.Cause, code)
	case interface{ Unwrap() []error }:
		for _, member := range e.Unwrap() {
			if HasCode(member, code) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return HasCode(e.Unwrap(), code)
	default:
		return false
	}
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return HasCode(err, ErrNotFound)
}

// IsIntegrityMismatch checks if the error is a digest mismatch
func IsIntegrityMismatch(err error) bool {
	return HasCode(err, ErrIntegrityMismatch)
}

// IsCancelled checks if the error stems from cancellation or timeout
func IsCancelled(err error) bool {
	return HasCode(err, ErrCancelled) || HasCode(err, ErrTimeout)
}

// IsNotConfigured checks if the error is a missing DataSource binding
func IsNotConfigured(err error) bool {
	return HasCode(err, ErrNotConfigured)
}

// AggregateError collects independent failures that are reported together
type AggregateError []error

func (e AggregateError) Error() string {
	if len(e) == 0 {
		return "no errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d errors occurred: %s", len(e), strings.Join(msgs, "; "))
}

// Unwrap exposes every member to errors.Is and errors.As
func (e AggregateError) Unwrap() []error {
	return e
}

// Append adds err to the aggregate, flattening nested aggregates and skipping nil
func (e AggregateError) Append(err error) AggregateError {
	if err == nil {
		return e
	}
	if nested, ok := err.(AggregateError); ok {
		return append(e, nested...)
	}
	return append(e, err)
}

// ErrorOrNil returns nil for an empty aggregate
func (e AggregateError) ErrorOrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
