// Package errors defines the structured error taxonomy for memory operations.
package errors

import (
	"fmt"
)

// ErrorCode represents a specific error type for memory operations.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the target record is missing or expired.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeStoreUnavailable indicates a backing-store failure.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// ErrCodePartialFailure indicates a batch run where some items failed.
	ErrCodePartialFailure ErrorCode = "PARTIAL_FAILURE"
)

// MemoryError represents a structured error for memory operations.
type MemoryError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *MemoryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *MemoryError) Unwrap() error {
	return e.Cause
}

// Convenience constructors for common error types.

// NotFound creates a not-found error for a record kind and id.
func NotFound(kind, id string) *MemoryError {
	return &MemoryError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
	}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *MemoryError {
	return &MemoryError{Code: ErrCodeInvalidArgument, Message: msg}
}

// StoreUnavailable creates a backing-store failure error.
func StoreUnavailable(msg string, cause error) *MemoryError {
	return &MemoryError{Code: ErrCodeStoreUnavailable, Message: msg, Cause: cause}
}

// PartialFailure creates a partial batch failure error.
func PartialFailure(msg string, cause error) *MemoryError {
	return &MemoryError{Code: ErrCodePartialFailure, Message: msg, Cause: cause}
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	if memErr, ok := err.(*MemoryError); ok {
		return memErr.Code == code
	}
	return false
}

// IsNotFound checks if an error is a not-found error.
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeNotFound)
}
