// Package services implements the development Run Service: workflow storage, environments and a
// simulated run engine that advances one node per poll.
package services

import (
	"errors"
	"fmt"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidDocument = errors.New("invalid workflow document")
	ErrNoStartNode     = errors.New("workflow has no start node")
	ErrMissingSecrets  = errors.New("missing environment secrets")
	ErrInvalidResume   = errors.New("invalid resume request")

	// Not Found Errors (404 Not Found).
	ErrEnvironmentNotFound = errors.New("environment not found")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidDocument) ||
		errors.Is(err, ErrNoStartNode) ||
		errors.Is(err, ErrMissingSecrets) ||
		errors.Is(err, ErrInvalidResume)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
