// Package services provides the business operations behind the HTTP API:
// automation definition management and enrollment administration.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. Validation errors map to 400s, conflicts to 409s.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrAutomationNil   = errors.New("automation cannot be nil")
	ErrStepsRequired   = errors.New("multi-step automation must have at least one step")
	ErrAutomationInUse = errors.New("automation still has active enrollments")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string
	Code    string
	Message string
	Err     error
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

// IsValidationError checks if an error should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrAutomationNil) ||
		errors.Is(err, ErrStepsRequired)
}

// IsConflictError checks if an error should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrAutomationInUse)
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
