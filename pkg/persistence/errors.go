// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates an automation definition was not found.
	ErrDefinitionNotFound = errors.New("automation definition not found")

	// ErrEnrollmentNotFound indicates an enrollment was not found.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrDuplicateActiveEnrollment indicates an active enrollment already
	// exists for the (automation, entity) pair.
	ErrDuplicateActiveEnrollment = errors.New("active enrollment already exists for entity")

	// ErrEnrollmentClaimed indicates another worker holds a live lease.
	ErrEnrollmentClaimed = errors.New("enrollment is claimed by another worker")
)

// DefinitionError wraps definition-related errors with operation context.
type DefinitionError struct {
	Op           string
	DefinitionID string
	Err          error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s operation failed for definition %s: %v", e.Op, e.DefinitionID, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

func (e *DefinitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDefinitionError creates a new definition error with context.
func NewDefinitionError(op, definitionID string, err error) *DefinitionError {
	return &DefinitionError{Op: op, DefinitionID: definitionID, Err: err}
}

// EnrollmentError wraps enrollment-related errors with operation context.
type EnrollmentError struct {
	Op           string
	EnrollmentID string
	Err          error
}

func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("%s operation failed for enrollment %s: %v", e.Op, e.EnrollmentID, e.Err)
}

func (e *EnrollmentError) Unwrap() error {
	return e.Err
}

func (e *EnrollmentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEnrollmentError creates a new enrollment error with context.
func NewEnrollmentError(op, enrollmentID string, err error) *EnrollmentError {
	return &EnrollmentError{Op: op, EnrollmentID: enrollmentID, Err: err}
}

// IsDefinitionNotFound checks if an error indicates a missing definition.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsEnrollmentNotFound checks if an error indicates a missing enrollment.
func IsEnrollmentNotFound(err error) bool {
	return errors.Is(err, ErrEnrollmentNotFound)
}

// IsDuplicateActiveEnrollment checks if an error indicates the one-active-
// enrollment-per-entity invariant would be violated.
func IsDuplicateActiveEnrollment(err error) bool {
	return errors.Is(err, ErrDuplicateActiveEnrollment)
}

// IsEnrollmentClaimed checks if an error indicates a lease conflict.
func IsEnrollmentClaimed(err error) bool {
	return errors.Is(err, ErrEnrollmentClaimed)
}
