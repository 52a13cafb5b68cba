// Package persistence provides the storage abstraction for automation
// definitions, enrollments and the execution log.
package persistence

import (
	"context"
	"time"

	"github.com/nurtura/nurtura/pkg/models"
)

type Persistence interface {
	Definitions() DefinitionRepository
	Enrollments() EnrollmentRepository
	ExecutionLog() ExecutionLogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores automation definitions. Saving replaces the
// whole step list atomically; deletes are soft.
type DefinitionRepository interface {
	All(ctx context.Context) ([]*models.AutomationDefinition, error)
	ByID(ctx context.Context, id string) (*models.AutomationDefinition, error)

	// ByTriggerEvent returns the active, non-deleted definitions whose trigger
	// listens for the given event type.
	ByTriggerEvent(ctx context.Context, eventType string) ([]*models.AutomationDefinition, error)

	Save(ctx context.Context, definition *models.AutomationDefinition) error
	Delete(ctx context.Context, id string) error
}

// EnrollmentRepository stores enrollments. Rows are never physically deleted.
type EnrollmentRepository interface {
	ByID(ctx context.Context, id string) (*models.Enrollment, error)

	// ActiveFor returns the single active enrollment for the automation/entity
	// pair, or ErrEnrollmentNotFound when none exists.
	ActiveFor(ctx context.Context, automationID, entityType, entityID string) (*models.Enrollment, error)

	ByAutomation(ctx context.Context, automationID string, status *models.EnrollmentStatus) ([]*models.Enrollment, error)

	Create(ctx context.Context, enrollment *models.Enrollment) error

	// Claim acquires the per-enrollment lease for token via a conditional
	// update. It succeeds when the enrollment is unclaimed, its lease has
	// expired, or token already holds it. Returns false without error when
	// another worker holds a live lease.
	Claim(ctx context.Context, id, token string, leaseFor time.Duration) (bool, error)

	// Release drops the lease if token still holds it.
	Release(ctx context.Context, id, token string) error

	// ClaimDue atomically claims up to limit active enrollments whose
	// next_step_at has elapsed, skipping live leases held by other workers.
	ClaimDue(ctx context.Context, token string, leaseFor time.Duration, limit int, now time.Time) ([]*models.Enrollment, error)

	// UpdateFromTick persists a tick's transition. The write only applies
	// while the row is still active and leased by token; false means the
	// update was discarded as stale (e.g. an unenroll raced the tick).
	UpdateFromTick(ctx context.Context, enrollment *models.Enrollment, token string) (bool, error)

	// MarkExited unconditionally moves an active enrollment to exited. Safe to
	// race with an in-flight tick; the tick's final write is discarded by the
	// UpdateFromTick status check.
	MarkExited(ctx context.Context, id string, at time.Time) (bool, error)

	CountByStatus(ctx context.Context, automationID string) (map[models.EnrollmentStatus]int, error)
}

// ExecutionLogRepository is the append-only record of step transitions.
type ExecutionLogRepository interface {
	Append(ctx context.Context, entries ...*models.ExecutionLogEntry) error
	ByEnrollment(ctx context.Context, enrollmentID string) ([]*models.ExecutionLogEntry, error)
}
