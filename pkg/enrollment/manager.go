// Package enrollment creates and destroys enrollments: it applies entry
// criteria to domain events, enforces the one-active-enrollment invariant, and
// hands fresh enrollments to the engine for their first tick.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nurtura/nurtura/pkg/conditions"
	"github.com/nurtura/nurtura/pkg/engine"
	"github.com/nurtura/nurtura/pkg/eventbus"
	"github.com/nurtura/nurtura/pkg/events"
	"github.com/nurtura/nurtura/pkg/models"
	"github.com/nurtura/nurtura/pkg/persistence"
	"github.com/nurtura/nurtura/pkg/protocol"
)

var (
	// ErrTriggerNotMatched means the trigger filter rejected the entity.
	ErrTriggerNotMatched = errors.New("trigger conditions did not match")

	// ErrAutomationInactive means the automation is switched off and does not
	// accept enrollments.
	ErrAutomationInactive = errors.New("automation is not active")
)

// Manager owns the enrollment lifecycle around the engine: entry and exit.
type Manager struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *engine.Engine
	snapshots   protocol.SnapshotSource
	publisher   eventbus.EventPublisher
	workerID    string
}

func NewManager(
	logger *slog.Logger,
	persist persistence.Persistence,
	eng *engine.Engine,
	snapshots protocol.SnapshotSource,
	publisher eventbus.EventPublisher,
) *Manager {
	return &Manager{
		logger:      logger.With("module", "enrollment_manager"),
		persistence: persist,
		engine:      eng,
		snapshots:   snapshots,
		publisher:   publisher,
		workerID:    "manager-" + uuid.New().String(),
	}
}

// Enroll creates an enrollment for the entity if the trigger filter matches
// the event payload merged with a fresh snapshot, then runs the first tick
// synchronously. Payload fields win over snapshot fields on conflict.
func (m *Manager) Enroll(
	ctx context.Context,
	definition *models.AutomationDefinition,
	entityType, entityID, ownerID string,
	eventPayload map[string]any,
) (*models.Enrollment, error) {
	logger := m.logger.With(
		"automation_id", definition.ID,
		"entity_type", entityType,
		"entity_id", entityID,
	)

	if !definition.IsActive {
		return nil, ErrAutomationInactive
	}

	existing, err := m.persistence.Enrollments().ActiveFor(ctx, definition.ID, entityType, entityID)
	if err != nil && !persistence.IsEnrollmentNotFound(err) {
		return nil, fmt.Errorf("failed to check for existing enrollment: %w", err)
	}

	if existing != nil {
		return nil, persistence.NewEnrollmentError("Enroll", existing.ID, persistence.ErrDuplicateActiveEnrollment)
	}

	snapshot, err := m.snapshots.Snapshot(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity snapshot: %w", err)
	}

	if len(definition.Trigger.Conditions) > 0 {
		matched, err := conditions.Match(definition.Trigger.Conditions, snapshot.MergeFlat(eventPayload))
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate trigger conditions: %w", err)
		}

		if !matched {
			logger.DebugContext(ctx, "Trigger conditions did not match, not enrolling")

			return nil, ErrTriggerNotMatched
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate enrollment ID: %w", err)
	}

	now := time.Now().UTC()
	enrollment := &models.Enrollment{
		ID:                id.String(),
		AutomationID:      definition.ID,
		EntityType:        entityType,
		EntityID:          entityID,
		OwnerID:           ownerID,
		Status:            models.EnrollmentStatusActive,
		CurrentStepIndex:  0,
		EnteredAt:         now,
		DefinitionVersion: definition.Version,
	}

	err = m.persistence.Enrollments().Create(ctx, enrollment)
	if err != nil {
		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}

	logger.InfoContext(ctx, "Entity enrolled", "enrollment_id", enrollment.ID)

	m.publishCreated(ctx, logger, enrollment)

	// The first tick runs synchronously inside the enroll call so single-step
	// automations finish immediately.
	err = m.engine.Tick(ctx, enrollment.ID, m.workerID)
	if err != nil && !persistence.IsEnrollmentClaimed(err) {
		logger.ErrorContext(ctx, "First tick failed, scheduler will retry", "error", err)
	}

	return m.persistence.Enrollments().ByID(ctx, enrollment.ID)
}

// HandleEntityEvent enrolls the event's entity into every active automation
// triggered by the event type. One automation's rejection does not stop the
// others.
func (m *Manager) HandleEntityEvent(ctx context.Context, event *events.EntityEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	definitions, err := m.persistence.Definitions().ByTriggerEvent(ctx, string(event.Type))
	if err != nil {
		return fmt.Errorf("failed to look up triggered automations: %w", err)
	}

	for _, definition := range definitions {
		_, err := m.Enroll(ctx, definition, event.EntityType, event.EntityID, event.OwnerID, event.Snapshot.Flatten())
		if err != nil {
			if errors.Is(err, ErrTriggerNotMatched) ||
				errors.Is(err, ErrAutomationInactive) ||
				persistence.IsDuplicateActiveEnrollment(err) {
				continue
			}

			m.logger.ErrorContext(ctx, "Failed to enroll from event",
				"automation_id", definition.ID,
				"entity_id", event.EntityID,
				"error", err)
		}
	}

	return nil
}

// PreviewEnrollment returns the entity IDs that would enroll right now, with
// no side effects. Pure evaluation over current snapshots.
func (m *Manager) PreviewEnrollment(ctx context.Context, definition *models.AutomationDefinition, entityType string) ([]string, error) {
	candidates, err := m.snapshots.Candidates(ctx, definition.OwnerID, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate entities: %w", err)
	}

	matched := make([]string, 0)

	for _, candidate := range candidates {
		ok, err := conditions.Match(definition.Trigger.Conditions, candidate.Flatten())
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate trigger conditions: %w", err)
		}

		if !ok {
			continue
		}

		entityID, _ := candidate["id"].(string)
		if entityID != "" {
			matched = append(matched, entityID)
		}
	}

	return matched, nil
}

// Unenroll exits the entity's active enrollment unconditionally. Safe to race
// with an in-flight tick; the tick's stale write is discarded by its own
// status re-check.
func (m *Manager) Unenroll(ctx context.Context, automationID, entityType, entityID string) (*models.Enrollment, error) {
	enrollment, err := m.persistence.Enrollments().ActiveFor(ctx, automationID, entityType, entityID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	exited, err := m.persistence.Enrollments().MarkExited(ctx, enrollment.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to exit enrollment %s: %w", enrollment.ID, err)
	}

	if exited {
		entry := &models.ExecutionLogEntry{
			EnrollmentID: enrollment.ID,
			StepIndex:    enrollment.CurrentStepIndex,
			Outcome:      models.StepOutcomeSkipped,
			Timestamp:    now,
			ErrorDetail:  models.ExitReasonManual,
		}

		err = m.persistence.ExecutionLog().Append(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("failed to log unenroll: %w", err)
		}

		m.logger.InfoContext(ctx, "Entity unenrolled", "enrollment_id", enrollment.ID)

		m.publishFinished(ctx, enrollment)
	}

	return m.persistence.Enrollments().ByID(ctx, enrollment.ID)
}

// ProcessNow forces an immediate tick on the enrollment, outside the
// scheduler cadence. Used for manual recovery after action faults.
func (m *Manager) ProcessNow(ctx context.Context, enrollmentID string) error {
	return m.engine.Tick(ctx, enrollmentID, m.workerID)
}

// Summary returns the enrollment counts per status for an automation.
func (m *Manager) Summary(ctx context.Context, automationID string) (map[models.EnrollmentStatus]int, error) {
	return m.persistence.Enrollments().CountByStatus(ctx, automationID)
}

// EnrolledEntities lists the automation's enrollments, optionally filtered by
// status.
func (m *Manager) EnrolledEntities(ctx context.Context, automationID string, status *models.EnrollmentStatus) ([]*models.Enrollment, error) {
	return m.persistence.Enrollments().ByAutomation(ctx, automationID, status)
}

func (m *Manager) publishCreated(ctx context.Context, logger *slog.Logger, enrollment *models.Enrollment) {
	if m.publisher == nil {
		return
	}

	event := events.EnrollmentCreated{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCreatedEvent),
		EnrollmentID: enrollment.ID,
		AutomationID: enrollment.AutomationID,
		EntityType:   enrollment.EntityType,
		EntityID:     enrollment.EntityID,
		OwnerID:      enrollment.OwnerID,
	}

	err := m.publisher.Publish(ctx, enrollment.ID, event)
	if err != nil {
		logger.WarnContext(ctx, "Failed to publish enrollment created event", "error", err)
	}
}

func (m *Manager) publishFinished(ctx context.Context, enrollment *models.Enrollment) {
	if m.publisher == nil {
		return
	}

	event := events.EnrollmentFinished{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentFinishedEvent),
		EnrollmentID: enrollment.ID,
		AutomationID: enrollment.AutomationID,
		EntityType:   enrollment.EntityType,
		EntityID:     enrollment.EntityID,
		Status:       models.EnrollmentStatusExited,
		Reason:       models.ExitReasonManual,
	}

	err := m.publisher.Publish(ctx, enrollment.ID, event)
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to publish enrollment finished event", "error", err)
	}
}
