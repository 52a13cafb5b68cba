package file_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nurtura/nurtura/pkg/models"
	"github.com/nurtura/nurtura/pkg/persistence"
	"github.com/nurtura/nurtura/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefinition() *models.AutomationDefinition {
	return &models.AutomationDefinition{
		OwnerID:  "owner-1",
		Name:     "Lead nurture",
		IsActive: true,
		Version:  1,
		Trigger:  models.AutomationTrigger{EventType: "entity.created"},
		Steps: []models.Step{
			{
				Index: 0, Type: models.StepTypeAction,
				Action: &models.ActionStepConfig{
					Actions: []models.ActionItem{{Type: "send_email"}},
				},
			},
		},
	}
}

func newEnrollment(automationID string) *models.Enrollment {
	return &models.Enrollment{
		ID:                uuid.New().String(),
		AutomationID:      automationID,
		EntityType:        "contacts",
		EntityID:          uuid.New().String(),
		OwnerID:           "owner-1",
		Status:            models.EnrollmentStatusActive,
		EnteredAt:         time.Now().UTC(),
		DefinitionVersion: 1,
	}
}

func TestDefinitions_SaveAndSoftDelete(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	definition := newDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))
	require.NotEmpty(t, definition.ID)

	loaded, err := p.Definitions().ByID(ctx, definition.ID)
	require.NoError(t, err)
	assert.Equal(t, definition.Name, loaded.Name)

	require.NoError(t, p.Definitions().Delete(ctx, definition.ID))

	_, err = p.Definitions().ByID(ctx, definition.ID)
	assert.True(t, persistence.IsDefinitionNotFound(err))
}

func TestDefinitions_ByTriggerEvent(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	matching := newDefinition()
	require.NoError(t, p.Definitions().Save(ctx, matching))

	inactive := newDefinition()
	inactive.IsActive = false
	require.NoError(t, p.Definitions().Save(ctx, inactive))

	found, err := p.Definitions().ByTriggerEvent(ctx, "entity.created")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, matching.ID, found[0].ID)
}

func TestEnrollments_DuplicateActiveRejected(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	first := newEnrollment("auto-1")
	require.NoError(t, p.Enrollments().Create(ctx, first))

	duplicate := newEnrollment("auto-1")
	duplicate.EntityID = first.EntityID

	err := p.Enrollments().Create(ctx, duplicate)
	assert.True(t, persistence.IsDuplicateActiveEnrollment(err))
}

func TestEnrollments_LeaseLifecycle(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	enrollment := newEnrollment("auto-1")
	require.NoError(t, p.Enrollments().Create(ctx, enrollment))

	claimed, err := p.Enrollments().Claim(ctx, enrollment.ID, "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = p.Enrollments().Claim(ctx, enrollment.ID, "worker-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "foreign live lease must not be claimable")

	enrollment.CurrentStepIndex = 1

	applied, err := p.Enrollments().UpdateFromTick(ctx, enrollment, "worker-a")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = p.Enrollments().UpdateFromTick(ctx, enrollment, "worker-b")
	require.NoError(t, err)
	assert.False(t, applied, "stale token writes must be discarded")

	require.NoError(t, p.Enrollments().Release(ctx, enrollment.ID, "worker-a"))

	claimed, err = p.Enrollments().Claim(ctx, enrollment.ID, "worker-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestEnrollments_ClaimDueSkipsNotDue(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	now := time.Now().UTC()
	future := now.Add(time.Hour)

	due := newEnrollment("auto-1")
	require.NoError(t, p.Enrollments().Create(ctx, due))

	notDue := newEnrollment("auto-1")
	notDue.NextStepAt = &future
	require.NoError(t, p.Enrollments().Create(ctx, notDue))

	claimed, err := p.Enrollments().ClaimDue(ctx, "worker-a", time.Minute, 10, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
}

func TestEnrollments_MarkExitedAndCount(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	enrollment := newEnrollment("auto-1")
	require.NoError(t, p.Enrollments().Create(ctx, enrollment))

	exited, err := p.Enrollments().MarkExited(ctx, enrollment.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, exited)

	// Exiting twice reports false without error.
	exited, err = p.Enrollments().MarkExited(ctx, enrollment.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, exited)

	counts, err := p.Enrollments().CountByStatus(ctx, "auto-1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.EnrollmentStatusExited])
}

func TestExecutionLog_AppendAndRead(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	enrollmentID := uuid.New().String()
	require.NoError(t, p.ExecutionLog().Append(ctx,
		&models.ExecutionLogEntry{EnrollmentID: enrollmentID, StepIndex: 0, Outcome: models.StepOutcomeSuccess, Timestamp: time.Now().UTC()},
		&models.ExecutionLogEntry{EnrollmentID: enrollmentID, StepIndex: 1, Outcome: models.StepOutcomeSkipped, ErrorDetail: "exit_criteria", Timestamp: time.Now().UTC()},
	))

	entries, err := p.ExecutionLog().ByEnrollment(ctx, enrollmentID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.StepOutcomeSkipped, entries[1].Outcome)
}
