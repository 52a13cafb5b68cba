package enrollment

import (
	"context"
	"log/slog"
	"testing"

	"github.com/nurtura/nurtura/pkg/actions/sendemail"
	"github.com/nurtura/nurtura/pkg/crm"
	"github.com/nurtura/nurtura/pkg/dedupe"
	"github.com/nurtura/nurtura/pkg/engine"
	"github.com/nurtura/nurtura/pkg/events"
	"github.com/nurtura/nurtura/pkg/models"
	"github.com/nurtura/nurtura/pkg/persistence"
	"github.com/nurtura/nurtura/pkg/persistence/file"
	"github.com/nurtura/nurtura/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	manager *Manager
	persist *file.Persistence
	backend *crm.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	backend := crm.NewMemory()

	reg := registry.NewRegistry(slog.Default())
	reg.RegisterAction(sendemail.NewActionFactory(backend))

	eng := engine.NewEngine(slog.Default(), persist, reg, backend, dedupe.NewMemoryStore(), nil)
	manager := NewManager(slog.Default(), persist, eng, backend, nil)

	return &fixture{manager: manager, persist: persist, backend: backend}
}

func intPtr(v int) *int { return &v }

func welcomeDefinition() *models.AutomationDefinition {
	return &models.AutomationDefinition{
		ID: "auto-1", OwnerID: "owner-1", Name: "Welcome", IsActive: true, Version: 1,
		Trigger: models.AutomationTrigger{
			EventType: string(events.EntityCreatedEvent),
			Conditions: []models.Condition{
				{Field: "lifecycle_stage", Operator: models.OperatorEquals, Value: "lead"},
			},
		},
		Steps: []models.Step{
			{
				Index: 0, Type: models.StepTypeAction,
				Action: &models.ActionStepConfig{
					Actions: []models.ActionItem{
						{Type: "send_email", Configuration: map[string]any{"template": "welcome"}},
					},
				},
				NextStepIndex: intPtr(1),
			},
			{
				Index: 1, Type: models.StepTypeDelay,
				Delay: &models.DelayStepConfig{Value: 1, Unit: models.DelayUnitDays},
			},
		},
	}
}

func (f *fixture) saveDefinition(t *testing.T, def *models.AutomationDefinition) {
	t.Helper()
	require.NoError(t, f.persist.Definitions().Save(context.Background(), def))
}

func TestEnroll_CreatesAndRunsFirstTick(t *testing.T) {
	f := newFixture(t)
	def := welcomeDefinition()
	f.saveDefinition(t, def)
	f.backend.PutEntity("contacts", "c1", "owner-1", map[string]any{"lifecycle_stage": "lead"})

	enrollment, err := f.manager.Enroll(context.Background(), def, "contacts", "c1", "owner-1", nil)
	require.NoError(t, err)

	// The synchronous first tick ran the action and armed the delay.
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, 1, enrollment.CurrentStepIndex)
	assert.True(t, enrollment.DelayArmed)
	assert.Len(t, f.backend.Emails, 1)
}

func TestEnroll_RejectsDuplicateActive(t *testing.T) {
	f := newFixture(t)
	def := welcomeDefinition()
	f.saveDefinition(t, def)
	f.backend.PutEntity("contacts", "c1", "owner-1", map[string]any{"lifecycle_stage": "lead"})

	_, err := f.manager.Enroll(context.Background(), def, "contacts", "c1", "owner-1", nil)
	require.NoError(t, err)

	_, err = f.manager.Enroll(context.Background(), def, "contacts", "c1", "owner-1", nil)
	assert.True(t, persistence.IsDuplicateActiveEnrollment(err))
	assert.Len(t, f.backend.Emails, 1)
}

func TestEnroll_TriggerFilterRejects(t *testing.T) {
	f := newFixture(t)
	def := welcomeDefinition()
	f.saveDefinition(t, def)
	f.backend.PutEntity("contacts", "c1", "owner-1", map[string]any{"lifecycle_stage": "customer"})

	_, err := f.manager.Enroll(context.Background(), def, "contacts", "c1", "owner-1", nil)
	assert.ErrorIs(t, err, ErrTriggerNotMatched)
}

func TestEnroll_PayloadWinsOverSnapshot(t *testing.T) {
	f := newFixture(t)
	def := welcomeDefinition()
	f.saveDefinition(t, def)

	// Snapshot says customer; the event payload carries the fresher value.
	f.backend.PutEntity("contacts", "c1", "owner-1", map[string]any{"lifecycle_stage": "customer"})

	enrollment, err := f.manager.Enroll(context.Background(), def, "contacts", "c1", "owner-1",
		map[string]any{"lifecycle_stage": "lead"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
}

func TestEnroll_InactiveAutomationRejected(t *testing.T) {
	f := newFixture(t)
	def := welcomeDefinition()
	def.IsActive = false
	f.saveDefinition(t, def)
	f.backend.PutEntity("contacts", "c1", "owner-1", map[string]any{"lifecycle_stage": "lead"})

	_, err := f.manager.Enroll(context.Background(), def, "contacts", "c1", "owner-1", nil)
	assert.ErrorIs(t, err, ErrAutomationInactive)
}

func TestHandleEntityEvent_EnrollsMatchingAutomations(t *testing.T) {
	f := newFixture(t)
	def := welcomeDefinition()
	f.saveDefinition(t, def)
	f.backend.PutEntity("contacts", "c1", "owner-1", map[string]any{"lifecycle_stage": "lead"})

	event := &events.EntityEvent{
		BaseEvent:  events.NewBaseEvent(events.EntityCreatedEvent),
		OwnerID:    "owner-1",
		EntityType: "contacts",
		EntityID:   "c1",
		Snapshot:   map[string]any{"lifecycle_stage": "lead"},
	}

	require.NoError(t, f.manager.HandleEntityEvent(context.Background(), event))

	active := models.EnrollmentStatusActive
	enrollments, err := f.persist.Enrollments().ByAutomation(context.Background(), def.ID, &active)
	require.NoError(t, err)
	assert.Len(t, enrollments, 1)
}

func TestHandleEntityEvent_InvalidEventRejected(t *testing.T) {
	f := newFixture(t)

	event := &events.EntityEvent{BaseEvent: events.NewBaseEvent(events.EntityCreatedEvent)}

	err := f.manager.HandleEntityEvent(context.Background(), event)
	assert.ErrorIs(t, err, events.ErrInvalidEventData)
}

func TestPreviewEnrollment_NoSideEffects(t *testing.T) {
	f := newFixture(t)
	def := welcomeDefinition()
	f.saveDefinition(t, def)
	f.backend.PutEntity("contacts", "c1", "owner-1", map[string]any{"lifecycle_stage": "lead"})
	f.backend.PutEntity("contacts", "c2", "owner-1", map[string]any{"lifecycle_stage": "customer"})
	f.backend.PutEntity("contacts", "c3", "owner-2", map[string]any{"lifecycle_stage": "lead"})

	matched, err := f.manager.PreviewEnrollment(context.Background(), def, "contacts")
	require.NoError(t, err)

	assert.Equal(t, []string{"c1"}, matched)
	assert.Empty(t, f.backend.Emails)

	counts, err := f.manager.Summary(context.Background(), def.ID)
	require.NoError(t, err)
	assert.Zero(t, counts[models.EnrollmentStatusActive])
}

func TestUnenroll_ExitsActiveEnrollment(t *testing.T) {
	f := newFixture(t)
	def := welcomeDefinition()
	f.saveDefinition(t, def)
	f.backend.PutEntity("contacts", "c1", "owner-1", map[string]any{"lifecycle_stage": "lead"})

	enrollment, err := f.manager.Enroll(context.Background(), def, "contacts", "c1", "owner-1", nil)
	require.NoError(t, err)

	exited, err := f.manager.Unenroll(context.Background(), def.ID, "contacts", "c1")
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusExited, exited.Status)
	assert.NotNil(t, exited.CompletedAt)

	entries, err := f.persist.ExecutionLog().ByEnrollment(context.Background(), enrollment.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, models.ExitReasonManual, entries[len(entries)-1].ErrorDetail)

	// A second unenroll finds nothing active.
	_, err = f.manager.Unenroll(context.Background(), def.ID, "contacts", "c1")
	assert.True(t, persistence.IsEnrollmentNotFound(err))
}
