package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nurtura/nurtura/pkg/models"
	"github.com/nurtura/nurtura/pkg/persistence"
	"github.com/nurtura/nurtura/pkg/persistence/postgresql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"execution_log", "enrollments", "automation_definitions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("nurtura_test"),
			postgres.WithUsername("nurtura"),
			postgres.WithPassword("nurtura"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	persist, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = persist.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return persist, ctx, databaseURL
}

func newDefinition() *models.AutomationDefinition {
	next := 1

	return &models.AutomationDefinition{
		OwnerID:     "owner-1",
		Name:        "Lead nurture",
		IsMultiStep: true,
		IsActive:    true,
		Version:     1,
		Trigger: models.AutomationTrigger{
			EventType: "entity.created",
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
				NextStepIndex: &next,
			},
			{
				Index: 1, Type: models.StepTypeDelay,
				Delay: &models.DelayStepConfig{Value: 2, Unit: models.DelayUnitDays},
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
		EnteredAt:         time.Now().UTC().Truncate(time.Millisecond),
		DefinitionVersion: 1,
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'automation_definitions')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "automation_definitions table should exist")

	var version int

	err = db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE version = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestDefinitionRepository_SaveAndRetrieve(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := newDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))
	require.NotEmpty(t, definition.ID)

	loaded, err := p.Definitions().ByID(ctx, definition.ID)
	require.NoError(t, err)

	assert.Equal(t, definition.Name, loaded.Name)
	assert.Equal(t, definition.Trigger, loaded.Trigger)
	assert.Len(t, loaded.Steps, 2)
	require.NotNil(t, loaded.Steps[0].NextStepIndex)
	assert.Equal(t, 1, *loaded.Steps[0].NextStepIndex)
}

func TestDefinitionRepository_ByTriggerEvent(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	matching := newDefinition()
	require.NoError(t, p.Definitions().Save(ctx, matching))

	inactive := newDefinition()
	inactive.IsActive = false
	require.NoError(t, p.Definitions().Save(ctx, inactive))

	other := newDefinition()
	other.Trigger.EventType = "deal.stage_changed"
	require.NoError(t, p.Definitions().Save(ctx, other))

	found, err := p.Definitions().ByTriggerEvent(ctx, "entity.created")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, matching.ID, found[0].ID)
}

func TestDefinitionRepository_SoftDelete(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := newDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))
	require.NoError(t, p.Definitions().Delete(ctx, definition.ID))

	_, err := p.Definitions().ByID(ctx, definition.ID)
	assert.True(t, persistence.IsDefinitionNotFound(err))

	all, err := p.Definitions().All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestEnrollmentRepository_UniqueActivePerEntity(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := newDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	first := newEnrollment(definition.ID)
	require.NoError(t, p.Enrollments().Create(ctx, first))

	duplicate := newEnrollment(definition.ID)
	duplicate.EntityID = first.EntityID

	err := p.Enrollments().Create(ctx, duplicate)
	assert.True(t, persistence.IsDuplicateActiveEnrollment(err))

	active, err := p.Enrollments().ActiveFor(ctx, definition.ID, first.EntityType, first.EntityID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
}

func TestEnrollmentRepository_ClaimAndRelease(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := newDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	enrollment := newEnrollment(definition.ID)
	require.NoError(t, p.Enrollments().Create(ctx, enrollment))

	claimed, err := p.Enrollments().Claim(ctx, enrollment.ID, "worker-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Same token re-claims; a foreign token is refused while the lease lives.
	claimed, err = p.Enrollments().Claim(ctx, enrollment.ID, "worker-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = p.Enrollments().Claim(ctx, enrollment.ID, "worker-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, p.Enrollments().Release(ctx, enrollment.ID, "worker-a"))

	claimed, err = p.Enrollments().Claim(ctx, enrollment.ID, "worker-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestEnrollmentRepository_ClaimReclaimsExpiredLease(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := newDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	enrollment := newEnrollment(definition.ID)
	require.NoError(t, p.Enrollments().Create(ctx, enrollment))

	claimed, err := p.Enrollments().Claim(ctx, enrollment.ID, "worker-a", -time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = p.Enrollments().Claim(ctx, enrollment.ID, "worker-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestEnrollmentRepository_ClaimDue(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := newDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	due := newEnrollment(definition.ID)
	due.NextStepAt = &past
	require.NoError(t, p.Enrollments().Create(ctx, due))

	immediate := newEnrollment(definition.ID)
	require.NoError(t, p.Enrollments().Create(ctx, immediate))

	notDue := newEnrollment(definition.ID)
	notDue.NextStepAt = &future
	require.NoError(t, p.Enrollments().Create(ctx, notDue))

	claimed, err := p.Enrollments().ClaimDue(ctx, "worker-a", time.Minute, 10, now)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	for _, e := range claimed {
		assert.NotEqual(t, notDue.ID, e.ID)
		assert.Equal(t, "worker-a", e.ClaimedBy)
	}

	// A second sweep finds nothing new while the leases live.
	again, err := p.Enrollments().ClaimDue(ctx, "worker-b", time.Minute, 10, now)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestEnrollmentRepository_UpdateFromTick(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := newDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	enrollment := newEnrollment(definition.ID)
	require.NoError(t, p.Enrollments().Create(ctx, enrollment))

	claimed, err := p.Enrollments().Claim(ctx, enrollment.ID, "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	resume := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Millisecond)
	enrollment.CurrentStepIndex = 1
	enrollment.DelayArmed = true
	enrollment.NextStepAt = &resume

	applied, err := p.Enrollments().UpdateFromTick(ctx, enrollment, "worker-a")
	require.NoError(t, err)
	assert.True(t, applied)

	loaded, err := p.Enrollments().ByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.CurrentStepIndex)
	assert.True(t, loaded.DelayArmed)
	require.NotNil(t, loaded.NextStepAt)
	assert.WithinDuration(t, resume, *loaded.NextStepAt, time.Second)

	// A write under a token that no longer holds the lease is discarded.
	applied, err = p.Enrollments().UpdateFromTick(ctx, enrollment, "worker-b")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestEnrollmentRepository_UpdateFromTickDiscardedAfterExit(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := newDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	enrollment := newEnrollment(definition.ID)
	require.NoError(t, p.Enrollments().Create(ctx, enrollment))

	claimed, err := p.Enrollments().Claim(ctx, enrollment.ID, "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	exited, err := p.Enrollments().MarkExited(ctx, enrollment.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, exited)

	enrollment.CurrentStepIndex = 1

	applied, err := p.Enrollments().UpdateFromTick(ctx, enrollment, "worker-a")
	require.NoError(t, err)
	assert.False(t, applied)

	loaded, err := p.Enrollments().ByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusExited, loaded.Status)
	assert.Equal(t, 0, loaded.CurrentStepIndex)
}

func TestEnrollmentRepository_CountByStatus(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := newDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	active := newEnrollment(definition.ID)
	require.NoError(t, p.Enrollments().Create(ctx, active))

	finished := newEnrollment(definition.ID)
	require.NoError(t, p.Enrollments().Create(ctx, finished))

	exited, err := p.Enrollments().MarkExited(ctx, finished.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, exited)

	counts, err := p.Enrollments().CountByStatus(ctx, definition.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.EnrollmentStatusActive])
	assert.Equal(t, 1, counts[models.EnrollmentStatusExited])
}

func TestExecutionLogRepository_AppendAndRead(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	definition := newDefinition()
	require.NoError(t, p.Definitions().Save(ctx, definition))

	enrollment := newEnrollment(definition.ID)
	require.NoError(t, p.Enrollments().Create(ctx, enrollment))

	base := time.Now().UTC().Truncate(time.Millisecond)
	entries := []*models.ExecutionLogEntry{
		{EnrollmentID: enrollment.ID, StepIndex: 0, Outcome: models.StepOutcomeSuccess, Timestamp: base},
		{EnrollmentID: enrollment.ID, StepIndex: 1, Outcome: models.StepOutcomeFailure, ErrorDetail: "boom", Timestamp: base.Add(time.Second)},
	}
	require.NoError(t, p.ExecutionLog().Append(ctx, entries...))

	loaded, err := p.ExecutionLog().ByEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, 0, loaded[0].StepIndex)
	assert.Equal(t, models.StepOutcomeSuccess, loaded[0].Outcome)
	assert.Equal(t, 1, loaded[1].StepIndex)
	assert.Equal(t, "boom", loaded[1].ErrorDetail)
}
