package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nurtura/nurtura/pkg/models"
	"github.com/nurtura/nurtura/pkg/persistence"
)

// DefinitionRepository handles automation definition database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

const definitionColumns = `
	id
  , owner_id
  , name
  , trigger
  , is_multi_step
  , steps
  , exit_criteria
  , max_duration_days
  , safety_exit_enabled
  , is_active
  , version
  , created_at
  , updated_at
  , deleted_at
`

func (r *DefinitionRepository) All(ctx context.Context) ([]*models.AutomationDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM automation_definitions
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	definitions := make([]*models.AutomationDefinition, 0)

	for rows.Next() {
		definition, err := r.scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return definitions, nil
}

func (r *DefinitionRepository) ByID(ctx context.Context, id string) (*models.AutomationDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM automation_definitions
		WHERE id = $1 AND deleted_at IS NULL
	`

	definition, err := r.scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewDefinitionError("ByID", id, persistence.ErrDefinitionNotFound)
		}

		return nil, fmt.Errorf("failed to scan definition: %w", err)
	}

	return definition, nil
}

func (r *DefinitionRepository) ByTriggerEvent(ctx context.Context, eventType string) ([]*models.AutomationDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM automation_definitions
		WHERE deleted_at IS NULL
		  AND is_active = true
		  AND trigger->>'event_type' = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions by trigger event: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	definitions := make([]*models.AutomationDefinition, 0)

	for rows.Next() {
		definition, err := r.scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return definitions, nil
}

// Save upserts a definition; the steps column is replaced wholesale.
func (r *DefinitionRepository) Save(ctx context.Context, definition *models.AutomationDefinition) error {
	now := time.Now().UTC()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate definition ID: %w", err)
		}

		definition.ID = id.String()
	}

	triggerJSON, err := json.Marshal(definition.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	stepsJSON, err := json.Marshal(definition.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	exitCriteriaJSON, err := json.Marshal(definition.ExitCriteria)
	if err != nil {
		return fmt.Errorf("failed to marshal exit criteria: %w", err)
	}

	query := `
		INSERT INTO automation_definitions (id, owner_id, name, trigger, is_multi_step, steps,
			exit_criteria, max_duration_days, safety_exit_enabled, is_active, version,
			created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			trigger = EXCLUDED.trigger,
			is_multi_step = EXCLUDED.is_multi_step,
			steps = EXCLUDED.steps,
			exit_criteria = EXCLUDED.exit_criteria,
			max_duration_days = EXCLUDED.max_duration_days,
			safety_exit_enabled = EXCLUDED.safety_exit_enabled,
			is_active = EXCLUDED.is_active,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = r.db.ExecContext(ctx, query,
		definition.ID,
		definition.OwnerID,
		definition.Name,
		triggerJSON,
		definition.IsMultiStep,
		stepsJSON,
		exitCriteriaJSON,
		definition.MaxDurationDays,
		definition.SafetyExitEnabled,
		definition.IsActive,
		definition.Version,
		definition.CreatedAt,
		definition.UpdatedAt,
		definition.DeletedAt,
	)
	if err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	return nil
}

// Delete soft deletes a definition by setting deleted_at.
func (r *DefinitionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE automation_definitions SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *DefinitionRepository) scanDefinition(row rowScanner) (*models.AutomationDefinition, error) {
	var (
		definition       models.AutomationDefinition
		triggerJSON      []byte
		stepsJSON        []byte
		exitCriteriaJSON []byte
		deletedAt        sql.NullTime
	)

	err := row.Scan(
		&definition.ID,
		&definition.OwnerID,
		&definition.Name,
		&triggerJSON,
		&definition.IsMultiStep,
		&stepsJSON,
		&exitCriteriaJSON,
		&definition.MaxDurationDays,
		&definition.SafetyExitEnabled,
		&definition.IsActive,
		&definition.Version,
		&definition.CreatedAt,
		&definition.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(triggerJSON, &definition.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}

	if err := json.Unmarshal(stepsJSON, &definition.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	if len(exitCriteriaJSON) > 0 {
		if err := json.Unmarshal(exitCriteriaJSON, &definition.ExitCriteria); err != nil {
			return nil, fmt.Errorf("failed to unmarshal exit criteria: %w", err)
		}
	}

	if deletedAt.Valid {
		definition.DeletedAt = &deletedAt.Time
	}

	return &definition, nil
}
