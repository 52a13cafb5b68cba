package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nurtura/nurtura/pkg/models"
)

// ExecutionLogRepository handles the append-only execution log.
type ExecutionLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionLogRepository creates a new execution log repository.
func NewExecutionLogRepository(db *sql.DB, logger *slog.Logger) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db, logger: logger}
}

// Append writes the entries in one transaction so a tick's transitions land
// together.
func (r *ExecutionLogRepository) Append(ctx context.Context, entries ...*models.ExecutionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, entry := range entries {
		if entry.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				_ = tx.Rollback()

				return fmt.Errorf("failed to generate log entry ID: %w", err)
			}

			entry.ID = id.String()
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO execution_log (id, enrollment_id, step_index, outcome, error_detail, created_at)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
			entry.ID,
			entry.EnrollmentID,
			entry.StepIndex,
			entry.Outcome,
			entry.ErrorDetail,
			entry.Timestamp,
		)
		if err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("failed to insert log entry: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit log entries: %w", err)
	}

	return nil
}

func (r *ExecutionLogRepository) ByEnrollment(ctx context.Context, enrollmentID string) ([]*models.ExecutionLogEntry, error) {
	query := `
		SELECT id, enrollment_id, step_index, outcome, COALESCE(error_detail, ''), created_at
		FROM execution_log
		WHERE enrollment_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution log: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.ExecutionLogEntry, 0)

	for rows.Next() {
		var entry models.ExecutionLogEntry

		err := rows.Scan(
			&entry.ID,
			&entry.EnrollmentID,
			&entry.StepIndex,
			&entry.Outcome,
			&entry.ErrorDetail,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating log entries: %w", err)
	}

	return entries, nil
}
