package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/nurtura/nurtura/pkg/models"
	"github.com/nurtura/nurtura/pkg/persistence"
)

// EnrollmentRepository handles enrollment database operations, including the
// lease protocol the scheduler and engine rely on.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEnrollmentRepository creates a new enrollment repository.
func NewEnrollmentRepository(db *sql.DB, logger *slog.Logger) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, logger: logger}
}

const enrollmentColumns = `
	id
  , automation_id
  , entity_type
  , entity_id
  , owner_id
  , status
  , current_step_index
  , next_step_at
  , delay_armed
  , entered_at
  , completed_at
  , definition_version
  , metadata
  , claimed_by
  , claim_expires_at
`

func (r *EnrollmentRepository) ByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`

	enrollment, err := scanEnrollment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEnrollmentError("ByID", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) ActiveFor(ctx context.Context, automationID, entityType, entityID string) (*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE automation_id = $1 AND entity_type = $2 AND entity_id = $3 AND status = 'active'
	`

	enrollment, err := scanEnrollment(r.db.QueryRowContext(ctx, query, automationID, entityType, entityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEnrollmentNotFound
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) ByAutomation(ctx context.Context, automationID string, status *models.EnrollmentStatus) ([]*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE automation_id = $1 AND ($2::varchar IS NULL OR status = $2)
		ORDER BY entered_at DESC
	`

	var statusArg any
	if status != nil {
		statusArg = string(*status)
	}

	rows, err := r.db.QueryContext(ctx, query, automationID, statusArg)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	return collectEnrollments(rows)
}

func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	metadataJSON, err := json.Marshal(enrollment.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO enrollments (id, automation_id, entity_type, entity_id, owner_id, status,
			current_step_index, next_step_at, delay_armed, entered_at, completed_at,
			definition_version, metadata, claimed_by, claim_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15)
	`

	_, err = r.db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.AutomationID,
		enrollment.EntityType,
		enrollment.EntityID,
		enrollment.OwnerID,
		enrollment.Status,
		enrollment.CurrentStepIndex,
		enrollment.NextStepAt,
		enrollment.DelayArmed,
		enrollment.EnteredAt,
		enrollment.CompletedAt,
		enrollment.DefinitionVersion,
		metadataJSON,
		enrollment.ClaimedBy,
		enrollment.ClaimExpiresAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return persistence.NewEnrollmentError("Create", enrollment.ID, persistence.ErrDuplicateActiveEnrollment)
		}

		return persistence.NewEnrollmentError("Create", enrollment.ID, err)
	}

	return nil
}

// Claim acquires the lease via a compare-and-swap update. Re-claiming with the
// same token extends the lease.
func (r *EnrollmentRepository) Claim(ctx context.Context, id, token string, leaseFor time.Duration) (bool, error) {
	now := time.Now().UTC()

	query := `
		UPDATE enrollments
		SET claimed_by = $2, claim_expires_at = $3
		WHERE id = $1
		  AND status = 'active'
		  AND (claimed_by IS NULL OR claim_expires_at < $4 OR claimed_by = $2)
	`

	result, err := r.db.ExecContext(ctx, query, id, token, now.Add(leaseFor), now)
	if err != nil {
		return false, persistence.NewEnrollmentError("Claim", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected > 0, nil
}

// Release drops the lease if token still holds it.
func (r *EnrollmentRepository) Release(ctx context.Context, id, token string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE enrollments SET claimed_by = NULL, claim_expires_at = NULL WHERE id = $1 AND claimed_by = $2`,
		id, token,
	)
	if err != nil {
		return persistence.NewEnrollmentError("Release", id, err)
	}

	return nil
}

// ClaimDue claims up to limit due enrollments in one statement. SKIP LOCKED
// keeps concurrent sweepers from blocking on each other's rows.
func (r *EnrollmentRepository) ClaimDue(ctx context.Context, token string, leaseFor time.Duration, limit int, now time.Time) ([]*models.Enrollment, error) {
	query := `
		UPDATE enrollments
		SET claimed_by = $1, claim_expires_at = $2
		WHERE id IN (
			SELECT id FROM enrollments
			WHERE status = 'active'
			  AND (next_step_at IS NULL OR next_step_at <= $3)
			  AND (claimed_by IS NULL OR claim_expires_at < $3)
			ORDER BY next_step_at NULLS FIRST
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + enrollmentColumns

	rows, err := r.db.QueryContext(ctx, query, token, now.Add(leaseFor), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due enrollments: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	return collectEnrollments(rows)
}

// UpdateFromTick persists a tick's transition only while the row is still
// active and leased by token; a raced unenroll makes the write a no-op.
func (r *EnrollmentRepository) UpdateFromTick(ctx context.Context, enrollment *models.Enrollment, token string) (bool, error) {
	metadataJSON, err := json.Marshal(enrollment.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		UPDATE enrollments
		SET status = $2,
			current_step_index = $3,
			next_step_at = $4,
			delay_armed = $5,
			completed_at = $6,
			metadata = $7
		WHERE id = $1 AND status = 'active' AND claimed_by = $8
	`

	result, err := r.db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.Status,
		enrollment.CurrentStepIndex,
		enrollment.NextStepAt,
		enrollment.DelayArmed,
		enrollment.CompletedAt,
		metadataJSON,
		token,
	)
	if err != nil {
		return false, persistence.NewEnrollmentError("UpdateFromTick", enrollment.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected > 0, nil
}

// MarkExited unconditionally exits an active enrollment, regardless of leases.
func (r *EnrollmentRepository) MarkExited(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE enrollments SET status = 'exited', completed_at = $2, next_step_at = NULL WHERE id = $1 AND status = 'active'`,
		id, at,
	)
	if err != nil {
		return false, persistence.NewEnrollmentError("MarkExited", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected > 0, nil
}

func (r *EnrollmentRepository) CountByStatus(ctx context.Context, automationID string) (map[models.EnrollmentStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM enrollments WHERE automation_id = $1 GROUP BY status`,
		automationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count enrollments: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	counts := make(map[models.EnrollmentStatus]int)

	for rows.Next() {
		var (
			status models.EnrollmentStatus
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}

		counts[status] = count
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}

	return counts, nil
}

func scanEnrollment(row rowScanner) (*models.Enrollment, error) {
	var (
		enrollment     models.Enrollment
		nextStepAt     sql.NullTime
		completedAt    sql.NullTime
		metadataJSON   []byte
		claimedBy      sql.NullString
		claimExpiresAt sql.NullTime
	)

	err := row.Scan(
		&enrollment.ID,
		&enrollment.AutomationID,
		&enrollment.EntityType,
		&enrollment.EntityID,
		&enrollment.OwnerID,
		&enrollment.Status,
		&enrollment.CurrentStepIndex,
		&nextStepAt,
		&enrollment.DelayArmed,
		&enrollment.EnteredAt,
		&completedAt,
		&enrollment.DefinitionVersion,
		&metadataJSON,
		&claimedBy,
		&claimExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	if nextStepAt.Valid {
		enrollment.NextStepAt = &nextStepAt.Time
	}

	if completedAt.Valid {
		enrollment.CompletedAt = &completedAt.Time
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &enrollment.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	if claimedBy.Valid {
		enrollment.ClaimedBy = claimedBy.String
	}

	if claimExpiresAt.Valid {
		enrollment.ClaimExpiresAt = &claimExpiresAt.Time
	}

	return &enrollment, nil
}

func collectEnrollments(rows *sql.Rows) ([]*models.Enrollment, error) {
	enrollments := make([]*models.Enrollment, 0)

	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}
