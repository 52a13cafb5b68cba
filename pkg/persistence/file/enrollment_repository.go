package file

import (
	"context"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/nurtura/nurtura/pkg/models"
	"github.com/nurtura/nurtura/pkg/persistence"
)

// EnrollmentRepository stores one JSON file per enrollment. The shared lock
// makes claim/update read-modify-write sequences atomic within the process.
type EnrollmentRepository struct {
	root string
	mu   *sync.Mutex
}

func (r *EnrollmentRepository) dir() string {
	return path.Join(r.root, "enrollments")
}

func (r *EnrollmentRepository) ByID(ctx context.Context, id string) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load(id)
}

func (r *EnrollmentRepository) ActiveFor(ctx context.Context, automationID, entityType, entityID string) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollments, err := r.all()
	if err != nil {
		return nil, err
	}

	for _, enrollment := range enrollments {
		if enrollment.Status == models.EnrollmentStatusActive &&
			enrollment.AutomationID == automationID &&
			enrollment.EntityType == entityType &&
			enrollment.EntityID == entityID {
			return enrollment, nil
		}
	}

	return nil, persistence.ErrEnrollmentNotFound
}

func (r *EnrollmentRepository) ByAutomation(ctx context.Context, automationID string, status *models.EnrollmentStatus) ([]*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollments, err := r.all()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Enrollment, 0)

	for _, enrollment := range enrollments {
		if enrollment.AutomationID != automationID {
			continue
		}

		if status != nil && enrollment.Status != *status {
			continue
		}

		matched = append(matched, enrollment)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].EnteredAt.After(matched[j].EnteredAt)
	})

	return matched, nil
}

func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if enrollment.Status == models.EnrollmentStatusActive {
		enrollments, err := r.all()
		if err != nil {
			return err
		}

		for _, existing := range enrollments {
			if existing.Status == models.EnrollmentStatusActive &&
				existing.AutomationID == enrollment.AutomationID &&
				existing.EntityType == enrollment.EntityType &&
				existing.EntityID == enrollment.EntityID {
				return persistence.NewEnrollmentError("Create", enrollment.ID, persistence.ErrDuplicateActiveEnrollment)
			}
		}
	}

	return r.store(enrollment)
}

func (r *EnrollmentRepository) Claim(ctx context.Context, id, token string, leaseFor time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollment, err := r.load(id)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()

	if enrollment.Status != models.EnrollmentStatusActive {
		return false, nil
	}

	if enrollment.ClaimedBy != "" && enrollment.ClaimedBy != token && !enrollment.LeaseExpired(now) {
		return false, nil
	}

	expires := now.Add(leaseFor)
	enrollment.ClaimedBy = token
	enrollment.ClaimExpiresAt = &expires

	return true, r.store(enrollment)
}

func (r *EnrollmentRepository) Release(ctx context.Context, id, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollment, err := r.load(id)
	if err != nil {
		return err
	}

	if enrollment.ClaimedBy != token {
		return nil
	}

	enrollment.ClaimedBy = ""
	enrollment.ClaimExpiresAt = nil

	return r.store(enrollment)
}

func (r *EnrollmentRepository) ClaimDue(ctx context.Context, token string, leaseFor time.Duration, limit int, now time.Time) ([]*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollments, err := r.all()
	if err != nil {
		return nil, err
	}

	sort.Slice(enrollments, func(i, j int) bool {
		left, right := enrollments[i].NextStepAt, enrollments[j].NextStepAt
		if left == nil {
			return true
		}

		if right == nil {
			return false
		}

		return left.Before(*right)
	})

	claimed := make([]*models.Enrollment, 0, limit)
	expires := now.Add(leaseFor)

	for _, enrollment := range enrollments {
		if len(claimed) >= limit {
			break
		}

		if !enrollment.Due(now) {
			continue
		}

		if enrollment.ClaimedBy != "" && !enrollment.LeaseExpired(now) {
			continue
		}

		enrollment.ClaimedBy = token
		enrollment.ClaimExpiresAt = &expires

		if err := r.store(enrollment); err != nil {
			return nil, err
		}

		claimed = append(claimed, enrollment)
	}

	return claimed, nil
}

func (r *EnrollmentRepository) UpdateFromTick(ctx context.Context, enrollment *models.Enrollment, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.load(enrollment.ID)
	if err != nil {
		return false, err
	}

	// Discard stale writes: a raced unenroll already moved the row out of
	// active, or another worker reclaimed an expired lease.
	if stored.Status != models.EnrollmentStatusActive || stored.ClaimedBy != token {
		return false, nil
	}

	stored.Status = enrollment.Status
	stored.CurrentStepIndex = enrollment.CurrentStepIndex
	stored.NextStepAt = enrollment.NextStepAt
	stored.DelayArmed = enrollment.DelayArmed
	stored.CompletedAt = enrollment.CompletedAt
	stored.Metadata = enrollment.Metadata

	return true, r.store(stored)
}

func (r *EnrollmentRepository) MarkExited(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollment, err := r.load(id)
	if err != nil {
		return false, err
	}

	if enrollment.Status != models.EnrollmentStatusActive {
		return false, nil
	}

	enrollment.Status = models.EnrollmentStatusExited
	enrollment.CompletedAt = &at
	enrollment.NextStepAt = nil

	return true, r.store(enrollment)
}

func (r *EnrollmentRepository) CountByStatus(ctx context.Context, automationID string) (map[models.EnrollmentStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollments, err := r.all()
	if err != nil {
		return nil, err
	}

	counts := make(map[models.EnrollmentStatus]int)

	for _, enrollment := range enrollments {
		if enrollment.AutomationID == automationID {
			counts[enrollment.Status]++
		}
	}

	return counts, nil
}

func (r *EnrollmentRepository) all() ([]*models.Enrollment, error) {
	ids, err := listJSONFiles(r.dir())
	if err != nil {
		return nil, err
	}

	enrollments := make([]*models.Enrollment, 0, len(ids))

	for _, id := range ids {
		enrollment, err := r.load(id)
		if err != nil {
			return nil, err
		}

		enrollments = append(enrollments, enrollment)
	}

	return enrollments, nil
}

func (r *EnrollmentRepository) load(id string) (*models.Enrollment, error) {
	var enrollment models.Enrollment

	err := readJSON(path.Join(r.dir(), id+".json"), &enrollment)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewEnrollmentError("load", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, err
	}

	return &enrollment, nil
}

func (r *EnrollmentRepository) store(enrollment *models.Enrollment) error {
	return writeJSON(path.Join(r.dir(), enrollment.ID+".json"), enrollment)
}
