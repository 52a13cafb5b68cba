package file

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/nurtura/nurtura/pkg/models"
)

// ExecutionLogRepository stores one JSON file per enrollment holding its
// ordered log entries.
type ExecutionLogRepository struct {
	root string
	mu   *sync.Mutex
}

func (r *ExecutionLogRepository) dir() string {
	return path.Join(r.root, "execution_log")
}

func (r *ExecutionLogRepository) Append(ctx context.Context, entries ...*models.ExecutionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byEnrollment := make(map[string][]*models.ExecutionLogEntry)

	for _, entry := range entries {
		if entry.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate log entry ID: %w", err)
			}

			entry.ID = id.String()
		}

		byEnrollment[entry.EnrollmentID] = append(byEnrollment[entry.EnrollmentID], entry)
	}

	for enrollmentID, newEntries := range byEnrollment {
		existing, err := r.load(enrollmentID)
		if err != nil {
			return err
		}

		existing = append(existing, newEntries...)

		if err := writeJSON(path.Join(r.dir(), enrollmentID+".json"), existing); err != nil {
			return err
		}
	}

	return nil
}

func (r *ExecutionLogRepository) ByEnrollment(ctx context.Context, enrollmentID string) ([]*models.ExecutionLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load(enrollmentID)
}

func (r *ExecutionLogRepository) load(enrollmentID string) ([]*models.ExecutionLogEntry, error) {
	entries := make([]*models.ExecutionLogEntry, 0)

	err := readJSON(path.Join(r.dir(), enrollmentID+".json"), &entries)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return entries, nil
}
