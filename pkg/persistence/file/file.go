// Package file provides file-based persistence for local development and
// tests. All conditional updates are serialized behind a process-local lock,
// which is enough for a single-process deployment.
package file

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/nurtura/nurtura/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface on the file system.
type Persistence struct {
	root           string
	mu             sync.Mutex
	definitionRepo *DefinitionRepository
	enrollmentRepo *EnrollmentRepository
	logRepo        *ExecutionLogRepository
}

// NewPersistence creates a new file persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.definitionRepo = &DefinitionRepository{root: cleanRoot, mu: &p.mu}
	p.enrollmentRepo = &EnrollmentRepository{root: cleanRoot, mu: &p.mu}
	p.logRepo = &ExecutionLogRepository{root: cleanRoot, mu: &p.mu}

	return p
}

// Close performs any necessary cleanup. Nothing to do for files.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) Definitions() persistence.DefinitionRepository {
	return p.definitionRepo
}

func (p *Persistence) Enrollments() persistence.EnrollmentRepository {
	return p.enrollmentRepo
}

func (p *Persistence) ExecutionLog() persistence.ExecutionLogRepository {
	return p.logRepo
}
