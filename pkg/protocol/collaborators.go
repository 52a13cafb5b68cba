package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/nurtura/nurtura/pkg/models"
)

// ErrEntityNotFound is returned by SnapshotSource when the underlying entity
// no longer exists. The engine fails the enrollment when it sees it mid-tick.
var ErrEntityNotFound = errors.New("entity not found")

// SnapshotSource reads entity state from the CRM CRUD subsystem. Snapshots are
// read fresh every tick with no isolation guarantee against concurrent edits.
type SnapshotSource interface {
	// Snapshot returns the current state of one entity.
	Snapshot(ctx context.Context, entityType, entityID string) (models.EntitySnapshot, error)

	// Candidates returns the snapshots of all entities of the given type owned
	// by ownerID. Each snapshot must carry its entity id under the "id" key.
	// Used by enrollment previews.
	Candidates(ctx context.Context, ownerID, entityType string) ([]models.EntitySnapshot, error)
}

// EmailSender delivers an email to an entity's contact address. Either a
// template name or a literal message is given, never both.
type EmailSender interface {
	SendEmail(ctx context.Context, entityID, template, message string) error
}

// TaskCreator creates a task or reminder attached to an entity.
type TaskCreator interface {
	CreateTask(ctx context.Context, entityID string, dueAt time.Time, text string) error
}

// FieldUpdater mutates a single field of an entity.
type FieldUpdater interface {
	UpdateEntityField(ctx context.Context, entityType, entityID, field string, value any) error
}
