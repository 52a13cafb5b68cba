package file

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nurtura/nurtura/pkg/models"
	"github.com/nurtura/nurtura/pkg/persistence"
)

// DefinitionRepository stores one JSON file per automation definition.
type DefinitionRepository struct {
	root string
	mu   *sync.Mutex
}

func (r *DefinitionRepository) dir() string {
	return path.Join(r.root, "definitions")
}

func (r *DefinitionRepository) All(ctx context.Context) ([]*models.AutomationDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.all()
}

func (r *DefinitionRepository) all() ([]*models.AutomationDefinition, error) {
	ids, err := listJSONFiles(r.dir())
	if err != nil {
		return nil, err
	}

	definitions := make([]*models.AutomationDefinition, 0, len(ids))

	for _, id := range ids {
		definition, err := r.load(id)
		if err != nil {
			return nil, err
		}

		if definition.DeletedAt != nil {
			continue
		}

		definitions = append(definitions, definition)
	}

	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].CreatedAt.After(definitions[j].CreatedAt)
	})

	return definitions, nil
}

func (r *DefinitionRepository) ByID(ctx context.Context, id string) (*models.AutomationDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	definition, err := r.load(id)
	if err != nil {
		return nil, err
	}

	if definition.DeletedAt != nil {
		return nil, persistence.NewDefinitionError("ByID", id, persistence.ErrDefinitionNotFound)
	}

	return definition, nil
}

func (r *DefinitionRepository) ByTriggerEvent(ctx context.Context, eventType string) ([]*models.AutomationDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.all()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.AutomationDefinition, 0)

	for _, definition := range all {
		if definition.IsActive && definition.Trigger.EventType == eventType {
			matched = append(matched, definition)
		}
	}

	return matched, nil
}

func (r *DefinitionRepository) Save(ctx context.Context, definition *models.AutomationDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

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

	return writeJSON(path.Join(r.dir(), definition.ID+".json"), definition)
}

func (r *DefinitionRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	definition, err := r.load(id)
	if err != nil {
		return err
	}

	if definition.DeletedAt != nil {
		return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
	}

	now := time.Now().UTC()
	definition.DeletedAt = &now

	return writeJSON(path.Join(r.dir(), id+".json"), definition)
}

func (r *DefinitionRepository) load(id string) (*models.AutomationDefinition, error) {
	var definition models.AutomationDefinition

	err := readJSON(path.Join(r.dir(), id+".json"), &definition)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewDefinitionError("load", id, persistence.ErrDefinitionNotFound)
		}

		return nil, err
	}

	return &definition, nil
}
