package crm

import (
	"context"
	"sync"
	"time"

	"github.com/nurtura/nurtura/pkg/models"
	"github.com/nurtura/nurtura/pkg/protocol"
)

// Memory is an in-process CRM backend for development and tests. Entities are
// keyed by type and id; emails and tasks are recorded rather than delivered.
type Memory struct {
	mu       sync.Mutex
	entities map[string]map[string]models.EntitySnapshot
	owners   map[string]string
	Emails   []SentEmail
	Tasks    []CreatedTask
}

type SentEmail struct {
	EntityID string
	Template string
	Message  string
}

type CreatedTask struct {
	EntityID string
	DueAt    time.Time
	Text     string
}

func NewMemory() *Memory {
	return &Memory{
		entities: make(map[string]map[string]models.EntitySnapshot),
		owners:   make(map[string]string),
	}
}

var (
	_ protocol.SnapshotSource = (*Memory)(nil)
	_ protocol.EmailSender    = (*Memory)(nil)
	_ protocol.TaskCreator    = (*Memory)(nil)
	_ protocol.FieldUpdater   = (*Memory)(nil)
)

// PutEntity stores a snapshot. The snapshot's "id" key is set from entityID.
func (m *Memory) PutEntity(entityType, entityID, ownerID string, snapshot models.EntitySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entities[entityType] == nil {
		m.entities[entityType] = make(map[string]models.EntitySnapshot)
	}

	copied := make(models.EntitySnapshot, len(snapshot)+1)
	for key, value := range snapshot {
		copied[key] = value
	}

	copied["id"] = entityID

	m.entities[entityType][entityID] = copied
	m.owners[entityType+"/"+entityID] = ownerID
}

// RemoveEntity deletes a snapshot, simulating entity deletion mid-enrollment.
func (m *Memory) RemoveEntity(entityType, entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entities[entityType], entityID)
	delete(m.owners, entityType+"/"+entityID)
}

func (m *Memory) Snapshot(_ context.Context, entityType, entityID string) (models.EntitySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, ok := m.entities[entityType][entityID]
	if !ok {
		return nil, protocol.ErrEntityNotFound
	}

	copied := make(models.EntitySnapshot, len(snapshot))
	for key, value := range snapshot {
		copied[key] = value
	}

	return copied, nil
}

func (m *Memory) Candidates(_ context.Context, ownerID, entityType string) ([]models.EntitySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]models.EntitySnapshot, 0)

	for entityID, snapshot := range m.entities[entityType] {
		if m.owners[entityType+"/"+entityID] != ownerID {
			continue
		}

		copied := make(models.EntitySnapshot, len(snapshot))
		for key, value := range snapshot {
			copied[key] = value
		}

		candidates = append(candidates, copied)
	}

	return candidates, nil
}

func (m *Memory) SendEmail(_ context.Context, entityID, template, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Emails = append(m.Emails, SentEmail{EntityID: entityID, Template: template, Message: message})

	return nil
}

func (m *Memory) CreateTask(_ context.Context, entityID string, dueAt time.Time, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Tasks = append(m.Tasks, CreatedTask{EntityID: entityID, DueAt: dueAt, Text: text})

	return nil
}

func (m *Memory) UpdateEntityField(_ context.Context, entityType, entityID, field string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot, ok := m.entities[entityType][entityID]
	if !ok {
		return protocol.ErrEntityNotFound
	}

	snapshot[field] = value

	return nil
}
