// Package events defines the event types the engine consumes from the CRM and
// the lifecycle events it publishes.
package events

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nurtura/nurtura/pkg/models"
)

type EventType string

// Kafka topics.
const EntityTopic = "nurtura.entity.events"         // Domain events emitted by the CRUD subsystem
const EnrollmentTopic = "nurtura.enrollment.events" // Lifecycle events emitted by the engine

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Consumed domain events.
	EntityCreatedEvent EventType = "entity.created"
	EntityUpdatedEvent EventType = "entity.updated"
	EntityDeletedEvent EventType = "entity.deleted"
	DealStageChanged   EventType = "deal.stage_changed"

	// Produced lifecycle events.
	EnrollmentCreatedEvent  EventType = "enrollment.created"
	EnrollmentFinishedEvent EventType = "enrollment.finished"
	ActionFailedEvent       EventType = "action.failed"
)

var ErrInvalidEventData = errors.New("invalid event data")

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// EntityEvent is a domain event from the CRUD subsystem: an entity was
// created, updated or deleted, with its snapshot at event time.
type EntityEvent struct {
	BaseEvent

	OwnerID          string                `json:"owner_id"`
	EntityType       string                `json:"entity_type"`
	EntityID         string                `json:"entity_id"`
	Snapshot         models.EntitySnapshot `json:"entity_snapshot"`
	ChangedFields    []string              `json:"changed_fields,omitempty"`
	PreviousSnapshot models.EntitySnapshot `json:"previous_snapshot,omitempty"`
}

func (e EntityEvent) GetType() EventType {
	return e.Type
}

// Validate checks the fields every entity event must carry.
func (e *EntityEvent) Validate() error {
	if e.Type == "" || e.EntityType == "" || e.EntityID == "" || e.OwnerID == "" {
		return ErrInvalidEventData
	}

	return nil
}

// EnrollmentCreated is published when an entity enrolls into an automation.
type EnrollmentCreated struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	AutomationID string `json:"automation_id"`
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id"`
	OwnerID      string `json:"owner_id"`
}

func (e EnrollmentCreated) GetType() EventType {
	return EnrollmentCreatedEvent
}

// EnrollmentFinished is published when an enrollment reaches a terminal state.
type EnrollmentFinished struct {
	BaseEvent

	EnrollmentID string                  `json:"enrollment_id"`
	AutomationID string                  `json:"automation_id"`
	EntityType   string                  `json:"entity_type"`
	EntityID     string                  `json:"entity_id"`
	Status       models.EnrollmentStatus `json:"status"`
	Reason       string                  `json:"reason,omitempty"`
}

func (e EnrollmentFinished) GetType() EventType {
	return EnrollmentFinishedEvent
}

// ActionFailed is published when a side-effect call inside an action step
// errors. Recovery is manual via the process-enrollment operation.
type ActionFailed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	AutomationID string `json:"automation_id"`
	StepIndex    int    `json:"step_index"`
	ActionType   string `json:"action_type"`
	Error        string `json:"error"`
}

func (e ActionFailed) GetType() EventType {
	return ActionFailedEvent
}
