// Package eventbus provides the messaging layer between the CRM's CRUD
// subsystem and the automation engine.
package eventbus

import (
	"context"

	"github.com/nurtura/nurtura/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes engine lifecycle events to the enrollment topic.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber consumes domain events from the entity topic.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event interface{}) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
