package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nurtura/nurtura/pkg/enrollment"
	"github.com/nurtura/nurtura/pkg/eventbus"
	"github.com/nurtura/nurtura/pkg/events"
)

// Activator consumes entity domain events and enrolls matching entities into
// active automations.
type Activator struct {
	id       string
	eventBus eventbus.EventBus
	manager  *enrollment.Manager
	logger   *slog.Logger
}

func NewActivator(id string, eventBus eventbus.EventBus, manager *enrollment.Manager, logger *slog.Logger) *Activator {
	return &Activator{
		id:       id,
		eventBus: eventBus,
		manager:  manager,
		logger:   logger.With("module", "activator"),
	}
}

// Start subscribes to the entity topic and blocks until the context is
// cancelled or a termination signal arrives.
func (a *Activator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.handleSignals(cancel)

	for _, eventType := range []events.EventType{
		events.EntityCreatedEvent,
		events.EntityUpdatedEvent,
		events.EntityDeletedEvent,
		events.DealStageChanged,
	} {
		err := a.eventBus.Handle(eventType, a.handleEntityEvent)
		if err != nil {
			return err
		}
	}

	err := a.eventBus.Subscribe(runCtx)
	if err != nil {
		return err
	}

	a.logger.InfoContext(runCtx, "Activator subscribed to entity events")

	<-runCtx.Done()
	a.logger.Info("Activator stopping")

	return nil
}

func (a *Activator) handleSignals(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		a.logger.Info("Received signal", "signal", sig)
		cancel()
	}()
}

func (a *Activator) handleEntityEvent(ctx context.Context, event interface{}) error {
	entityEvent, ok := event.(*events.EntityEvent)
	if !ok {
		return events.ErrInvalidEventData
	}

	a.logger.InfoContext(ctx, "Received entity event",
		"event_type", entityEvent.Type,
		"entity_type", entityEvent.EntityType,
		"entity_id", entityEvent.EntityID)

	err := a.manager.HandleEntityEvent(ctx, entityEvent)
	if errors.Is(err, events.ErrInvalidEventData) {
		// Malformed events are logged and acked, never retried.
		a.logger.WarnContext(ctx, "Dropping invalid entity event", "error", err)

		return nil
	}

	return err
}
