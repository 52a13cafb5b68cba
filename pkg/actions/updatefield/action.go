// Package updatefield provides the update-field action, which writes a single
// field on the enrolled entity through the CRM's CRUD subsystem.
package updatefield

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nurtura/nurtura/pkg/protocol"
)

var ErrFieldNameMissing = errors.New("update_field requires 'field'")

type Action struct {
	Field   string
	Value   any
	updater protocol.FieldUpdater
}

// NewAction creates a new update-field action from configuration.
func NewAction(config map[string]any, updater protocol.FieldUpdater) (*Action, error) {
	field, _ := config["field"].(string)
	if field == "" {
		return nil, ErrFieldNameMissing
	}

	return &Action{
		Field:   field,
		Value:   config["value"],
		updater: updater,
	}, nil
}

func (a *Action) Execute(ctx context.Context, actx protocol.ActionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "update_field", "field", a.Field)

	err := a.updater.UpdateEntityField(ctx, actx.EntityType, actx.EntityID, a.Field, a.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to update field '%s' on entity %s: %w", a.Field, actx.EntityID, err)
	}

	logger.InfoContext(ctx, "Field updated")

	return map[string]any{"field": a.Field, "value": a.Value}, nil
}
