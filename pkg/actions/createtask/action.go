// Package createtask provides the create-task action backed by the CRM's task
// subsystem.
package createtask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nurtura/nurtura/pkg/protocol"
)

var ErrTaskTextMissing = errors.New("create_task requires 'text'")

// Action creates a task attached to the enrolled entity. The due date is an
// offset in days from the moment the step runs.
type Action struct {
	Text      string
	DueInDays int
	creator   protocol.TaskCreator
}

// NewAction creates a new create-task action from configuration.
func NewAction(config map[string]any, creator protocol.TaskCreator) (*Action, error) {
	text, _ := config["text"].(string)
	if text == "" {
		return nil, ErrTaskTextMissing
	}

	dueInDays := 0
	if raw, ok := config["due_in_days"].(float64); ok {
		dueInDays = int(raw)
	}

	return &Action{
		Text:      text,
		DueInDays: dueInDays,
		creator:   creator,
	}, nil
}

func (a *Action) Execute(ctx context.Context, actx protocol.ActionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "create_task")

	dueAt := time.Now().UTC().AddDate(0, 0, a.DueInDays)

	err := a.creator.CreateTask(ctx, actx.EntityID, dueAt, a.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to create task for entity %s: %w", actx.EntityID, err)
	}

	logger.InfoContext(ctx, "Task created", "due_at", dueAt)

	return map[string]any{"created": true, "due_at": dueAt.Format(time.RFC3339)}, nil
}
