package createtask

import (
	"github.com/nurtura/nurtura/pkg/protocol"
)

// ActionFactory creates create-task actions bound to the task subsystem.
type ActionFactory struct {
	creator protocol.TaskCreator
}

// NewActionFactory creates a new instance of ActionFactory.
func NewActionFactory(creator protocol.TaskCreator) *ActionFactory {
	return &ActionFactory{creator: creator}
}

// ID returns the unique identifier for the action factory.
func (*ActionFactory) ID() string {
	return "create_task"
}

// Create creates a new create-task action with the provided configuration.
func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewAction(config, f.creator)
}

// Schema returns the JSON schema for the action configuration.
func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "Task text shown to the entity's owner",
				"examples":    []string{"Call lead to qualify", "Check in after trial signup"},
			},
			"due_in_days": map[string]any{
				"type":        "number",
				"description": "Days from now until the task is due",
				"default":     0,
				"minimum":     0,
			},
		},
		"required": []string{"text"},
	}
}
