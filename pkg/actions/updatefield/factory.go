package updatefield

import (
	"github.com/nurtura/nurtura/pkg/protocol"
)

// ActionFactory creates update-field actions bound to the CRUD subsystem.
type ActionFactory struct {
	updater protocol.FieldUpdater
}

// NewActionFactory creates a new instance of ActionFactory.
func NewActionFactory(updater protocol.FieldUpdater) *ActionFactory {
	return &ActionFactory{updater: updater}
}

// ID returns the unique identifier for the action factory.
func (*ActionFactory) ID() string {
	return "update_field"
}

// Create creates a new update-field action with the provided configuration.
func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewAction(config, f.updater)
}

// Schema returns the JSON schema for the action configuration.
func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"field": map[string]any{
				"type":        "string",
				"description": "Field to write, dot-separated for nested fields",
				"examples":    []string{"status", "custom_fields.nurture_stage"},
			},
			"value": map[string]any{
				"description": "New value for the field. Any JSON type.",
			},
		},
		"required": []string{"field"},
	}
}
