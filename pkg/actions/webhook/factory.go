package webhook

import (
	"github.com/nurtura/nurtura/pkg/protocol"
)

// ActionFactory creates webhook actions.
type ActionFactory struct{}

// NewActionFactory creates a new instance of ActionFactory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// ID returns the unique identifier for the action factory.
func (*ActionFactory) ID() string {
	return "webhook"
}

// Create creates a new webhook action with the provided configuration.
func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewAction(config)
}

// Schema returns the JSON schema for the action configuration.
func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to deliver the webhook to",
				"examples":    []string{"https://hooks.example.com/nurture"},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method for the delivery",
				"default":     "POST",
				"enum":        []string{"POST", "PUT", "PATCH"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Extra headers to send with the delivery",
			},
			"payload": map[string]any{
				"type":        "object",
				"description": "Body to send. Defaults to the enrollment context and entity snapshot.",
			},
			"retry": map[string]any{
				"type":        "object",
				"description": "Retry behavior for failed deliveries",
				"properties": map[string]any{
					"attempts": map[string]any{
						"type":    "number",
						"default": 1,
						"minimum": 1,
					},
					"delay": map[string]any{
						"type":        "number",
						"description": "Seconds to wait between attempts",
						"default":     0,
						"minimum":     0,
					},
				},
			},
		},
		"required": []string{"url"},
	}
}
