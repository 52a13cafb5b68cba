package sendemail

import (
	"github.com/nurtura/nurtura/pkg/protocol"
)

// ActionFactory creates send-email actions bound to an email delivery backend.
type ActionFactory struct {
	sender protocol.EmailSender
}

// NewActionFactory creates a new instance of ActionFactory.
func NewActionFactory(sender protocol.EmailSender) *ActionFactory {
	return &ActionFactory{sender: sender}
}

// ID returns the unique identifier for the action factory.
func (*ActionFactory) ID() string {
	return "send_email"
}

// Create creates a new send-email action with the provided configuration.
func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewAction(config, f.sender)
}

// Schema returns the JSON schema for the action configuration.
func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"template": map[string]any{
				"type":        "string",
				"description": "Name of the email template to send",
				"examples":    []string{"welcome", "day_3_tips", "renewal_reminder"},
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Literal message body, used when no template is given",
			},
		},
		"anyOf": []map[string]any{
			{"required": []string{"template"}},
			{"required": []string{"message"}},
		},
	}
}
