// Package sendemail provides the send-email action backed by the CRM's email
// delivery subsystem.
package sendemail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nurtura/nurtura/pkg/protocol"
)

var ErrEmailContentMissing = errors.New("send_email requires either 'template' or 'message'")

// Action sends an email to the enrolled entity, either from a named template
// or with a literal message body.
type Action struct {
	Template string
	Message  string
	sender   protocol.EmailSender
}

// NewAction creates a new send-email action from configuration.
func NewAction(config map[string]any, sender protocol.EmailSender) (*Action, error) {
	template, _ := config["template"].(string)
	message, _ := config["message"].(string)

	if template == "" && message == "" {
		return nil, ErrEmailContentMissing
	}

	return &Action{
		Template: template,
		Message:  message,
		sender:   sender,
	}, nil
}

func (a *Action) Execute(ctx context.Context, actx protocol.ActionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "send_email", "template", a.Template)

	err := a.sender.SendEmail(ctx, actx.EntityID, a.Template, a.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to send email to entity %s: %w", actx.EntityID, err)
	}

	logger.InfoContext(ctx, "Email sent")

	return map[string]any{"sent": true, "template": a.Template}, nil
}
