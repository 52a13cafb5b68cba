package sendemail

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/nurtura/nurtura/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	entityID string
	template string
	message  string
	err      error
}

func (s *stubSender) SendEmail(_ context.Context, entityID, template, message string) error {
	s.entityID = entityID
	s.template = template
	s.message = message

	return s.err
}

func TestNewAction_RequiresContent(t *testing.T) {
	_, err := NewAction(map[string]any{}, &stubSender{})
	require.ErrorIs(t, err, ErrEmailContentMissing)
}

func TestAction_Execute_Template(t *testing.T) {
	sender := &stubSender{}

	action, err := NewAction(map[string]any{"template": "welcome"}, sender)
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), protocol.ActionContext{
		EntityID: "contact-1",
	}, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "contact-1", sender.entityID)
	assert.Equal(t, "welcome", sender.template)
	assert.Equal(t, map[string]any{"sent": true, "template": "welcome"}, result)
}

func TestAction_Execute_SenderError(t *testing.T) {
	sender := &stubSender{err: errors.New("smtp unavailable")}

	action, err := NewAction(map[string]any{"message": "hi"}, sender)
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), protocol.ActionContext{EntityID: "contact-1"}, slog.Default())
	assert.Error(t, err)
}

func TestActionFactory(t *testing.T) {
	factory := NewActionFactory(&stubSender{})

	assert.Equal(t, "send_email", factory.ID())
	assert.NotNil(t, factory.Schema())

	action, err := factory.Create(map[string]any{"template": "welcome"})
	require.NoError(t, err)
	assert.NotNil(t, action)

	_, err = factory.Create(nil)
	assert.Error(t, err)
}
