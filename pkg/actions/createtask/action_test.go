package createtask

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/nurtura/nurtura/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCreator struct {
	entityID string
	dueAt    time.Time
	text     string
}

func (s *stubCreator) CreateTask(_ context.Context, entityID string, dueAt time.Time, text string) error {
	s.entityID = entityID
	s.dueAt = dueAt
	s.text = text

	return nil
}

func TestNewAction_RequiresText(t *testing.T) {
	_, err := NewAction(map[string]any{"due_in_days": float64(2)}, &stubCreator{})
	require.ErrorIs(t, err, ErrTaskTextMissing)
}

func TestAction_Execute(t *testing.T) {
	creator := &stubCreator{}

	action, err := NewAction(map[string]any{"text": "Call lead", "due_in_days": float64(3)}, creator)
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), protocol.ActionContext{EntityID: "lead-9"}, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "lead-9", creator.entityID)
	assert.Equal(t, "Call lead", creator.text)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 3), creator.dueAt, time.Minute)
	assert.Equal(t, true, result["created"])
}

func TestActionFactory(t *testing.T) {
	factory := NewActionFactory(&stubCreator{})

	assert.Equal(t, "create_task", factory.ID())
	assert.NotNil(t, factory.Schema())

	action, err := factory.Create(map[string]any{"text": "Follow up"})
	require.NoError(t, err)
	assert.NotNil(t, action)
}
