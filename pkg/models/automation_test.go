package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func actionStep(index int, next *int) Step {
	return Step{
		Index:         index,
		Type:          StepTypeAction,
		Action:        &ActionStepConfig{Actions: []ActionItem{{Type: "send_email"}}},
		NextStepIndex: next,
	}
}

func TestDefinitionValidate_IndicesMustMatchPositions(t *testing.T) {
	definition := &AutomationDefinition{
		Steps: []Step{actionStep(0, nil), actionStep(5, nil)},
	}
	assert.ErrorContains(t, definition.Validate(), "indices must match positions")
}

func TestDefinitionValidate_RejectsDanglingEdge(t *testing.T) {
	next := 4
	definition := &AutomationDefinition{
		Steps: []Step{actionStep(0, &next)},
	}
	assert.ErrorIs(t, definition.Validate(), ErrStepEdgeInvalid)
}

func TestDefinitionValidate_AllowsCycles(t *testing.T) {
	zero, one := 0, 1
	definition := &AutomationDefinition{
		Steps: []Step{actionStep(0, &one), actionStep(1, &zero)},
	}
	assert.NoError(t, definition.Validate())
}

func TestUnreachableSteps(t *testing.T) {
	one := 1
	definition := &AutomationDefinition{
		Steps: []Step{actionStep(0, &one), actionStep(1, nil), actionStep(2, nil)},
	}

	assert.Equal(t, []int{2}, definition.UnreachableSteps())
}

func TestStepAt(t *testing.T) {
	definition := &AutomationDefinition{Steps: []Step{actionStep(0, nil)}}

	step, ok := definition.StepAt(0)
	assert.True(t, ok)
	assert.Equal(t, 0, step.Index)

	_, ok = definition.StepAt(1)
	assert.False(t, ok)

	_, ok = definition.StepAt(-1)
	assert.False(t, ok)
}

func TestEnrollmentDue(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	enrollment := &Enrollment{Status: EnrollmentStatusActive}
	assert.True(t, enrollment.Due(now), "nil next_step_at is due immediately")

	enrollment.NextStepAt = &past
	assert.True(t, enrollment.Due(now))

	enrollment.NextStepAt = &future
	assert.False(t, enrollment.Due(now))

	enrollment.Status = EnrollmentStatusCompleted
	enrollment.NextStepAt = &past
	assert.False(t, enrollment.Due(now), "terminal enrollments are never due")
}

func TestEnrollmentLeaseExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	enrollment := &Enrollment{}
	assert.False(t, enrollment.LeaseExpired(now))

	enrollment.ClaimedBy = "worker-a"
	enrollment.ClaimExpiresAt = &future
	assert.False(t, enrollment.LeaseExpired(now))

	enrollment.ClaimExpiresAt = &past
	assert.True(t, enrollment.LeaseExpired(now))
}

func TestEnrollmentStatusTerminal(t *testing.T) {
	assert.False(t, EnrollmentStatusActive.Terminal())
	assert.True(t, EnrollmentStatusCompleted.Terminal())
	assert.True(t, EnrollmentStatusExited.Terminal())
	assert.True(t, EnrollmentStatusFailed.Terminal())
}
