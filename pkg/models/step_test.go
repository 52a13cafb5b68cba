package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepValidate_ActionRequiresActions(t *testing.T) {
	step := Step{Index: 0, Type: StepTypeAction, Action: &ActionStepConfig{}}
	assert.ErrorIs(t, step.Validate(), ErrStepConfigMissing)

	step.Action.Actions = []ActionItem{{Type: "send_email"}}
	assert.NoError(t, step.Validate())
}

func TestStepValidate_RejectsMismatchedConfig(t *testing.T) {
	step := Step{
		Index:  0,
		Type:   StepTypeAction,
		Action: &ActionStepConfig{Actions: []ActionItem{{Type: "send_email"}}},
		Delay:  &DelayStepConfig{Value: 1, Unit: DelayUnitDays},
	}
	assert.ErrorIs(t, step.Validate(), ErrStepConfigMismatch)
}

func TestStepValidate_DelayRequiresPositiveValue(t *testing.T) {
	step := Step{Index: 0, Type: StepTypeDelay, Delay: &DelayStepConfig{Value: 0, Unit: DelayUnitHours}}
	assert.ErrorIs(t, step.Validate(), ErrDelayInvalid)

	step.Delay = &DelayStepConfig{Value: 3, Unit: "fortnights"}
	assert.ErrorIs(t, step.Validate(), ErrDelayInvalid)
}

func TestStepValidate_ConditionRequiresBranchTargets(t *testing.T) {
	step := Step{
		Index: 0,
		Type:  StepTypeCondition,
		Condition: &ConditionStepConfig{
			Conditions: []Condition{{Field: "lifecycle_stage", Operator: OperatorEquals, Value: "lead"}},
		},
	}
	assert.ErrorIs(t, step.Validate(), ErrBranchTargetEmpty)

	step.BranchStepIndices = map[string]int{BranchLabelTrue: 1}
	assert.NoError(t, step.Validate())
}

func TestDelayDuration(t *testing.T) {
	assert.Equal(t, 30*time.Minute, DelayStepConfig{Value: 30, Unit: DelayUnitMinutes}.Duration())
	assert.Equal(t, 6*time.Hour, DelayStepConfig{Value: 6, Unit: DelayUnitHours}.Duration())
	assert.Equal(t, 48*time.Hour, DelayStepConfig{Value: 2, Unit: DelayUnitDays}.Duration())
}

func TestStepErrorPolicyOrDefault(t *testing.T) {
	assert.Equal(t, StepErrorContinue, StepErrorPolicy("").OrDefault())
	assert.Equal(t, StepErrorAbort, StepErrorAbort.OrDefault())
}

func TestStepEdges(t *testing.T) {
	next := 2
	step := Step{NextStepIndex: &next}
	assert.Equal(t, []int{2}, step.Edges())

	branching := Step{BranchStepIndices: map[string]int{"true": 1, "false": 3}}
	assert.ElementsMatch(t, []int{1, 3}, branching.Edges())
}
