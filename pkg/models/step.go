// Package models defines the core domain models for the automation engine.
package models

import (
	"errors"
	"fmt"
	"time"
)

// StepType is the closed set of step kinds an automation can contain.
type StepType string

const (
	StepTypeAction    StepType = "action"
	StepTypeDelay     StepType = "delay"
	StepTypeCondition StepType = "condition"
	StepTypeBranch    StepType = "branch"
)

// Branch labels used by condition steps.
const (
	BranchLabelTrue  = "true"
	BranchLabelFalse = "false"
)

var (
	ErrStepConfigMissing  = errors.New("step is missing its type-specific config")
	ErrStepConfigMismatch = errors.New("step carries config for a different type")
	ErrStepEdgeInvalid    = errors.New("step edge references a nonexistent step index")
	ErrDelayInvalid       = errors.New("delay step requires a positive value and a valid unit")
	ErrConditionEmpty     = errors.New("condition step requires at least one condition")
	ErrBranchEmpty        = errors.New("branch step requires at least one branch rule")
	ErrBranchTargetEmpty  = errors.New("condition/branch step requires at least one branch target")
)

// Step is one node of an automation's step graph. Its only identity is its
// position in the definition's step list. Exactly one of the typed config
// fields must be set, matching Type.
type Step struct {
	Index     int                  `json:"index"`
	Type      StepType             `json:"type"                validate:"required,oneof=action delay condition branch"`
	Action    *ActionStepConfig    `json:"action,omitempty"`
	Delay     *DelayStepConfig     `json:"delay,omitempty"`
	Condition *ConditionStepConfig `json:"condition,omitempty"`
	Branch    *BranchStepConfig    `json:"branch,omitempty"`

	// Outgoing edges. Action and delay steps use NextStepIndex; condition and
	// branch steps use BranchStepIndices keyed by label. A missing edge means
	// the enrollment completes after this step.
	NextStepIndex     *int           `json:"next_step_index,omitempty"`
	BranchStepIndices map[string]int `json:"branch_step_indices,omitempty"`
}

// ActionStepConfig holds the ordered side-effect calls of an action step.
type ActionStepConfig struct {
	Actions []ActionItem    `json:"actions"  validate:"required,min=1,dive"`
	OnError StepErrorPolicy `json:"on_error,omitempty"`
}

// ActionItem is one typed side-effect call attached to an action step.
type ActionItem struct {
	ID            string         `json:"id"`
	Type          string         `json:"type" validate:"required"`
	Name          string         `json:"name"`
	Configuration map[string]any `json:"configuration"`
}

// StepErrorPolicy decides whether an action failure aborts the remaining
// actions in the same step.
type StepErrorPolicy string

const (
	// StepErrorContinue runs the remaining actions of the step even after one
	// fails. This is the default.
	StepErrorContinue StepErrorPolicy = "continue"
	// StepErrorAbort stops the step at the first failed action.
	StepErrorAbort StepErrorPolicy = "abort"
)

// OrDefault resolves the zero value to the default policy.
func (p StepErrorPolicy) OrDefault() StepErrorPolicy {
	if p == "" {
		return StepErrorContinue
	}

	return p
}

// DelayUnit is the time unit of a delay step.
type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
)

// DelayStepConfig pauses an enrollment for a fixed duration.
type DelayStepConfig struct {
	Value int       `json:"value" validate:"required,min=1"`
	Unit  DelayUnit `json:"unit"  validate:"required,oneof=minutes hours days"`
}

// Duration converts the delay config into a time.Duration.
func (d DelayStepConfig) Duration() time.Duration {
	switch d.Unit {
	case DelayUnitMinutes:
		return time.Duration(d.Value) * time.Minute
	case DelayUnitHours:
		return time.Duration(d.Value) * time.Hour
	case DelayUnitDays:
		return time.Duration(d.Value) * 24 * time.Hour
	default:
		return 0
	}
}

// ConditionStepConfig routes an enrollment on a boolean predicate. The engine
// follows BranchStepIndices["true"] or BranchStepIndices["false"].
type ConditionStepConfig struct {
	Conditions []Condition `json:"conditions" validate:"required,min=1,dive"`
}

// BranchRule is one labeled predicate of a branch step.
type BranchRule struct {
	Label      string      `json:"label"      validate:"required"`
	Conditions []Condition `json:"conditions" validate:"required,min=1,dive"`
}

// BranchStepConfig routes an enrollment through an ordered rule list; the
// first matching rule wins, falling back to DefaultLabel when nothing matches.
type BranchStepConfig struct {
	Branches     []BranchRule `json:"branches" validate:"required,min=1,dive"`
	DefaultLabel string       `json:"default_label,omitempty"`
}

// Validate checks the step's internal consistency: the typed config matching
// Type is present, the other configs are absent, and the type-specific
// requirements hold. Edge targets are checked by AutomationDefinition.Validate
// since they need the full step list.
func (s *Step) Validate() error {
	configs := 0
	for _, set := range []bool{s.Action != nil, s.Delay != nil, s.Condition != nil, s.Branch != nil} {
		if set {
			configs++
		}
	}

	if configs > 1 {
		return fmt.Errorf("step %d: %w", s.Index, ErrStepConfigMismatch)
	}

	switch s.Type {
	case StepTypeAction:
		if s.Action == nil || len(s.Action.Actions) == 0 {
			return fmt.Errorf("step %d: %w", s.Index, ErrStepConfigMissing)
		}
	case StepTypeDelay:
		if s.Delay == nil {
			return fmt.Errorf("step %d: %w", s.Index, ErrStepConfigMissing)
		}

		if s.Delay.Value <= 0 || s.Delay.Duration() == 0 {
			return fmt.Errorf("step %d: %w", s.Index, ErrDelayInvalid)
		}
	case StepTypeCondition:
		if s.Condition == nil {
			return fmt.Errorf("step %d: %w", s.Index, ErrStepConfigMissing)
		}

		if len(s.Condition.Conditions) == 0 {
			return fmt.Errorf("step %d: %w", s.Index, ErrConditionEmpty)
		}

		if len(s.BranchStepIndices) == 0 {
			return fmt.Errorf("step %d: %w", s.Index, ErrBranchTargetEmpty)
		}
	case StepTypeBranch:
		if s.Branch == nil {
			return fmt.Errorf("step %d: %w", s.Index, ErrStepConfigMissing)
		}

		if len(s.Branch.Branches) == 0 {
			return fmt.Errorf("step %d: %w", s.Index, ErrBranchEmpty)
		}

		if len(s.BranchStepIndices) == 0 {
			return fmt.Errorf("step %d: %w", s.Index, ErrBranchTargetEmpty)
		}
	default:
		return fmt.Errorf("step %d: unknown step type %q", s.Index, s.Type)
	}

	return nil
}

// Edges returns all outgoing step indices of the step.
func (s *Step) Edges() []int {
	edges := make([]int, 0, 1+len(s.BranchStepIndices))
	if s.NextStepIndex != nil {
		edges = append(edges, *s.NextStepIndex)
	}

	for _, target := range s.BranchStepIndices {
		edges = append(edges, target)
	}

	return edges
}
