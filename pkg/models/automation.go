package models

import (
	"fmt"
	"time"
)

// AutomationTrigger declares which domain events enroll entities into the
// automation and which filter the event payload must match.
type AutomationTrigger struct {
	EventType  string      `json:"event_type" validate:"required"`
	Conditions []Condition `json:"conditions,omitempty" validate:"dive"`
}

// AutomationDefinition is an administrator-authored automation: a trigger plus
// an ordered step graph. Editing replaces the whole step list atomically and
// bumps Version; enrollments record the version they entered under.
type AutomationDefinition struct {
	ID                string            `json:"id"`
	OwnerID           string            `json:"owner_id"  validate:"required"`
	Name              string            `json:"name"      validate:"required,min=3"`
	Trigger           AutomationTrigger `json:"trigger"   validate:"required"`
	IsMultiStep       bool              `json:"is_multi_step"`
	Steps             []Step            `json:"steps"     validate:"dive"`
	ExitCriteria      []Condition       `json:"exit_criteria,omitempty" validate:"dive"`
	MaxDurationDays   int               `json:"max_duration_days,omitempty" validate:"min=0"`
	SafetyExitEnabled bool              `json:"safety_exit_enabled"`
	IsActive          bool              `json:"is_active"`
	Version           int               `json:"version"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	DeletedAt         *time.Time        `json:"deleted_at,omitempty"`
}

// Validate checks the structural rules of the step graph: indices are dense
// and ordered, each step's typed config is consistent, and every edge targets
// an existing step. Cycles are allowed here; the engine's per-tick step bound
// is the safety net for malformed graphs.
func (d *AutomationDefinition) Validate() error {
	for i := range d.Steps {
		step := &d.Steps[i]

		if step.Index != i {
			return fmt.Errorf("step at position %d has index %d: indices must match positions", i, step.Index)
		}

		if err := step.Validate(); err != nil {
			return err
		}

		for _, target := range step.Edges() {
			if target < 0 || target >= len(d.Steps) {
				return fmt.Errorf("step %d targets index %d: %w", i, target, ErrStepEdgeInvalid)
			}
		}
	}

	return nil
}

// UnreachableSteps returns the indices of steps that cannot be reached from
// step 0 by following edges. Unreachable steps are a warning, not an error.
func (d *AutomationDefinition) UnreachableSteps() []int {
	if len(d.Steps) == 0 {
		return nil
	}

	visited := make([]bool, len(d.Steps))
	queue := []int{0}
	visited[0] = true

	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]

		for _, target := range d.Steps[idx].Edges() {
			if target >= 0 && target < len(d.Steps) && !visited[target] {
				visited[target] = true
				queue = append(queue, target)
			}
		}
	}

	unreachable := make([]int, 0)

	for i, seen := range visited {
		if !seen {
			unreachable = append(unreachable, i)
		}
	}

	return unreachable
}

// StepAt returns the step at the given index, or false when the index does
// not exist in the current step list.
func (d *AutomationDefinition) StepAt(index int) (*Step, bool) {
	if index < 0 || index >= len(d.Steps) {
		return nil, false
	}

	return &d.Steps[index], true
}
