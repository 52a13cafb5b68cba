package models

import "time"

// StepOutcome is the result recorded for one step transition.
type StepOutcome string

const (
	StepOutcomeSuccess StepOutcome = "success"
	StepOutcomeFailure StepOutcome = "failure"
	StepOutcomeSkipped StepOutcome = "skipped"
)

// ExecutionLogEntry is one append-only record of a step transition. Exactly
// one entry is written per step transition performed in a tick.
type ExecutionLogEntry struct {
	ID           string      `json:"id"`
	EnrollmentID string      `json:"enrollment_id"`
	StepIndex    int         `json:"step_index"`
	Outcome      StepOutcome `json:"outcome"`
	Timestamp    time.Time   `json:"timestamp"`
	ErrorDetail  string      `json:"error_detail,omitempty"`
}
