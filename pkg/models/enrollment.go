package models

import "time"

// EnrollmentStatus is the lifecycle state of an enrollment. Active is the only
// non-terminal state; no transition leaves completed, exited or failed.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusExited    EnrollmentStatus = "exited"
	EnrollmentStatusFailed    EnrollmentStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusCompleted || s == EnrollmentStatusExited || s == EnrollmentStatusFailed
}

// ExitReason values recorded in the execution log when an enrollment exits.
const (
	ExitReasonSafetyExit        = "safety_exit"
	ExitReasonExitCriteria      = "exit_criteria"
	ExitReasonManual            = "manual_unenroll"
	ExitReasonDefinitionChanged = "definition_changed"
)

// Enrollment is one entity's live progress through an automation's step graph.
// Rows are never physically deleted; terminal enrollments are kept for audit.
type Enrollment struct {
	ID               string           `json:"id"`
	AutomationID     string           `json:"automation_id"`
	EntityType       string           `json:"entity_type"`
	EntityID         string           `json:"entity_id"`
	OwnerID          string           `json:"owner_id"`
	Status           EnrollmentStatus `json:"status"`
	CurrentStepIndex int              `json:"current_step_index"`

	// NextStepAt is when the enrollment is next due; nil means due immediately.
	NextStepAt *time.Time `json:"next_step_at,omitempty"`

	// DelayArmed is set while CurrentStepIndex points at a delay step whose
	// resume time has already been written to NextStepAt. It distinguishes a
	// due delay being resumed from a delay step that still needs arming.
	DelayArmed bool `json:"delay_armed,omitempty"`

	EnteredAt   time.Time  `json:"entered_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// DefinitionVersion is the automation version the entity enrolled under.
	// A tick that observes a different version exits the enrollment instead of
	// running against re-indexed steps.
	DefinitionVersion int `json:"definition_version"`

	Metadata map[string]any `json:"metadata,omitempty"`

	// Lease fields. A worker claims an enrollment with its token and an expiry
	// before transitioning it; expired leases are reclaimable.
	ClaimedBy      string     `json:"claimed_by,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`
}

// Due reports whether the enrollment is ready for a tick at the given time.
func (e *Enrollment) Due(now time.Time) bool {
	if e.Status != EnrollmentStatusActive {
		return false
	}

	return e.NextStepAt == nil || !e.NextStepAt.After(now)
}

// LeaseExpired reports whether a held claim has lapsed.
func (e *Enrollment) LeaseExpired(now time.Time) bool {
	return e.ClaimedBy != "" && e.ClaimExpiresAt != nil && e.ClaimExpiresAt.Before(now)
}
