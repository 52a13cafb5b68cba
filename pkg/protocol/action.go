// Package protocol defines the contracts between the engine and its external
// collaborators: pluggable actions and the CRM subsystems they call into.
package protocol

import (
	"context"
	"log/slog"
)

// ActionContext carries the per-enrollment state an action needs to execute.
type ActionContext struct {
	EnrollmentID string
	AutomationID string
	EntityType   string
	EntityID     string

	// Snapshot is the flattened entity snapshot read at the start of the tick.
	Snapshot map[string]any

	// DedupeKey uniquely identifies this action occurrence across tick
	// retries. Actions that perform non-idempotent side effects claim it
	// before executing.
	DedupeKey string
}

// Action is a single typed side-effect call. Calls are at-least-once; the
// dedupe key is how implementations avoid duplicate effects on retry.
type Action interface {
	Execute(ctx context.Context, actx ActionContext, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory creates action instances from step configuration and
// describes the configuration it accepts.
type ActionFactory interface {
	// Create builds an action from an action item's configuration map.
	Create(config map[string]any) (Action, error)

	// ID returns the action type identifier used in step definitions.
	ID() string

	// Schema returns a JSON schema for the configuration map, enforced at
	// definition save time.
	Schema() map[string]any
}
