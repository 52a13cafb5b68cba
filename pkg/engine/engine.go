// Package engine implements the step-graph state machine that advances
// enrollments through their automation's steps.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nurtura/nurtura/pkg/conditions"
	"github.com/nurtura/nurtura/pkg/dedupe"
	"github.com/nurtura/nurtura/pkg/eventbus"
	"github.com/nurtura/nurtura/pkg/events"
	"github.com/nurtura/nurtura/pkg/models"
	"github.com/nurtura/nurtura/pkg/otelhelper"
	"github.com/nurtura/nurtura/pkg/persistence"
	"github.com/nurtura/nurtura/pkg/protocol"
	"github.com/nurtura/nurtura/pkg/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// MaxStepsPerTick bounds the intra-tick loop. The step graph is not
	// guaranteed acyclic; without the bound a malformed graph would spin a
	// worker forever.
	MaxStepsPerTick = 50

	// DefaultLeaseDuration is how long a tick's claim on an enrollment lives
	// before other workers may reclaim it.
	DefaultLeaseDuration = 2 * time.Minute

	// dedupeTTL is how long an action occurrence stays claimed. Long enough to
	// cover any realistic retry window.
	dedupeTTL = 48 * time.Hour
)

var ErrTickPanicked = errors.New("tick aborted by panic")

// Engine runs ticks. A tick claims one due enrollment and advances it through
// as many non-delay steps as it can before stopping at a delay, a terminal
// state, or the step bound.
type Engine struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	snapshots   protocol.SnapshotSource
	dedupe      dedupe.Store
	publisher   eventbus.EventPublisher
	leaseFor    time.Duration
}

func NewEngine(
	logger *slog.Logger,
	persist persistence.Persistence,
	reg *registry.Registry,
	snapshots protocol.SnapshotSource,
	dedupeStore dedupe.Store,
	publisher eventbus.EventPublisher,
) *Engine {
	return &Engine{
		logger:      logger.With("module", "engine"),
		persistence: persist,
		registry:    reg,
		snapshots:   snapshots,
		dedupe:      dedupeStore,
		publisher:   publisher,
		leaseFor:    DefaultLeaseDuration,
	}
}

// Tick claims the enrollment for token and advances it. Claiming is idempotent
// for the same token, so a caller that pre-claimed via ClaimDue can hand the
// same token in. Returns persistence.ErrEnrollmentClaimed when another worker
// holds a live lease.
func (e *Engine) Tick(ctx context.Context, enrollmentID, token string) (err error) {
	tracer := otel.Tracer("nurtura.engine")

	ctx, span := otelhelper.StartSpan(ctx, tracer, "engine.tick",
		attribute.String(otelhelper.EnrollmentIDKey, enrollmentID),
		attribute.String(otelhelper.WorkerIDKey, token),
	)
	defer span.End()

	logger := e.logger.With("enrollment_id", enrollmentID)

	// A panicking step must not poison the worker or the enrollment. The row
	// stays active at its unchanged position and the next sweep retries it.
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Tick panicked", "panic", r)
			err = fmt.Errorf("%w: %v", ErrTickPanicked, r)
			otelhelper.SetError(span, err)
		}
	}()

	claimed, err := e.persistence.Enrollments().Claim(ctx, enrollmentID, token, e.leaseFor)
	if err != nil {
		return fmt.Errorf("failed to claim enrollment %s: %w", enrollmentID, err)
	}

	if !claimed {
		logger.DebugContext(ctx, "Enrollment is claimed by another worker, skipping")

		return persistence.NewEnrollmentError("Tick", enrollmentID, persistence.ErrEnrollmentClaimed)
	}

	defer func() {
		releaseErr := e.persistence.Enrollments().Release(context.WithoutCancel(ctx), enrollmentID, token)
		if releaseErr != nil {
			logger.WarnContext(ctx, "Failed to release enrollment lease", "error", releaseErr)
		}
	}()

	enrollment, err := e.persistence.Enrollments().ByID(ctx, enrollmentID)
	if err != nil {
		return fmt.Errorf("failed to load enrollment %s: %w", enrollmentID, err)
	}

	// Terminal enrollments are never re-run.
	if enrollment.Status != models.EnrollmentStatusActive {
		logger.DebugContext(ctx, "Enrollment is terminal, nothing to do", "status", enrollment.Status)

		return nil
	}

	return e.run(ctx, logger, enrollment, token)
}

func (e *Engine) run(ctx context.Context, logger *slog.Logger, enrollment *models.Enrollment, token string) error {
	now := time.Now().UTC()

	definition, err := e.persistence.Definitions().ByID(ctx, enrollment.AutomationID)
	if err != nil {
		if persistence.IsDefinitionNotFound(err) {
			// The automation was deleted from under the enrollment.
			return e.exit(ctx, logger, enrollment, token, models.ExitReasonDefinitionChanged, now)
		}

		return fmt.Errorf("failed to load definition %s: %w", enrollment.AutomationID, err)
	}

	// A version bump means the step list was replaced and this enrollment's
	// step pointer indexes a graph that no longer exists.
	if definition.Version != enrollment.DefinitionVersion {
		logger.InfoContext(ctx, "Definition changed since enrollment, exiting",
			"enrolled_version", enrollment.DefinitionVersion,
			"current_version", definition.Version)

		return e.exit(ctx, logger, enrollment, token, models.ExitReasonDefinitionChanged, now)
	}

	if definition.SafetyExitEnabled && definition.MaxDurationDays > 0 {
		deadline := enrollment.EnteredAt.AddDate(0, 0, definition.MaxDurationDays)
		if now.After(deadline) {
			logger.InfoContext(ctx, "Enrollment exceeded max duration, exiting",
				"entered_at", enrollment.EnteredAt,
				"max_duration_days", definition.MaxDurationDays)

			return e.exit(ctx, logger, enrollment, token, models.ExitReasonSafetyExit, now)
		}
	}

	snapshot, err := e.snapshots.Snapshot(ctx, enrollment.EntityType, enrollment.EntityID)
	if err != nil {
		if errors.Is(err, protocol.ErrEntityNotFound) {
			logger.WarnContext(ctx, "Entity no longer exists, failing enrollment")

			return e.fail(ctx, logger, enrollment, token, "entity not found", now)
		}

		return fmt.Errorf("failed to read entity snapshot: %w", err)
	}

	flat := snapshot.Flatten()

	if len(definition.ExitCriteria) > 0 {
		matched, err := conditions.Match(definition.ExitCriteria, flat)
		if err != nil {
			return fmt.Errorf("failed to evaluate exit criteria: %w", err)
		}

		if matched {
			logger.InfoContext(ctx, "Exit criteria matched, exiting")

			return e.exit(ctx, logger, enrollment, token, models.ExitReasonExitCriteria, now)
		}
	}

	return e.advance(ctx, logger, enrollment, definition, flat, token, now)
}

// advance is the bounded intra-tick loop. Each iteration handles the step at
// CurrentStepIndex and either moves the pointer, arms a delay, or reaches a
// terminal state.
func (e *Engine) advance(
	ctx context.Context,
	logger *slog.Logger,
	enrollment *models.Enrollment,
	definition *models.AutomationDefinition,
	snapshot map[string]any,
	token string,
	now time.Time,
) error {
	entries := make([]*models.ExecutionLogEntry, 0)

	for transitions := 0; transitions < MaxStepsPerTick; transitions++ {
		step, ok := definition.StepAt(enrollment.CurrentStepIndex)
		if !ok {
			return e.fail(ctx, logger, enrollment, token,
				fmt.Sprintf("step index %d out of range", enrollment.CurrentStepIndex), now)
		}

		stepLogger := logger.With("step_index", step.Index, "step_type", step.Type)

		var next *int

		switch step.Type {
		case models.StepTypeDelay:
			if !enrollment.DelayArmed {
				resumeAt := now.Add(step.Delay.Duration())
				enrollment.NextStepAt = &resumeAt
				enrollment.DelayArmed = true

				stepLogger.InfoContext(ctx, "Delay armed", "resume_at", resumeAt)

				return e.persist(ctx, logger, enrollment, token, entries)
			}

			if !enrollment.Due(now) {
				// Armed and not yet due. The claim raced the schedule; leave
				// the enrollment untouched.
				stepLogger.DebugContext(ctx, "Delay not yet due, no-op tick")

				if len(entries) == 0 {
					return nil
				}

				return e.persist(ctx, logger, enrollment, token, entries)
			}

			// Due: the delay is satisfied, advance without re-arming.
			enrollment.DelayArmed = false
			next = step.NextStepIndex
			entries = append(entries, logEntry(enrollment.ID, step.Index, models.StepOutcomeSuccess, "", now))

		case models.StepTypeAction:
			outcome, detail := e.runActions(ctx, stepLogger, enrollment, step, snapshot)
			entries = append(entries, logEntry(enrollment.ID, step.Index, outcome, detail, now))
			next = step.NextStepIndex

		case models.StepTypeCondition:
			matched, err := conditions.Match(step.Condition.Conditions, snapshot)
			if err != nil {
				entries = append(entries, logEntry(enrollment.ID, step.Index, models.StepOutcomeFailure, err.Error(), now))
				enrollment.Status = models.EnrollmentStatusFailed
				enrollment.CompletedAt = &now
				enrollment.NextStepAt = nil

				return e.persist(ctx, logger, enrollment, token, entries)
			}

			label := models.BranchLabelFalse
			if matched {
				label = models.BranchLabelTrue
			}

			next = branchTarget(step, label)
			entries = append(entries, logEntry(enrollment.ID, step.Index, models.StepOutcomeSuccess, "", now))

			stepLogger.InfoContext(ctx, "Condition evaluated", "matched", matched)

		case models.StepTypeBranch:
			label, err := matchBranch(step.Branch, snapshot)
			if err != nil {
				entries = append(entries, logEntry(enrollment.ID, step.Index, models.StepOutcomeFailure, err.Error(), now))
				enrollment.Status = models.EnrollmentStatusFailed
				enrollment.CompletedAt = &now
				enrollment.NextStepAt = nil

				return e.persist(ctx, logger, enrollment, token, entries)
			}

			if label != "" {
				next = branchTarget(step, label)
			}

			entries = append(entries, logEntry(enrollment.ID, step.Index, models.StepOutcomeSuccess, "", now))

			stepLogger.InfoContext(ctx, "Branch evaluated", "label", label)

		default:
			return e.fail(ctx, logger, enrollment, token,
				fmt.Sprintf("unknown step type %q at index %d", step.Type, step.Index), now)
		}

		if next == nil {
			enrollment.Status = models.EnrollmentStatusCompleted
			enrollment.CompletedAt = &now
			enrollment.NextStepAt = nil

			logger.InfoContext(ctx, "Enrollment completed", "final_step", step.Index)

			return e.persist(ctx, logger, enrollment, token, entries)
		}

		enrollment.CurrentStepIndex = *next
		enrollment.DelayArmed = false
		enrollment.NextStepAt = nil
	}

	logger.WarnContext(ctx, "Step bound reached, suspending tick", "max_steps", MaxStepsPerTick)

	return e.persist(ctx, logger, enrollment, token, entries)
}

// runActions executes the step's action items in order, honoring the step's
// error policy. Each occurrence carries a dedupe key so a replayed tick after
// a fault does not repeat side effects.
func (e *Engine) runActions(
	ctx context.Context,
	logger *slog.Logger,
	enrollment *models.Enrollment,
	step *models.Step,
	snapshot map[string]any,
) (models.StepOutcome, string) {
	policy := step.Action.OnError.OrDefault()
	failures := make([]string, 0)

	for i, item := range step.Action.Actions {
		key := fmt.Sprintf("%s:%d:%d", enrollment.ID, step.Index, i)

		fresh, err := e.dedupe.Claim(ctx, key, dedupeTTL)
		if err != nil {
			logger.WarnContext(ctx, "Dedupe claim failed, executing anyway", "error", err, "dedupe_key", key)
		} else if !fresh {
			logger.InfoContext(ctx, "Action already performed, skipping", "action_type", item.Type, "dedupe_key", key)

			continue
		}

		err = e.runAction(ctx, logger, enrollment, item, snapshot, key)
		if err != nil {
			logger.ErrorContext(ctx, "Action failed", "action_type", item.Type, "error", err)

			failures = append(failures, fmt.Sprintf("%s: %v", item.Type, err))

			e.publishActionFailed(ctx, logger, enrollment, step.Index, item.Type, err)

			if policy == models.StepErrorAbort {
				break
			}
		}
	}

	if len(failures) > 0 {
		return models.StepOutcomeFailure, strings.Join(failures, "; ")
	}

	return models.StepOutcomeSuccess, ""
}

func (e *Engine) runAction(
	ctx context.Context,
	logger *slog.Logger,
	enrollment *models.Enrollment,
	item models.ActionItem,
	snapshot map[string]any,
	dedupeKey string,
) error {
	action, err := e.registry.CreateAction(item.Type, item.Configuration)
	if err != nil {
		return fmt.Errorf("failed to create action: %w", err)
	}

	_, err = action.Execute(ctx, protocol.ActionContext{
		EnrollmentID: enrollment.ID,
		AutomationID: enrollment.AutomationID,
		EntityType:   enrollment.EntityType,
		EntityID:     enrollment.EntityID,
		Snapshot:     snapshot,
		DedupeKey:    dedupeKey,
	}, logger)

	return err
}

// exit moves the enrollment to exited with the given reason, appending one log
// entry for the exit.
func (e *Engine) exit(
	ctx context.Context,
	logger *slog.Logger,
	enrollment *models.Enrollment,
	token, reason string,
	now time.Time,
) error {
	enrollment.Status = models.EnrollmentStatusExited
	enrollment.CompletedAt = &now
	enrollment.NextStepAt = nil

	entry := logEntry(enrollment.ID, enrollment.CurrentStepIndex, models.StepOutcomeSkipped, reason, now)

	return e.persist(ctx, logger, enrollment, token, []*models.ExecutionLogEntry{entry})
}

func (e *Engine) fail(
	ctx context.Context,
	logger *slog.Logger,
	enrollment *models.Enrollment,
	token, detail string,
	now time.Time,
) error {
	enrollment.Status = models.EnrollmentStatusFailed
	enrollment.CompletedAt = &now
	enrollment.NextStepAt = nil

	entry := logEntry(enrollment.ID, enrollment.CurrentStepIndex, models.StepOutcomeFailure, detail, now)

	return e.persist(ctx, logger, enrollment, token, []*models.ExecutionLogEntry{entry})
}

// persist writes the tick's transition through the conditional update. A
// discarded write means a raced unenroll or lease takeover won; in that case
// the log entries are dropped too, since they describe a transition that never
// took effect.
func (e *Engine) persist(
	ctx context.Context,
	logger *slog.Logger,
	enrollment *models.Enrollment,
	token string,
	entries []*models.ExecutionLogEntry,
) error {
	applied, err := e.persistence.Enrollments().UpdateFromTick(ctx, enrollment, token)
	if err != nil {
		return fmt.Errorf("failed to persist tick for enrollment %s: %w", enrollment.ID, err)
	}

	if !applied {
		logger.InfoContext(ctx, "Tick result discarded as stale")

		return nil
	}

	if len(entries) > 0 {
		err = e.persistence.ExecutionLog().Append(ctx, entries...)
		if err != nil {
			return fmt.Errorf("failed to append execution log: %w", err)
		}
	}

	if enrollment.Status.Terminal() {
		e.publishFinished(ctx, logger, enrollment, entries)
	}

	return nil
}

func (e *Engine) publishFinished(ctx context.Context, logger *slog.Logger, enrollment *models.Enrollment, entries []*models.ExecutionLogEntry) {
	if e.publisher == nil {
		return
	}

	reason := ""
	if len(entries) > 0 {
		reason = entries[len(entries)-1].ErrorDetail
	}

	event := events.EnrollmentFinished{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentFinishedEvent),
		EnrollmentID: enrollment.ID,
		AutomationID: enrollment.AutomationID,
		EntityType:   enrollment.EntityType,
		EntityID:     enrollment.EntityID,
		Status:       enrollment.Status,
		Reason:       reason,
	}

	err := e.publisher.Publish(ctx, enrollment.ID, event)
	if err != nil {
		logger.WarnContext(ctx, "Failed to publish enrollment finished event", "error", err)
	}
}

func (e *Engine) publishActionFailed(ctx context.Context, logger *slog.Logger, enrollment *models.Enrollment, stepIndex int, actionType string, actionErr error) {
	if e.publisher == nil {
		return
	}

	event := events.ActionFailed{
		BaseEvent:    events.NewBaseEvent(events.ActionFailedEvent),
		EnrollmentID: enrollment.ID,
		AutomationID: enrollment.AutomationID,
		StepIndex:    stepIndex,
		ActionType:   actionType,
		Error:        actionErr.Error(),
	}

	err := e.publisher.Publish(ctx, enrollment.ID, event)
	if err != nil {
		logger.WarnContext(ctx, "Failed to publish action failed event", "error", err)
	}
}

func branchTarget(step *models.Step, label string) *int {
	target, ok := step.BranchStepIndices[label]
	if !ok {
		return nil
	}

	return &target
}

// matchBranch evaluates the branch rules in order; the first match wins,
// falling back to the default label. An empty label means no rule matched and
// no default exists.
func matchBranch(config *models.BranchStepConfig, snapshot map[string]any) (string, error) {
	for _, rule := range config.Branches {
		matched, err := conditions.Match(rule.Conditions, snapshot)
		if err != nil {
			return "", err
		}

		if matched {
			return rule.Label, nil
		}
	}

	return config.DefaultLabel, nil
}

func logEntry(enrollmentID string, stepIndex int, outcome models.StepOutcome, detail string, at time.Time) *models.ExecutionLogEntry {
	return &models.ExecutionLogEntry{
		EnrollmentID: enrollmentID,
		StepIndex:    stepIndex,
		Outcome:      outcome,
		Timestamp:    at,
		ErrorDetail:  detail,
	}
}
