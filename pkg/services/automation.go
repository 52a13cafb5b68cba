package services

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/nurtura/nurtura/pkg/models"
	"github.com/nurtura/nurtura/pkg/persistence"
	"github.com/nurtura/nurtura/pkg/registry"
)

// ErrAutomationNotFound is returned when an automation definition is not found.
var ErrAutomationNotFound = persistence.ErrDefinitionNotFound

// Automation handles definition-related business operations.
type Automation struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	validator   *validator.Validate
}

// NewAutomation creates a new automation service.
func NewAutomation(logger *slog.Logger, persist persistence.Persistence, reg *registry.Registry) *Automation {
	return &Automation{
		logger:      logger.With("module", "automation_service"),
		persistence: persist,
		registry:    reg,
		validator:   validator.New(),
	}
}

// HealthCheck checks the health of the persistence layer.
func (a *Automation) HealthCheck(ctx context.Context) (string, bool) {
	if a.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := a.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateAutomationRequest carries a new definition's fields.
type CreateAutomationRequest struct {
	OwnerID           string                   `json:"owner_id"`
	Name              string                   `json:"name"`
	Trigger           models.AutomationTrigger `json:"trigger"`
	IsMultiStep       bool                     `json:"is_multi_step"`
	Steps             []models.Step            `json:"steps"`
	ExitCriteria      []models.Condition       `json:"exit_criteria"`
	MaxDurationDays   int                      `json:"max_duration_days"`
	SafetyExitEnabled bool                     `json:"safety_exit_enabled"`
	IsActive          bool                     `json:"is_active"`
}

// Create validates and stores a new automation definition at version 1.
func (a *Automation) Create(ctx context.Context, req *CreateAutomationRequest) (*models.AutomationDefinition, error) {
	if req == nil {
		return nil, ErrAutomationNil
	}

	definition := &models.AutomationDefinition{
		OwnerID:           req.OwnerID,
		Name:              req.Name,
		Trigger:           req.Trigger,
		IsMultiStep:       req.IsMultiStep,
		Steps:             req.Steps,
		ExitCriteria:      req.ExitCriteria,
		MaxDurationDays:   req.MaxDurationDays,
		SafetyExitEnabled: req.SafetyExitEnabled,
		IsActive:          req.IsActive,
		Version:           1,
	}

	err := a.validate(definition)
	if err != nil {
		return nil, err
	}

	err = a.persistence.Definitions().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	a.logger.InfoContext(ctx, "Automation created", "automation_id", definition.ID, "name", definition.Name)

	return definition, nil
}

// Update replaces the definition's editable fields. Replacing the step list
// bumps Version so live enrollments exit instead of running against a
// re-indexed graph.
func (a *Automation) Update(ctx context.Context, id string, req *CreateAutomationRequest) (*models.AutomationDefinition, error) {
	if req == nil {
		return nil, ErrAutomationNil
	}

	definition, err := a.persistence.Definitions().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	stepsChanged := !reflect.DeepEqual(definition.Steps, req.Steps)

	definition.Name = req.Name
	definition.Trigger = req.Trigger
	definition.IsMultiStep = req.IsMultiStep
	definition.Steps = req.Steps
	definition.ExitCriteria = req.ExitCriteria
	definition.MaxDurationDays = req.MaxDurationDays
	definition.SafetyExitEnabled = req.SafetyExitEnabled
	definition.IsActive = req.IsActive

	if stepsChanged {
		definition.Version++
	}

	err = a.validate(definition)
	if err != nil {
		return nil, err
	}

	err = a.persistence.Definitions().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	a.logger.InfoContext(ctx, "Automation updated",
		"automation_id", definition.ID,
		"version", definition.Version,
		"steps_changed", stepsChanged)

	return definition, nil
}

// List returns all non-deleted definitions.
func (a *Automation) List(ctx context.Context) ([]*models.AutomationDefinition, error) {
	return a.persistence.Definitions().All(ctx)
}

// Get returns one definition by ID.
func (a *Automation) Get(ctx context.Context, id string) (*models.AutomationDefinition, error) {
	return a.persistence.Definitions().ByID(ctx, id)
}

// Delete soft-deletes the definition. Deleting is refused while active
// enrollments remain; unenroll or wait for them to finish first.
func (a *Automation) Delete(ctx context.Context, id string) error {
	_, err := a.persistence.Definitions().ByID(ctx, id)
	if err != nil {
		return err
	}

	counts, err := a.persistence.Enrollments().CountByStatus(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count enrollments: %w", err)
	}

	if counts[models.EnrollmentStatusActive] > 0 {
		return NewValidationError("Delete", "automation_in_use",
			fmt.Sprintf("automation has %d active enrollments", counts[models.EnrollmentStatusActive]),
			ErrAutomationInUse)
	}

	return a.persistence.Definitions().Delete(ctx, id)
}

// SetActive switches the automation on or off. Deactivating stops new
// enrollments; live ones keep running.
func (a *Automation) SetActive(ctx context.Context, id string, active bool) (*models.AutomationDefinition, error) {
	definition, err := a.persistence.Definitions().ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	definition.IsActive = active

	err = a.persistence.Definitions().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	return definition, nil
}

// validate runs the struct tags, the step-graph rules, and every action
// item's config schema. Unreachable steps are allowed but logged.
func (a *Automation) validate(definition *models.AutomationDefinition) error {
	err := a.validator.Struct(definition)
	if err != nil {
		return NewValidationError("validate", "invalid_automation", err.Error(), ErrInvalidRequest)
	}

	if definition.IsMultiStep && len(definition.Steps) == 0 {
		return ErrStepsRequired
	}

	err = definition.Validate()
	if err != nil {
		return NewValidationError("validate", "invalid_step_graph", err.Error(), ErrInvalidRequest)
	}

	for _, step := range definition.Steps {
		if step.Type != models.StepTypeAction {
			continue
		}

		for _, item := range step.Action.Actions {
			err = a.registry.ValidateActionConfig(item.Type, item.Configuration)
			if err != nil {
				return NewValidationError("validate", "invalid_action_config", err.Error(), ErrInvalidRequest)
			}
		}
	}

	if unreachable := definition.UnreachableSteps(); len(unreachable) > 0 {
		a.logger.Warn("Automation has unreachable steps",
			"automation_id", definition.ID,
			"unreachable", unreachable)
	}

	return nil
}
