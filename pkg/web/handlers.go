// Package web provides the REST API for automation management, enrollment
// administration, and execution-log diagnostics.
package web

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/nurtura/nurtura/pkg/enrollment"
	"github.com/nurtura/nurtura/pkg/models"
	"github.com/nurtura/nurtura/pkg/persistence"
	"github.com/nurtura/nurtura/pkg/registry"
	"github.com/nurtura/nurtura/pkg/services"
)

type APIHandlers struct {
	automationService *services.Automation
	manager           *enrollment.Manager
	persistence       persistence.Persistence
	registry          *registry.Registry
}

func NewAPIHandlers(
	automationService *services.Automation,
	manager *enrollment.Manager,
	persist persistence.Persistence,
	reg *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		automationService: automationService,
		manager:           manager,
		persistence:       persist,
		registry:          reg,
	}
}

// RegisterRoutes wires all handlers onto the app.
func RegisterRoutes(app *fiber.App, h *APIHandlers) {
	app.Get("/health", h.HealthCheck)
	app.Get("/actions", h.GetActionTypes)

	app.Get("/automations", h.GetAutomations)
	app.Post("/automations", h.CreateAutomation)
	app.Get("/automations/:id", h.GetAutomation)
	app.Put("/automations/:id", h.UpdateAutomation)
	app.Delete("/automations/:id", h.DeleteAutomation)
	app.Post("/automations/:id/activate", h.ActivateAutomation)
	app.Post("/automations/:id/deactivate", h.DeactivateAutomation)

	app.Post("/automations/:id/enroll", h.Enroll)
	app.Post("/automations/:id/unenroll", h.Unenroll)
	app.Get("/automations/:id/preview", h.PreviewEnrollment)
	app.Get("/automations/:id/enrollments", h.GetEnrollments)
	app.Get("/automations/:id/summary", h.GetSummary)

	app.Get("/enrollments/:id", h.GetEnrollment)
	app.Get("/enrollments/:id/log", h.GetExecutionLog)
	app.Post("/enrollments/:id/process", h.ProcessEnrollment)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.automationService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetActionTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"action_types": h.registry.ActionTypes()})
}

func (h *APIHandlers) GetAutomations(c fiber.Ctx) error {
	definitions, err := h.automationService.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"automations": definitions})
}

func (h *APIHandlers) GetAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	definition, err := h.automationService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) CreateAutomation(c fiber.Ctx) error {
	var req services.CreateAutomationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	created, err := h.automationService.Create(c.Context(), &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	var req services.CreateAutomationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.automationService.Update(c.Context(), id, &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	err := h.automationService.Delete(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateAutomation(c fiber.Ctx) error {
	return h.setActive(c, true)
}

func (h *APIHandlers) DeactivateAutomation(c fiber.Ctx) error {
	return h.setActive(c, false)
}

func (h *APIHandlers) setActive(c fiber.Ctx, active bool) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	updated, err := h.automationService.SetActive(c.Context(), id, active)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

// EnrollRequest identifies the entity to enroll and carries the optional
// event payload evaluated against the trigger filter.
type EnrollRequest struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	OwnerID    string         `json:"owner_id"`
	Payload    map[string]any `json:"payload"`
}

func (h *APIHandlers) Enroll(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	var req EnrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if req.EntityType == "" || req.EntityID == "" {
		return badRequest(c, "entity_type and entity_id are required")
	}

	definition, err := h.automationService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	enrolled, err := h.manager.Enroll(c.Context(), definition, req.EntityType, req.EntityID, req.OwnerID, req.Payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(enrolled)
}

type UnenrollRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

func (h *APIHandlers) Unenroll(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	var req UnenrollRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if req.EntityType == "" || req.EntityID == "" {
		return badRequest(c, "entity_type and entity_id are required")
	}

	exited, err := h.manager.Unenroll(c.Context(), id, req.EntityType, req.EntityID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(exited)
}

func (h *APIHandlers) PreviewEnrollment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	entityType := c.Query("entity_type")
	if entityType == "" {
		return badRequest(c, "entity_type query parameter is required")
	}

	definition, err := h.automationService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	matched, err := h.manager.PreviewEnrollment(c.Context(), definition, entityType)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"entity_ids": matched, "count": len(matched)})
}

func (h *APIHandlers) GetEnrollments(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	var status *models.EnrollmentStatus

	if statusStr := c.Query("status"); statusStr != "" {
		s := models.EnrollmentStatus(statusStr)
		status = &s
	}

	enrollments, err := h.manager.EnrolledEntities(c.Context(), id, status)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"enrollments": enrollments})
}

func (h *APIHandlers) GetSummary(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	counts, err := h.manager.Summary(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"counts": counts})
}

func (h *APIHandlers) GetEnrollment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	found, err := h.persistence.Enrollments().ByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(found)
}

func (h *APIHandlers) GetExecutionLog(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	entries, err := h.persistence.ExecutionLog().ByEnrollment(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"entries": entries})
}

// ProcessEnrollment forces an immediate tick, outside the scheduler cadence.
// The manual recovery path after action faults.
func (h *APIHandlers) ProcessEnrollment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	err := h.manager.ProcessNow(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	processed, err := h.persistence.Enrollments().ByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(processed)
}
