// Package web provides HTTP handlers and REST API endpoints for template
// authoring and instance execution.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/matterflow/pkg/actions"
	"github.com/dukex/matterflow/pkg/models"
	"github.com/dukex/matterflow/pkg/services"
)

type APIHandlers struct {
	templates *services.Templates
	instances *services.Instances
	validator *validator.Validate
	registry  *actions.Registry
}

func NewAPIHandlers(
	templates *services.Templates,
	instances *services.Instances,
	validator *validator.Validate,
	registry *actions.Registry,
) *APIHandlers {
	return &APIHandlers{
		templates: templates,
		instances: instances,
		validator: validator,
		registry:  registry,
	}
}

// Routes mounts every endpoint on router.
func (h *APIHandlers) Routes(router fiber.Router) {
	t := router.Group("/templates")
	t.Get("/", h.GetTemplates)
	t.Post("/", h.CreateTemplate)
	t.Get("/groups/:groupId/versions", h.GetTemplateVersions)
	t.Get("/groups/:groupId/active", h.GetActiveTemplate)
	t.Post("/groups/:groupId/create-draft", h.CreateDraftFromActive)
	t.Get("/:id", h.GetTemplate)
	t.Patch("/:id", h.UpdateTemplate)
	t.Delete("/:id", h.DeleteTemplate)
	t.Post("/:id/validate", h.ValidateTemplate)
	t.Post("/:id/activate", h.ActivateTemplate)
	t.Post("/:id/steps", h.AddStep)
	t.Put("/:id/steps/:stepId", h.UpdateStep)
	t.Delete("/:id/steps/:stepId", h.RemoveStep)
	t.Post("/:id/dependencies", h.AddDependency)
	t.Delete("/:id/dependencies/:dependencyId", h.RemoveDependency)

	i := router.Group("/instances")
	i.Get("/", h.GetInstances)
	i.Post("/", h.StartInstance)
	i.Get("/:id", h.GetInstance)
	i.Post("/:id/steps/:stepId/complete", h.CompleteStep)
	i.Post("/:id/steps/:stepId/skip", h.SkipStep)
	i.Post("/:id/cancel", h.CancelInstance)
	i.Post("/:id/recompute", h.RecomputeInstance)
	i.Patch("/:id/context", h.UpdateContext)

	router.Get("/action-types", h.GetActionTypes)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	req, err := parseListTemplatesRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.templates.List(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"templates":     result.Templates,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

// parseListTemplatesRequest parses query parameters for listing templates.
func parseListTemplatesRequest(c fiber.Ctx) (*services.ListTemplatesRequest, error) {
	req := &services.ListTemplatesRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	req.OwnerID = c.Query("owner_id")
	req.GroupID = c.Query("group_id")

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.TemplateStatus(statusStr)
		req.Status = &status
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	template, err := h.templates.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) CreateTemplate(c fiber.Ctx) error {
	var req CreateTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.templates.Create(c.Context(), &models.Template{
		Name:         req.Name,
		Description:  req.Description,
		Owner:        req.Owner,
		Metadata:     req.Metadata,
		Steps:        stepsToModel(req.Steps),
		Dependencies: dependenciesToModel(req.Dependencies),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateTemplate(c fiber.Ctx) error {
	id := c.Params("id")

	var req UpdateTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.templates.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.Metadata != nil {
		existing.Metadata = req.Metadata
	}

	if req.Steps != nil {
		existing.Steps = stepsToModel(req.Steps)
	}

	if req.Dependencies != nil {
		existing.Dependencies = dependenciesToModel(req.Dependencies)
	}

	updated, err := h.templates.Update(c.Context(), id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteTemplate(c fiber.Ctx) error {
	if err := h.templates.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ValidateTemplate reports validation problems with 200; an invalid template
// is a valid answer here.
func (h *APIHandlers) ValidateTemplate(c fiber.Ctx) error {
	errs, err := h.templates.Validate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	issues := make([]ValidationIssue, 0, len(errs))
	for _, e := range errs {
		issues = append(issues, ValidationIssue{
			Kind:    string(e.Kind),
			StepIDs: e.StepIDs,
			Path:    e.Path,
			Message: e.Message,
		})
	}

	return c.JSON(ValidateTemplateResponse{Valid: len(issues) == 0, Errors: issues})
}

func (h *APIHandlers) ActivateTemplate(c fiber.Ctx) error {
	activated, err := h.templates.Activate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(activated)
}

func (h *APIHandlers) GetTemplateVersions(c fiber.Ctx) error {
	versions, err := h.templates.GetVersions(c.Context(), c.Params("groupId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(versions)
}

func (h *APIHandlers) GetActiveTemplate(c fiber.Ctx) error {
	active, err := h.templates.GetActive(c.Context(), c.Params("groupId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(active)
}

func (h *APIHandlers) CreateDraftFromActive(c fiber.Ctx) error {
	draft, err := h.templates.CreateDraftFromActive(c.Context(), c.Params("groupId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(draft)
}

func (h *APIHandlers) AddStep(c fiber.Ctx) error {
	var req StepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	step, err := h.templates.AddStep(c.Context(), c.Params("id"), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(step)
}

func (h *APIHandlers) UpdateStep(c fiber.Ctx) error {
	var req StepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	step, err := h.templates.UpdateStep(c.Context(), c.Params("id"), c.Params("stepId"), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(step)
}

func (h *APIHandlers) RemoveStep(c fiber.Ctx) error {
	if err := h.templates.RemoveStep(c.Context(), c.Params("id"), c.Params("stepId")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) AddDependency(c fiber.Ctx) error {
	var req DependencyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	dep, err := h.templates.AddDependency(c.Context(), c.Params("id"), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dep)
}

func (h *APIHandlers) RemoveDependency(c fiber.Ctx) error {
	if err := h.templates.RemoveDependency(c.Context(), c.Params("id"), c.Params("dependencyId")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetActionTypes(c fiber.Ctx) error {
	definitions := h.registry.Definitions()

	out := make([]ActionTypeResponse, 0, len(definitions))
	for _, d := range definitions {
		out = append(out, ActionTypeResponse{
			Type:        d.Type(),
			Name:        d.Name(),
			Description: d.Description(),
			Schema:      d.Schema(),
		})
	}

	return c.JSON(out)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryOk := len(h.registry.Definitions()) > 0
	registryCheck := "Action registry is empty"

	if registryOk {
		registryCheck = "Action registry is loaded"
	}

	repositoryCheck, repOk := h.templates.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Matterflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if registryOk && repOk {
		status = "healthy"
		message = "Matterflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
