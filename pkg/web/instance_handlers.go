package web

import (
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/matterflow/pkg/models"
	"github.com/dukex/matterflow/pkg/services"
)

func (h *APIHandlers) GetInstances(c fiber.Ctx) error {
	instances, err := h.instances.List(c.Context(), services.ListInstancesRequest{
		TemplateID: c.Query("template_id"),
		MatterID:   c.Query("matter_id"),
		Status:     models.InstanceStatus(c.Query("status")),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"instances":   instances,
		"total_count": len(instances),
	})
}

func (h *APIHandlers) StartInstance(c fiber.Ctx) error {
	var req StartInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	res, err := h.instances.Start(c.Context(), services.StartInstanceRequest{
		TemplateID: req.TemplateID,
		MatterID:   req.MatterID,
		ContactID:  req.ContactID,
		Context:    req.Context,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(res)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	instance, err := h.instances.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) CompleteStep(c fiber.Ctx) error {
	var req CompleteStepRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	res, err := h.instances.CompleteStep(c.Context(), c.Params("id"), c.Params("stepId"), req.Outcome)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(res)
}

func (h *APIHandlers) SkipStep(c fiber.Ctx) error {
	var req SkipStepRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	res, err := h.instances.SkipStep(c.Context(), c.Params("id"), c.Params("stepId"), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(res)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	res, err := h.instances.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(res)
}

func (h *APIHandlers) RecomputeInstance(c fiber.Ctx) error {
	res, err := h.instances.Recompute(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(res)
}

func (h *APIHandlers) UpdateContext(c fiber.Ctx) error {
	var req UpdateContextRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.instances.UpdateContext(c.Context(), c.Params("id"), req.Context)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}
