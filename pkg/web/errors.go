package web

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/dukex/matterflow/pkg/engine"
	"github.com/dukex/matterflow/pkg/persistence"
	"github.com/dukex/matterflow/pkg/services"
)

// validationProblem carries every template validation error next to the
// RFC 7807 fields.
type validationProblem struct {
	*problems.Problem

	Errors engine.ValidationErrors `json:"errors"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	if errs, ok := engine.AsValidationErrors(err); ok {
		problem := validationProblem{
			Problem: problems.NewStatusProblem(400).
				WithInstance(c.Path()).
				WithType("invalid_template").
				WithDetail(errs.Error()),
			Errors: errs,
		}

		return c.Status(fiber.StatusBadRequest).JSON(problem)
	}

	switch {
	case services.IsValidationError(err):
		return respond(c, fiber.StatusBadRequest, problemType(err, "validation_error"), err.Error())

	case services.IsNotFoundError(err):
		return respond(c, fiber.StatusNotFound, notFoundType(err), err.Error())

	case services.IsConflictError(err):
		return respond(c, fiber.StatusConflict, problemType(err, "conflict"), err.Error())

	default:
		// Log unexpected errors but don't expose details
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}

func respond(c fiber.Ctx, status int, kind, detail string) error {
	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(problem)
}

// problemType prefers the service error code, e.g. TEMPLATE_ACTIVE becomes
// template_active.
func problemType(err error, fallback string) string {
	var serviceErr *services.ServiceError
	if errors.As(err, &serviceErr) && serviceErr.Code != "" {
		return strings.ToLower(serviceErr.Code)
	}

	return fallback
}

func notFoundType(err error) string {
	switch {
	case persistence.IsTemplateNotFound(err):
		return "template_not_found"
	case persistence.IsActiveTemplateNotFound(err):
		return "active_template_not_found"
	case persistence.IsDraftTemplateNotFound(err):
		return "draft_template_not_found"
	case persistence.IsInstanceNotFound(err):
		return "instance_not_found"
	case errors.Is(err, services.ErrDependencyNotFound):
		return "dependency_not_found"
	default:
		return "step_not_found"
	}
}
