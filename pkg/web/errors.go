package web

import (
	"errors"

	"github.com/dukex/apiflow/pkg/persistence"
	"github.com/dukex/apiflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		var serviceErr *services.ServiceError

		problemType := "validation_error"
		if errors.As(err, &serviceErr) && serviceErr.Code != "" {
			problemType = serviceErr.Code
		}

		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType(problemType).
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow_not_found", "workflow not found")

	case persistence.IsRunNotFound(err):
		return notFound(c, "run_not_found", "run not found")

	case errors.Is(err, services.ErrEnvironmentNotFound):
		return notFound(c, "environment_not_found", "environment not found")

	case errors.Is(err, persistence.ErrInvalidID):
		return badRequest(c, err.Error())

	default:
		// Log unexpected errors but don't expose details
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
