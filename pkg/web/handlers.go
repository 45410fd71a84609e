package web

import (
	"net/http"
	"time"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/dukex/apiflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService *services.Workflow
	runService      *services.Runs
	environments    *services.Environments
	validator       *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	runService *services.Runs,
	environments *services.Environments,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		runService:      runService,
		environments:    environments,
		validator:       validator,
	}
}

// Register mounts the run service routes on router.
func (h *APIHandlers) Register(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.SaveWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/run", h.TriggerRun)
	w.Get("/:id/runs", h.GetRuns)
	// latest-failed must be registered before the :runId route
	w.Get("/:id/runs/latest-failed", h.GetLatestFailedRun)
	w.Get("/:id/runs/:runId", h.GetRun)

	router.Get("/environments/:id", h.GetEnvironment)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "apiflow run service is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "apiflow run service is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	summaries := make([]WorkflowSummary, 0, len(workflows))
	for _, workflow := range workflows {
		summaries = append(summaries, newWorkflowSummary(workflow))
	}

	return c.JSON(summaries)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	doc, err := h.workflowService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(doc)
}

func (h *APIHandlers) SaveWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var doc models.WorkflowDocument
	if err := c.Bind().JSON(&doc); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.workflowService.Save(c.Context(), id, doc); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.workflowService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) TriggerRun(c fiber.Ctx) error {
	var req TriggerRunRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if req.Resume != nil {
		if err := h.validator.Struct(req.Resume); err != nil {
			return badRequest(c, err.Error())
		}
	}

	runID, err := h.runService.Trigger(c.Context(), c.Params("id"), services.TriggerRequest{
		EnvironmentID: c.Query("environmentId"),
		Secrets:       req.Secrets,
		Resume:        req.Resume,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TriggerRunResponse{RunID: runID})
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	runs, err := h.runService.List(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	summaries := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, newRunSummary(run))
	}

	return c.JSON(summaries)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	session, err := h.runService.Get(c.Context(), c.Params("id"), c.Params("runId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(session)
}

func (h *APIHandlers) GetLatestFailedRun(c fiber.Ctx) error {
	latest, err := h.runService.LatestFailed(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(latest)
}

func (h *APIHandlers) GetEnvironment(c fiber.Ctx) error {
	env, err := h.environments.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(env)
}
