package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/dukex/apiflow/pkg/persistence"
	"github.com/dukex/apiflow/pkg/studio"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
)

type Workflow struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persistence,
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns every stored workflow, most recently updated first.
func (w *Workflow) List(ctx context.Context) ([]*persistence.StoredWorkflow, error) {
	workflows, err := w.persistence.Workflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// Get returns the document of a workflow.
func (w *Workflow) Get(ctx context.Context, id string) (*models.WorkflowDocument, error) {
	stored, err := w.persistence.WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return &stored.Document, nil
}

// Save creates or replaces the document of a workflow after checking its integrity.
func (w *Workflow) Save(ctx context.Context, id string, doc models.WorkflowDocument) error {
	if err := persistence.ValidateID(id); err != nil {
		return NewValidationError("Save", "invalid_id", err.Error(), ErrInvalidRequest)
	}

	if issues := studio.CheckDocument(doc); len(issues) > 0 {
		messages := make([]string, 0, len(issues))
		for _, issue := range issues {
			messages = append(messages, issue.String())
		}

		return NewValidationError("Save", "invalid_document", strings.Join(messages, "; "), ErrInvalidDocument)
	}

	if doc.Variables == nil {
		doc.Variables = models.VariableMap{}
	}

	stored := &persistence.StoredWorkflow{ID: id, Document: doc}

	existing, err := w.persistence.WorkflowByID(ctx, id)
	if err != nil && !persistence.IsWorkflowNotFound(err) {
		return fmt.Errorf("failed to load workflow %s: %w", id, err)
	}

	if existing != nil {
		stored.CreatedAt = existing.CreatedAt
	}

	err = w.persistence.SaveWorkflow(ctx, stored)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", id, err)
	}

	w.logger.InfoContext(ctx, "Workflow saved", "workflow_id", id, "nodes", len(doc.Nodes), "edges", len(doc.Edges))

	return nil
}

// Delete removes a workflow and its runs.
func (w *Workflow) Delete(ctx context.Context, id string) error {
	if _, err := w.persistence.WorkflowByID(ctx, id); err != nil {
		return err
	}

	return w.persistence.DeleteWorkflow(ctx, id)
}
