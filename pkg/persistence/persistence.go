// Package persistence stores the workflows and simulated runs of the development run service.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/apiflow/pkg/models"
)

// StoredWorkflow is a workflow document together with its bookkeeping timestamps.
type StoredWorkflow struct {
	ID        string                  `json:"id"`
	Document  models.WorkflowDocument `json:"document"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// StoredRun is a run being simulated node by node. Plan lists the nodes to execute in order and
// Cursor counts how many of them already ran.
type StoredRun struct {
	ID            string                          `json:"id"`
	WorkflowID    string                          `json:"workflow_id"`
	EnvironmentID string                          `json:"environment_id,omitempty"`
	Status        models.RunStatus                `json:"status"`
	Plan          []string                        `json:"plan"`
	Cursor        int                             `json:"cursor"`
	NodeStatuses  map[string]models.NodeRunStatus `json:"node_statuses"`
	Resume        *models.ResumeRequest           `json:"resume,omitempty"`
	CreatedAt     time.Time                       `json:"created_at"`
	UpdatedAt     time.Time                       `json:"updated_at"`
}

// Session returns the run as reported to clients.
func (r *StoredRun) Session() *models.RunSession {
	statuses := make(map[string]models.NodeRunStatus, len(r.NodeStatuses))
	for id, status := range r.NodeStatuses {
		statuses[id] = status
	}

	return &models.RunSession{
		RunID:        r.ID,
		Status:       r.Status,
		NodeStatuses: statuses,
	}
}

type Persistence interface {
	Workflows(ctx context.Context) ([]*StoredWorkflow, error)
	SaveWorkflow(ctx context.Context, workflow *StoredWorkflow) error
	// WorkflowByID returns ErrWorkflowNotFound, wrapped, when no workflow has the id.
	WorkflowByID(ctx context.Context, id string) (*StoredWorkflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	SaveRun(ctx context.Context, run *StoredRun) error
	// RunByID returns ErrRunNotFound, wrapped, when the workflow has no such run.
	RunByID(ctx context.Context, workflowID, runID string) (*StoredRun, error)
	// RunsByWorkflow returns the runs of a workflow, newest first.
	RunsByWorkflow(ctx context.Context, workflowID string) ([]*StoredRun, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
