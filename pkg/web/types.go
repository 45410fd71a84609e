// Package web provides the HTTP handlers of the development Run Service.
package web

import (
	"time"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/dukex/apiflow/pkg/persistence"
)

// TriggerRunRequest is the body of POST /workflows/{id}/run.
type TriggerRunRequest struct {
	Secrets map[string]any        `json:"secrets,omitempty"`
	Resume  *models.ResumeRequest `json:"resume,omitempty"`
}

// TriggerRunResponse carries the id of the started run.
type TriggerRunResponse struct {
	RunID string `json:"runId"`
}

// RunSummary is one entry of GET /workflows/{id}/runs.
type RunSummary struct {
	RunID         string           `json:"runId"`
	Status        models.RunStatus `json:"status"`
	EnvironmentID string           `json:"environmentId,omitempty"`
	Resumed       bool             `json:"resumed"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// WorkflowSummary is one entry of GET /workflows.
type WorkflowSummary struct {
	WorkflowID string    `json:"workflowId"`
	NodeCount  int       `json:"nodeCount"`
	EdgeCount  int       `json:"edgeCount"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func newRunSummary(run *persistence.StoredRun) RunSummary {
	return RunSummary{
		RunID:         run.ID,
		Status:        run.Status,
		EnvironmentID: run.EnvironmentID,
		Resumed:       run.Resume != nil,
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
	}
}

func newWorkflowSummary(workflow *persistence.StoredWorkflow) WorkflowSummary {
	return WorkflowSummary{
		WorkflowID: workflow.ID,
		NodeCount:  len(workflow.Document.Nodes),
		EdgeCount:  len(workflow.Document.Edges),
		UpdatedAt:  workflow.UpdatedAt,
	}
}
