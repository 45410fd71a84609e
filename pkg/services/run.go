package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/dukex/apiflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
)

// SimulateKey is the node config key that forces the outcome of a simulated node: "error" fails
// the node and the run, "warning" completes it with a warning.
const SimulateKey = "simulate"

// ErrRunNotFound is returned when a run is not found.
var ErrRunNotFound = persistence.ErrRunNotFound

// TriggerRequest starts a run, optionally replaying from nodes of an earlier run.
type TriggerRequest struct {
	EnvironmentID string
	Secrets       map[string]any
	Resume        *models.ResumeRequest
}

type RunsOption func(*Runs)

func WithClock(clock clockwork.Clock) RunsOption {
	return func(r *Runs) {
		r.clock = clock
	}
}

func WithIDGenerator(newID models.IDGenerator) RunsOption {
	return func(r *Runs) {
		r.newID = newID
	}
}

// Runs simulates workflow runs. Each poll of a running run executes the next node of its plan.
type Runs struct {
	persistence  persistence.Persistence
	environments *Environments
	clock        clockwork.Clock
	logger       *slog.Logger
	validate     *validator.Validate
	newID        models.IDGenerator

	// mu serializes run progress so concurrent polls advance a run one node at a time.
	mu sync.Mutex
}

func NewRuns(persistence persistence.Persistence, environments *Environments, logger *slog.Logger, opts ...RunsOption) *Runs {
	runs := &Runs{
		persistence:  persistence,
		environments: environments,
		clock:        clockwork.NewRealClock(),
		logger:       logger.With("module", "run_service"),
		validate:     validator.New(),
		newID:        models.NewID,
	}

	for _, opt := range opts {
		opt(runs)
	}

	return runs
}

// Trigger validates the request, plans the run and stores it as running.
func (r *Runs) Trigger(ctx context.Context, workflowID string, req TriggerRequest) (string, error) {
	if req.Resume != nil {
		if err := r.validate.Struct(req.Resume); err != nil {
			return "", NewValidationError("Trigger", "invalid_resume", err.Error(), ErrInvalidResume)
		}
	}

	stored, err := r.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return "", err
	}

	if req.EnvironmentID != "" {
		if err := r.checkSecrets(ctx, req.EnvironmentID, req.Secrets); err != nil {
			return "", err
		}
	}

	run := &persistence.StoredRun{
		ID:            r.newID("run"),
		WorkflowID:    workflowID,
		EnvironmentID: req.EnvironmentID,
		Status:        models.RunStatusRunning,
		NodeStatuses:  make(map[string]models.NodeRunStatus),
		Resume:        req.Resume,
	}

	if req.Resume != nil {
		err = r.planResume(ctx, stored.Document, run)
	} else {
		err = planFromStart(stored.Document, run)
	}

	if err != nil {
		return "", err
	}

	if len(run.Plan) > 0 {
		run.NodeStatuses[run.Plan[0]] = models.NodeRunStatus{
			Status:    models.ExecutionStatusRunning,
			Timestamp: r.clock.Now().UnixMilli(),
		}
	}

	err = r.persistence.SaveRun(ctx, run)
	if err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}

	r.logger.InfoContext(ctx, "Run triggered",
		"workflow_id", workflowID,
		"run_id", run.ID,
		"environment_id", req.EnvironmentID,
		"plan", len(run.Plan),
		"resume", req.Resume != nil,
	)

	return run.ID, nil
}

func (r *Runs) checkSecrets(ctx context.Context, environmentID string, provided map[string]any) error {
	if r.environments == nil {
		return fmt.Errorf("environment %s: %w", environmentID, ErrEnvironmentNotFound)
	}

	env, err := r.environments.Get(ctx, environmentID)
	if err != nil {
		return err
	}

	var missing []string

	for _, key := range env.SecretKeys() {
		value, ok := provided[key]
		if !ok || value == nil || value == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return NewValidationError("Trigger", "missing_secrets",
			"missing secrets: "+strings.Join(missing, ", "), ErrMissingSecrets)
	}

	return nil
}

func planFromStart(doc models.WorkflowDocument, run *persistence.StoredRun) error {
	roots := startNodes(doc)
	if len(roots) == 0 {
		return NewValidationError("Trigger", "no_start_node", "", ErrNoStartNode)
	}

	run.Plan = executionPlan(doc, roots)

	return nil
}

// planResume plans from the requested nodes and carries over the results of the source run for
// every node the new run does not execute.
func (r *Runs) planResume(ctx context.Context, doc models.WorkflowDocument, run *persistence.StoredRun) error {
	for _, id := range run.Resume.StartNodeIDs {
		if findDocumentNode(doc, id) == nil {
			return NewValidationError("Trigger", "invalid_resume", "unknown start node "+id, ErrInvalidResume)
		}
	}

	source, err := r.persistence.RunByID(ctx, run.WorkflowID, run.Resume.SourceRunID)
	if persistence.IsRunNotFound(err) {
		return NewValidationError("Trigger", "invalid_resume",
			"source run "+run.Resume.SourceRunID+" not found", ErrInvalidResume)
	}

	if err != nil {
		return fmt.Errorf("failed to load source run: %w", err)
	}

	run.Plan = executionPlan(doc, run.Resume.StartNodeIDs)

	planned := make(map[string]bool, len(run.Plan))
	for _, id := range run.Plan {
		planned[id] = true
	}

	for id, status := range source.NodeStatuses {
		if !planned[id] {
			run.NodeStatuses[id] = status
		}
	}

	return nil
}

// Get returns the run, executing its next node first when it is still running.
func (r *Runs) Get(ctx context.Context, workflowID, runID string) (*models.RunSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, err := r.persistence.RunByID(ctx, workflowID, runID)
	if err != nil {
		return nil, err
	}

	if run.Status.Terminal() {
		return run.Session(), nil
	}

	stored, err := r.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	r.advance(ctx, run, stored.Document)

	err = r.persistence.SaveRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	return run.Session(), nil
}

func (r *Runs) advance(ctx context.Context, run *persistence.StoredRun, doc models.WorkflowDocument) {
	if run.Cursor >= len(run.Plan) {
		run.Status = models.RunStatusCompleted

		return
	}

	now := r.clock.Now().UnixMilli()
	nodeID := run.Plan[run.Cursor]
	run.Cursor++

	status := simulateNode(findDocumentNode(doc, nodeID))
	status.Timestamp = now
	run.NodeStatuses[nodeID] = status

	r.logger.DebugContext(ctx, "Node simulated", "run_id", run.ID, "node_id", nodeID, "status", status.Status)

	switch {
	case status.Status == models.ExecutionStatusError:
		run.Status = models.RunStatusFailed
	case run.Cursor == len(run.Plan):
		run.Status = models.RunStatusCompleted
	default:
		run.NodeStatuses[run.Plan[run.Cursor]] = models.NodeRunStatus{Status: models.ExecutionStatusRunning, Timestamp: now}
	}

	if run.Status.Terminal() {
		r.logger.InfoContext(ctx, "Run settled", "run_id", run.ID, "status", run.Status)
	}
}

func simulateNode(node *models.DocumentNode) models.NodeRunStatus {
	if node == nil {
		return models.NodeRunStatus{
			Status: models.ExecutionStatusError,
			Result: &models.ResponseSnapshot{Error: "node no longer exists in the workflow"},
		}
	}

	switch node.Config[SimulateKey] {
	case "error":
		return models.NodeRunStatus{
			Status: models.ExecutionStatusError,
			Result: &models.ResponseSnapshot{Error: "simulated failure of " + node.NodeID},
		}
	case "warning":
		return models.NodeRunStatus{Status: models.ExecutionStatusWarning}
	}

	if node.Type == models.NodeTypeHTTPRequest {
		duration := int64(0)

		return models.NodeRunStatus{
			Status: models.ExecutionStatusSuccess,
			Result: &models.ResponseSnapshot{
				StatusCode: 200,
				Body:       map[string]any{"simulated": true},
				Duration:   &duration,
			},
		}
	}

	return models.NodeRunStatus{Status: models.ExecutionStatusSuccess}
}

// List returns the runs of a workflow, newest first.
func (r *Runs) List(ctx context.Context, workflowID string) ([]*persistence.StoredRun, error) {
	if _, err := r.persistence.WorkflowByID(ctx, workflowID); err != nil {
		return nil, err
	}

	return r.persistence.RunsByWorkflow(ctx, workflowID)
}

// LatestFailed describes the most recent failed run of a workflow and its failed nodes, in
// document order.
func (r *Runs) LatestFailed(ctx context.Context, workflowID string) (*models.LatestFailedRun, error) {
	stored, err := r.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	runs, err := r.persistence.RunsByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	for _, run := range runs {
		if run.Status != models.RunStatusFailed {
			continue
		}

		return &models.LatestFailedRun{
			HasFailedRun: true,
			RunID:        run.ID,
			FailedNodes:  failedNodes(stored.Document, run),
		}, nil
	}

	return &models.LatestFailedRun{FailedNodes: []models.FailedNode{}}, nil
}

func failedNodes(doc models.WorkflowDocument, run *persistence.StoredRun) []models.FailedNode {
	failed := make([]models.FailedNode, 0)
	seen := make(map[string]bool)

	for _, node := range doc.Nodes {
		if run.NodeStatuses[node.NodeID].Status == models.ExecutionStatusError {
			seen[node.NodeID] = true
			failed = append(failed, models.FailedNode{NodeID: node.NodeID, Label: node.Label, Type: node.Type})
		}
	}

	for _, id := range run.Plan {
		if !seen[id] && run.NodeStatuses[id].Status == models.ExecutionStatusError {
			failed = append(failed, models.FailedNode{NodeID: id, Label: id})
		}
	}

	return failed
}
