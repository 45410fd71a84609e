package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/dukex/apiflow/pkg/persistence"
)

// RunRepository handles run-related file operations.
type RunRepository struct {
	root string
}

func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

func (rr *RunRepository) dir(workflowID string) string {
	return filepath.Join(rr.root, "runs", workflowID)
}

// Save writes a run, creating or overwriting it.
func (rr *RunRepository) Save(_ context.Context, run *persistence.StoredRun) error {
	if err := persistence.ValidateID(run.WorkflowID); err != nil {
		return persistence.NewRunError("Save", run.WorkflowID, run.ID, err)
	}

	if err := persistence.ValidateID(run.ID); err != nil {
		return persistence.NewRunError("Save", run.WorkflowID, run.ID, err)
	}

	runToSave := *run
	if runToSave.NodeStatuses == nil {
		runToSave.NodeStatuses = make(map[string]models.NodeRunStatus)
	}

	now := time.Now().UTC()
	if runToSave.CreatedAt.IsZero() {
		runToSave.CreatedAt = now
	}

	runToSave.UpdatedAt = now

	err := os.MkdirAll(rr.dir(run.WorkflowID), 0750)
	if err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	data, err := json.Marshal(runToSave)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	err = os.WriteFile(filepath.Join(rr.dir(run.WorkflowID), run.ID+".json"), data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write run %s: %w", run.ID, err)
	}

	run.CreatedAt = runToSave.CreatedAt
	run.UpdatedAt = runToSave.UpdatedAt

	return nil
}

// GetByID retrieves a run of a workflow.
func (rr *RunRepository) GetByID(_ context.Context, workflowID, runID string) (*persistence.StoredRun, error) {
	if err := persistence.ValidateID(workflowID); err != nil {
		return nil, persistence.NewRunError("GetByID", workflowID, runID, err)
	}

	if err := persistence.ValidateID(runID); err != nil {
		return nil, persistence.NewRunError("GetByID", workflowID, runID, err)
	}

	data, err := os.ReadFile(filepath.Join(rr.dir(workflowID), runID+".json")) // #nosec G304 -- ids are validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewRunError("GetByID", workflowID, runID, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}

	var run persistence.StoredRun

	err = json.Unmarshal(data, &run)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}

	return &run, nil
}

// GetByWorkflow returns every run of a workflow, newest first.
func (rr *RunRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*persistence.StoredRun, error) {
	if err := persistence.ValidateID(workflowID); err != nil {
		return nil, persistence.NewRunError("GetByWorkflow", workflowID, "", err)
	}

	jsonFiles, err := fs.Glob(os.DirFS(rr.dir(workflowID)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*persistence.StoredRun, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		run, err := rr.GetByID(ctx, workflowID, strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID > runs[j].ID
		}

		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	return runs, nil
}

// DeleteByWorkflow removes every run of a workflow.
func (rr *RunRepository) DeleteByWorkflow(_ context.Context, workflowID string) error {
	if err := os.RemoveAll(rr.dir(workflowID)); err != nil {
		return fmt.Errorf("failed to delete runs of workflow %s: %w", workflowID, err)
	}

	return nil
}
