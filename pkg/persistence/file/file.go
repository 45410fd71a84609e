// Package file provides file-based persistence for the development run service.
package file

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/dukex/apiflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system. Workflows are kept under
// {root}/workflows/{id}.json and runs under {root}/runs/{workflowId}/{runId}.json.
type Persistence struct {
	root         string
	mu           sync.RWMutex
	workflowRepo *WorkflowRepository
	runRepo      *RunRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:         cleanRoot,
		workflowRepo: NewWorkflowRepository(cleanRoot),
		runRepo:      NewRunRepository(cleanRoot),
	}
}

var _ persistence.Persistence = (*Persistence)(nil)

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Workflows(ctx context.Context) ([]*persistence.StoredWorkflow, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	return fp.workflowRepo.GetAll(ctx)
}

func (fp *Persistence) SaveWorkflow(ctx context.Context, workflow *persistence.StoredWorkflow) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.workflowRepo.Save(ctx, workflow)
}

func (fp *Persistence) WorkflowByID(ctx context.Context, id string) (*persistence.StoredWorkflow, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	return fp.workflowRepo.GetByID(ctx, id)
}

// DeleteWorkflow removes a workflow and its runs.
func (fp *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if err := fp.workflowRepo.Delete(ctx, id); err != nil {
		return err
	}

	return fp.runRepo.DeleteByWorkflow(ctx, id)
}

func (fp *Persistence) SaveRun(ctx context.Context, run *persistence.StoredRun) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.runRepo.Save(ctx, run)
}

func (fp *Persistence) RunByID(ctx context.Context, workflowID, runID string) (*persistence.StoredRun, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	return fp.runRepo.GetByID(ctx, workflowID, runID)
}

func (fp *Persistence) RunsByWorkflow(ctx context.Context, workflowID string) ([]*persistence.StoredRun, error) {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	return fp.runRepo.GetByWorkflow(ctx, workflowID)
}
