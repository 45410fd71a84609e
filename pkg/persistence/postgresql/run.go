package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/dukex/apiflow/pkg/persistence"
)

// RunRepository handles run-related database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const runColumns = `
			id
		  , workflow_id
		  , environment_id
		  , status
		  , plan
		  , plan_cursor
		  , node_statuses
		  , resume
		  , created_at
		  , updated_at
`

// Save inserts a run or updates its progress.
func (r *RunRepository) Save(ctx context.Context, run *persistence.StoredRun) error {
	if err := persistence.ValidateID(run.ID); err != nil {
		return persistence.NewRunError("Save", run.WorkflowID, run.ID, err)
	}

	now := time.Now().UTC()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}

	run.UpdatedAt = now

	plan := run.Plan
	if plan == nil {
		plan = []string{}
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	statuses := run.NodeStatuses
	if statuses == nil {
		statuses = map[string]models.NodeRunStatus{}
	}

	statusesJSON, err := json.Marshal(statuses)
	if err != nil {
		return fmt.Errorf("failed to marshal node statuses: %w", err)
	}

	var resume any
	if run.Resume != nil {
		resumeJSON, err := json.Marshal(run.Resume)
		if err != nil {
			return fmt.Errorf("failed to marshal resume request: %w", err)
		}

		resume = resumeJSON
	}

	query := `
		INSERT INTO runs (id, workflow_id, environment_id, status, plan, plan_cursor,
node_statuses, resume, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			plan = EXCLUDED.plan,
			plan_cursor = EXCLUDED.plan_cursor,
			node_statuses = EXCLUDED.node_statuses,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.WorkflowID,
		sql.NullString{String: run.EnvironmentID, Valid: run.EnvironmentID != ""},
		string(run.Status),
		planJSON,
		run.Cursor,
		statusesJSON,
		resume,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, workflowID, runID string) (*persistence.StoredRun, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1 AND workflow_id = $2`

	run, err := r.scanRun(r.db.QueryRowContext(ctx, query, runID, workflowID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetByID", workflowID, runID, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return run, nil
}

// GetByWorkflow returns the runs of a workflow, newest first.
func (r *RunRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*persistence.StoredRun, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE workflow_id = $1 ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func(ctx context.Context, r *RunRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	runs := make([]*persistence.StoredRun, 0)

	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func (r *RunRepository) scanRun(scanner rowScanner) (*persistence.StoredRun, error) {
	var (
		run           persistence.StoredRun
		environmentID sql.NullString
		status        string
		planJSON      []byte
		statusesJSON  []byte
		resumeJSON    []byte
	)

	err := scanner.Scan(
		&run.ID,
		&run.WorkflowID,
		&environmentID,
		&status,
		&planJSON,
		&run.Cursor,
		&statusesJSON,
		&resumeJSON,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.EnvironmentID = environmentID.String
	run.Status = models.RunStatus(status)

	err = json.Unmarshal(planJSON, &run.Plan)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}

	err = json.Unmarshal(statusesJSON, &run.NodeStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal node statuses: %w", err)
	}

	if len(resumeJSON) > 0 {
		run.Resume = &models.ResumeRequest{}

		err = json.Unmarshal(resumeJSON, run.Resume)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal resume request: %w", err)
		}
	}

	return &run, nil
}
