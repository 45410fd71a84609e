package mocks

import (
	"context"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/dukex/apiflow/pkg/runservice"
	"github.com/stretchr/testify/mock"
)

// MockRunService is a mock implementation of the run service client used by the runner and the studio.
type MockRunService struct {
	mock.Mock
}

func (m *MockRunService) TriggerRun(ctx context.Context, workflowID string, req runservice.RunRequest) (string, error) {
	args := m.Called(ctx, workflowID, req)

	return args.String(0), args.Error(1)
}

func (m *MockRunService) GetRun(ctx context.Context, workflowID, runID string) (*models.RunSession, error) {
	args := m.Called(ctx, workflowID, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.RunSession), args.Error(1)
}

func (m *MockRunService) LatestFailedRun(ctx context.Context, workflowID string) (*models.LatestFailedRun, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.LatestFailedRun), args.Error(1)
}

func (m *MockRunService) GetEnvironment(ctx context.Context, environmentID string) (*models.Environment, error) {
	args := m.Called(ctx, environmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Environment), args.Error(1)
}

func (m *MockRunService) SaveWorkflow(ctx context.Context, workflowID string, doc models.WorkflowDocument) error {
	args := m.Called(ctx, workflowID, doc)

	return args.Error(0)
}

func (m *MockRunService) GetWorkflow(ctx context.Context, workflowID string) (*models.WorkflowDocument, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDocument), args.Error(1)
}
