package web_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/dukex/apiflow/pkg/persistence/file"
	"github.com/dukex/apiflow/pkg/services"
	"github.com/dukex/apiflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/moogar0880/problems"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	persistence := file.NewPersistence(t.TempDir())
	counter := 0

	environments := services.NewEnvironments(&models.Environment{
		EnvironmentID: "staging",
		Name:          "Staging",
		Secrets:       map[string]any{"apiKey": ""},
	})

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(persistence, slog.Default()),
		services.NewRuns(persistence, environments, slog.Default(),
			services.WithClock(clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))),
			services.WithIDGenerator(func(prefix string) string {
				counter++

				return fmt.Sprintf("%s-%d", prefix, counter)
			}),
		),
		environments,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()
	handlers.Register(app)

	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, raw
}

func decodeProblem(t *testing.T, raw []byte) problems.Problem {
	t.Helper()

	var problem problems.Problem
	require.NoError(t, json.Unmarshal(raw, &problem))

	return problem
}

func testDocument() models.WorkflowDocument {
	pass := models.HandlePass

	return models.WorkflowDocument{
		Nodes: []models.DocumentNode{
			{NodeID: "start-1", Type: models.NodeTypeStart, Label: "Start", Config: map[string]any{}},
			{NodeID: "login", Type: models.NodeTypeHTTPRequest, Label: "Login", Config: map[string]any{"method": "POST"}},
			{NodeID: "check", Type: models.NodeTypeAssertion, Label: "Check", Config: map[string]any{
				"assertions": []any{map[string]any{"source": "status", "operator": "equals", "expectedValue": 200}},
				"simulate":   "error",
			}},
			{NodeID: "end", Type: models.NodeTypeEnd, Label: "End", Config: map[string]any{}},
		},
		Edges: []models.DocumentEdge{
			{EdgeID: "e1", Source: "start-1", Target: "login"},
			{EdgeID: "e2", Source: "login", Target: "check"},
			{EdgeID: "e3", Source: "check", Target: "end", SourceHandle: &pass, Label: "Pass"},
		},
		Variables: models.VariableMap{"baseUrl": "https://api.example.com"},
	}
}

func TestAPIHandlers_Workflows(t *testing.T) {
	app := setupTestApp(t)

	status, raw := doRequest(t, app, http.MethodGet, "/workflows/wf-1", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "workflow_not_found", decodeProblem(t, raw).Type)

	status, _ = doRequest(t, app, http.MethodPut, "/workflows/wf-1", testDocument())
	assert.Equal(t, http.StatusNoContent, status)

	status, raw = doRequest(t, app, http.MethodGet, "/workflows/wf-1", nil)
	require.Equal(t, http.StatusOK, status)

	var doc models.WorkflowDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Len(t, doc.Nodes, 4)
	assert.Equal(t, "https://api.example.com", doc.Variables["baseUrl"])
	require.NotNil(t, doc.Edges[2].SourceHandle)
	assert.Equal(t, models.HandlePass, *doc.Edges[2].SourceHandle)
	assert.Nil(t, doc.Edges[0].SourceHandle)

	status, raw = doRequest(t, app, http.MethodGet, "/workflows", nil)
	require.Equal(t, http.StatusOK, status)

	var summaries []web.WorkflowSummary
	require.NoError(t, json.Unmarshal(raw, &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, web.WorkflowSummary{WorkflowID: "wf-1", NodeCount: 4, EdgeCount: 3, UpdatedAt: summaries[0].UpdatedAt}, summaries[0])

	status, _ = doRequest(t, app, http.MethodDelete, "/workflows/wf-1", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = doRequest(t, app, http.MethodDelete, "/workflows/wf-1", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_SaveWorkflowValidation(t *testing.T) {
	app := setupTestApp(t)

	doc := testDocument()
	doc.Edges[0].Target = "ghost"

	status, raw := doRequest(t, app, http.MethodPut, "/workflows/wf-1", doc)
	assert.Equal(t, http.StatusBadRequest, status)

	problem := decodeProblem(t, raw)
	assert.Equal(t, "invalid_document", problem.Type)
	assert.Contains(t, problem.Detail, "edges.0.target: unknown node ghost")

	req := httptest.NewRequest(http.MethodPut, "/workflows/wf-1", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}

func TestAPIHandlers_RunLifecycle(t *testing.T) {
	app := setupTestApp(t)

	status, _ := doRequest(t, app, http.MethodPut, "/workflows/wf-1", testDocument())
	require.Equal(t, http.StatusNoContent, status)

	status, raw := doRequest(t, app, http.MethodGet, "/workflows/wf-1/runs/latest-failed", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"hasFailedRun":false,"failedNodes":[]}`, string(raw))

	status, raw = doRequest(t, app, http.MethodPost, "/workflows/wf-1/run", nil)
	require.Equal(t, http.StatusOK, status)

	var triggered web.TriggerRunResponse
	require.NoError(t, json.Unmarshal(raw, &triggered))
	assert.Equal(t, "run-1", triggered.RunID)

	var session models.RunSession

	for range 10 {
		status, raw = doRequest(t, app, http.MethodGet, "/workflows/wf-1/runs/run-1", nil)
		require.Equal(t, http.StatusOK, status)
		require.NoError(t, json.Unmarshal(raw, &session))

		if session.Status.Terminal() {
			break
		}
	}

	assert.Equal(t, models.RunStatusFailed, session.Status)
	assert.Equal(t, models.ExecutionStatusSuccess, session.NodeStatuses["login"].Status)
	assert.Equal(t, models.ExecutionStatusError, session.NodeStatuses["check"].Status)

	status, raw = doRequest(t, app, http.MethodGet, "/workflows/wf-1/runs/latest-failed", nil)
	require.Equal(t, http.StatusOK, status)

	var latest models.LatestFailedRun
	require.NoError(t, json.Unmarshal(raw, &latest))
	assert.True(t, latest.HasFailedRun)
	assert.Equal(t, "run-1", latest.RunID)
	assert.Equal(t, []models.FailedNode{{NodeID: "check", Label: "Check", Type: models.NodeTypeAssertion}}, latest.FailedNodes)

	status, raw = doRequest(t, app, http.MethodPost, "/workflows/wf-1/run", web.TriggerRunRequest{
		Resume: &models.ResumeRequest{
			Mode:         models.ResumeModeSingle,
			SourceRunID:  "run-1",
			StartNodeIDs: []string{"check"},
		},
	})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(raw, &triggered))
	assert.Equal(t, "run-2", triggered.RunID)

	status, raw = doRequest(t, app, http.MethodGet, "/workflows/wf-1/runs", nil)
	require.Equal(t, http.StatusOK, status)

	var runs []web.RunSummary
	require.NoError(t, json.Unmarshal(raw, &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.True(t, runs[0].Resumed)
	assert.Equal(t, models.RunStatusRunning, runs[0].Status)

	status, raw = doRequest(t, app, http.MethodGet, "/workflows/wf-1/runs/run-9", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "run_not_found", decodeProblem(t, raw).Type)
}

func TestAPIHandlers_TriggerRunErrors(t *testing.T) {
	app := setupTestApp(t)

	status, _ := doRequest(t, app, http.MethodPut, "/workflows/wf-1", testDocument())
	require.Equal(t, http.StatusNoContent, status)

	tests := []struct {
		name         string
		path         string
		body         any
		expectedCode int
		expectedType string
	}{
		{
			name:         "unknown workflow",
			path:         "/workflows/wf-2/run",
			expectedCode: http.StatusNotFound,
			expectedType: "workflow_not_found",
		},
		{
			name:         "unknown environment",
			path:         "/workflows/wf-1/run?environmentId=production",
			expectedCode: http.StatusNotFound,
			expectedType: "environment_not_found",
		},
		{
			name:         "missing secrets",
			path:         "/workflows/wf-1/run?environmentId=staging",
			body:         web.TriggerRunRequest{Secrets: map[string]any{"other": "x"}},
			expectedCode: http.StatusBadRequest,
			expectedType: "missing_secrets",
		},
		{
			name: "invalid resume mode",
			path: "/workflows/wf-1/run",
			body: web.TriggerRunRequest{Resume: &models.ResumeRequest{
				Mode:         "some",
				SourceRunID:  "run-1",
				StartNodeIDs: []string{"check"},
			}},
			expectedCode: http.StatusBadRequest,
			expectedType: "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, raw := doRequest(t, app, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.expectedCode, status)
			assert.Equal(t, tt.expectedType, decodeProblem(t, raw).Type)
		})
	}

	status, raw := doRequest(t, app, http.MethodPost, "/workflows/wf-1/run?environmentId=staging",
		web.TriggerRunRequest{Secrets: map[string]any{"apiKey": "k"}})
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), "runId")
}

func TestAPIHandlers_Environment(t *testing.T) {
	app := setupTestApp(t)

	status, raw := doRequest(t, app, http.MethodGet, "/environments/staging", nil)
	require.Equal(t, http.StatusOK, status)

	var env models.Environment
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "Staging", env.Name)
	assert.Equal(t, []string{"apiKey"}, env.SecretKeys())

	status, raw = doRequest(t, app, http.MethodGet, "/environments/production", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "environment_not_found", decodeProblem(t, raw).Type)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	status, raw := doRequest(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), `"status":"healthy"`)
}
