package runservice_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/dukex/apiflow/pkg/runservice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *runservice.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return runservice.NewClient(server.URL+"/", slog.New(slog.DiscardHandler))
}

func TestClient_SaveWorkflow(t *testing.T) {
	t.Parallel()

	var received models.WorkflowDocument

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/workflows/wf-1", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	})

	doc := models.NewDocument(
		[]*models.Node{{ID: "start-1", Type: models.NodeTypeStart}},
		nil,
		models.VariableMap{"base": "http://api"},
	)

	require.NoError(t, client.SaveWorkflow(context.Background(), "wf-1", doc))
	assert.Equal(t, "start-1", received.Nodes[0].NodeID)
	assert.Equal(t, "http://api", received.Variables["base"])
}

func TestClient_TriggerRun(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/workflows/wf-1/run", r.URL.Path)
		assert.Equal(t, "env-1", r.URL.Query().Get("environmentId"))

		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{
			"secrets": {"API_KEY": "k"},
			"resume": {"mode": "single", "sourceRunId": "run-0", "startNodeIds": ["n1"]}
		}`, string(raw))

		_, _ = w.Write([]byte(`{"runId":"run-1"}`))
	})

	runID, err := client.TriggerRun(context.Background(), "wf-1", runservice.RunRequest{
		EnvironmentID: "env-1",
		Secrets:       map[string]any{"API_KEY": "k"},
		Resume: &models.ResumeRequest{
			Mode:         models.ResumeModeSingle,
			SourceRunID:  "run-0",
			StartNodeIDs: []string{"n1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
}

func TestClient_TriggerRunWithoutEnvironment(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)

		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{}`, string(raw))

		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.TriggerRun(context.Background(), "wf-1", runservice.RunRequest{})

	var statusErr *runservice.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Contains(t, statusErr.Detail, "runId")
}

func TestClient_GetRun(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/workflows/wf-1/runs/run-1", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"status": "running",
			"nodeStatuses": {
				"n1": {"status": "success", "result": {"statusCode": 200, "body": {"id": 7}}, "timestamp": 1700}
			}
		}`))
	})

	session, err := client.GetRun(context.Background(), "wf-1", "run-1")
	require.NoError(t, err)

	assert.Equal(t, "run-1", session.RunID)
	assert.Equal(t, models.RunStatusRunning, session.Status)
	require.Contains(t, session.NodeStatuses, "n1")
	assert.Equal(t, models.ExecutionStatusSuccess, session.NodeStatuses["n1"].Status)
	assert.Equal(t, 200, session.NodeStatuses["n1"].Result.StatusCode)
	assert.Equal(t, int64(1700), session.NodeStatuses["n1"].Timestamp)
}

func TestClient_LatestFailedRun(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/workflows/wf-1/runs/latest-failed", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"hasFailedRun": true,
			"runId": "run-9",
			"failedNodes": [{"nodeId": "n2", "label": "Create user", "type": "http-request"}]
		}`))
	})

	latest, err := client.LatestFailedRun(context.Background(), "wf-1")
	require.NoError(t, err)

	assert.True(t, latest.HasFailedRun)
	assert.Equal(t, "run-9", latest.RunID)
	assert.Equal(t, []models.FailedNode{
		{NodeID: "n2", Label: "Create user", Type: models.NodeTypeHTTPRequest},
	}, latest.FailedNodes)
}

func TestClient_GetEnvironment(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/environments/staging", r.URL.Path)
		_, _ = w.Write([]byte(`{"environmentId":"staging","name":"Staging","secrets":{"TOKEN":null}}`))
	})

	env, err := client.GetEnvironment(context.Background(), "staging")
	require.NoError(t, err)
	assert.Equal(t, []string{"TOKEN"}, env.SecretKeys())
}

func TestClient_ProblemResponse(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"type":"not_found","title":"Not Found","status":404,"detail":"workflow not found"}`))
	})

	_, err := client.GetWorkflow(context.Background(), "missing")
	require.Error(t, err)

	var statusErr *runservice.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "not_found", statusErr.Type)
	assert.Equal(t, "workflow not found", statusErr.Detail)
	assert.True(t, runservice.IsNotFound(err))
	assert.Equal(t, "run service GetWorkflow: status 404: workflow not found", err.Error())
}

func TestClient_PlainErrorResponse(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.SaveWorkflow(context.Background(), "wf-1", models.WorkflowDocument{})

	var statusErr *runservice.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "Bad Gateway", statusErr.Detail)
	assert.False(t, runservice.IsNotFound(err))
}
