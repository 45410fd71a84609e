package web_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/dukex/apiflow/pkg/runner"
	"github.com/dukex/apiflow/pkg/runservice"
	"github.com/dukex/apiflow/pkg/studio"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fiberTransport routes client requests straight into a fiber app.
type fiberTransport struct {
	app *fiber.App
}

func (t fiberTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.app.Test(req)
}

func newClient(app *fiber.App) *runservice.Client {
	return runservice.NewClient("http://runservice.test", slog.Default(),
		runservice.WithHTTPClient(&http.Client{Transport: fiberTransport{app: app}}))
}

func TestIntegration_StudioAgainstRunService(t *testing.T) {
	app := setupTestApp(t)
	client := newClient(app)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session := studio.NewSession("wf-1", client, studio.WithAutoSave(false))
	t.Cleanup(session.Close)

	// A workflow the service has never seen opens as the default document.
	require.NoError(t, session.Open(ctx))
	assert.Equal(t, studio.DefaultDocument(), session.Document())

	raw, err := json.Marshal(testDocument())
	require.NoError(t, err)
	require.NoError(t, session.ApplyGraphJSON(raw))
	require.NoError(t, session.Save(ctx))

	stored, err := client.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, session.Document(), *stored)

	require.NoError(t, session.Run(ctx))
	require.NoError(t, session.Runner().Wait(ctx))

	status := session.Runner().Status()
	assert.Equal(t, runner.StateSettled, status.State)
	assert.Equal(t, models.RunStatusFailed, status.RunStatus)
	assert.False(t, status.Running)

	login, err := session.Store().Node("login")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, login.Data.ExecutionStatus)

	check, err := session.Store().Node("check")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusError, check.Data.ExecutionStatus)

	latest, err := session.Runner().RefreshLatestFailedRun(ctx)
	require.NoError(t, err)
	assert.True(t, latest.HasFailedRun)
	assert.Equal(t, status.RunID, latest.RunID)
	require.Len(t, latest.FailedNodes, 1)
	assert.Equal(t, "check", latest.FailedNodes[0].NodeID)

	// A second session on the same workflow hydrates from what the first one saved.
	reopened := studio.NewSession("wf-1", client, studio.WithAutoSave(false))
	t.Cleanup(reopened.Close)

	require.NoError(t, reopened.Open(ctx))
	assert.Equal(t, session.Document(), reopened.Document())

	history, err := reopened.Runner().LoadHistoricalRun(ctx, status.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, history.Status)

	check, err = reopened.Store().Node("check")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusError, check.Data.ExecutionStatus)
}
