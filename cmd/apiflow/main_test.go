package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/dukex/apiflow/pkg/persistence/file"
	"github.com/dukex/apiflow/pkg/runner"
	"github.com/dukex/apiflow/pkg/services"
	"github.com/dukex/apiflow/pkg/studio"
	"github.com/dukex/apiflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDocument = `{
	"nodes": [
		{"nodeId": "start-1", "type": "start", "label": "Start", "position": {"x": 0, "y": 0}, "config": {}},
		{"nodeId": "login", "type": "http-request", "label": "Login", "position": {"x": 0, "y": 100}, "config": {"method": "POST"}},
		{"nodeId": "check", "type": "assertion", "label": "Check", "position": {"x": 0, "y": 200},
			"config": {"assertions": [{"source": "status", "operator": "equals", "expectedValue": 200}]}}
	],
	"edges": [
		{"edgeId": "e1", "source": "start-1", "target": "login"},
		{"edgeId": "e2", "source": "login", "target": "check"}
	],
	"variables": {}
}`

const validYAMLDocument = `
nodes:
  - nodeId: start-1
    type: start
    label: Start
    position: {x: 0, y: 0}
    config: {}
edges: []
variables:
  baseUrl: https://api.example.com
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	command := newCommand()
	command.Writer = &out
	command.ErrWriter = &out

	err := command.Run(context.Background(), append([]string{"apiflow"}, args...))

	return out.String(), err
}

func TestParseSecrets(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", pairs: nil, want: map[string]string{}},
		{name: "pairs", pairs: []string{"apiKey=abc", "password=p=w"}, want: map[string]string{"apiKey": "abc", "password": "p=w"}},
		{name: "empty value", pairs: []string{"apiKey="}, want: map[string]string{"apiKey": ""}},
		{name: "missing separator", pairs: []string{"apiKey"}, wantErr: true},
		{name: "empty key", pairs: []string{" =abc"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSecrets(tt.pairs)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseResumeMode(t *testing.T) {
	mode, err := parseResumeMode("single")
	require.NoError(t, err)
	assert.Equal(t, models.ResumeModeSingle, mode)

	mode, err = parseResumeMode("all-failed")
	require.NoError(t, err)
	assert.Equal(t, models.ResumeModeAllFailed, mode)

	_, err = parseResumeMode("everything")
	assert.Error(t, err)
}

func TestLoadDocument(t *testing.T) {
	doc, err := loadDocument(writeFile(t, "workflow.json", validDocument))
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 3)

	doc, err = loadDocument(writeFile(t, "workflow.yml", validYAMLDocument))
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 1)
	assert.Equal(t, "https://api.example.com", doc.Variables["baseUrl"])

	_, err = loadDocument(writeFile(t, "broken.json", `{"nodes": [{"type": "start"}], "edges": []}`))
	assert.True(t, studio.IsApplyError(err))

	_, err = loadDocument(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	out, err := runCLI(t, "validate", writeFile(t, "workflow.json", validDocument))
	require.NoError(t, err)
	assert.Contains(t, out, "3 nodes, 2 edges, ok")

	missingExpected := `{
		"nodes": [{"nodeId": "check", "type": "assertion", "config": {"assertions": [{"source": "status", "operator": "equals"}]}}],
		"edges": []
	}`

	_, err = runCLI(t, "validate", writeFile(t, "workflow.json", missingExpected))
	require.Error(t, err)
	assert.True(t, runner.IsValidationError(err))

	_, err = runCLI(t, "validate")
	assert.Error(t, err)
}

func TestPrintNodes(t *testing.T) {
	var out bytes.Buffer

	nodes := []*models.Node{
		{ID: "start-1", Type: models.NodeTypeStart, Data: models.NodeData{Label: "Start", ExecutionStatus: models.ExecutionStatusSuccess}},
		{ID: "check", Type: models.NodeTypeAssertion, Data: models.NodeData{Label: "Check"}},
	}

	require.NoError(t, printNodes(&out, nodes))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "STATUS")
	assert.Contains(t, string(lines[1]), "success")
	assert.Contains(t, string(lines[2]), "idle")
}

type countingRunnable struct {
	calls atomic.Int32
	err   error
}

func (c *countingRunnable) Run(context.Context) error {
	c.calls.Add(1)

	return c.err
}

func TestScheduler(t *testing.T) {
	_, err := NewScheduler("not a cron", &countingRunnable{}, slog.Default())
	assert.Error(t, err)

	for _, runErr := range []error{nil, runner.ErrRunInProgress, errors.New("boom")} {
		workflow := &countingRunnable{err: runErr}

		scheduler, err := NewScheduler("*/5 * * * *", workflow, slog.Default())
		require.NoError(t, err)

		scheduler.tick()
		assert.Equal(t, int32(1), workflow.calls.Load())
	}

	scheduler, err := NewScheduler("@every 1h", &countingRunnable{}, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	scheduler.Start(ctx)
}

func newRunService(t *testing.T) string {
	t.Helper()

	persistence := file.NewPersistence(t.TempDir())
	environments := services.NewEnvironments(&models.Environment{
		EnvironmentID: "staging",
		Secrets:       map[string]any{"apiKey": ""},
	})

	app := fiber.New()
	web.NewAPIHandlers(
		services.NewWorkflow(persistence, slog.Default()),
		services.NewRuns(persistence, environments, slog.Default()),
		environments,
		validator.New(validator.WithRequiredStructEnabled()),
	).Register(app)

	server := httptest.NewServer(adaptor.FiberApp(app))
	t.Cleanup(server.Close)

	return server.URL
}

func TestRunCommand(t *testing.T) {
	serviceURL := newRunService(t)
	path := writeFile(t, "workflow.json", validDocument)

	_, err := runCLI(t, "--service-url", serviceURL, "--environment", "staging", "run", "--file", path, "wf-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apiKey")

	out, err := runCLI(t, "--service-url", serviceURL, "--environment", "staging", "--secret", "apiKey=abc", "run", "wf-1")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "login")
	assert.NotContains(t, out, "idle")

	_, err = runCLI(t, "--service-url", serviceURL, "resume", "wf-1")
	require.ErrorIs(t, err, runner.ErrNoFailedRun)

	_, err = runCLI(t, "--service-url", serviceURL, "run")
	assert.ErrorIs(t, err, errMissingWorkflowID)
}
