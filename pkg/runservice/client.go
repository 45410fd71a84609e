// Package runservice is the client of the remote Run/Workflow Service that stores workflows and
// executes their runs.
package runservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/apiflow/pkg/models"
)

const defaultTimeout = 30 * time.Second

// RunRequest is the body of a run trigger.
type RunRequest struct {
	EnvironmentID string                `json:"-"`
	Secrets       map[string]any        `json:"secrets,omitempty"`
	Resume        *models.ResumeRequest `json:"resume,omitempty"`
}

type runResponse struct {
	RunID string `json:"runId"`
}

// Client talks to the Run Service over its REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger.With("module", "runservice"),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// SaveWorkflow persists a workflow document.
func (c *Client) SaveWorkflow(ctx context.Context, workflowID string, doc models.WorkflowDocument) error {
	return c.do(ctx, "SaveWorkflow", http.MethodPut, workflowPath(workflowID), nil, doc, nil)
}

// GetWorkflow loads a workflow document.
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (*models.WorkflowDocument, error) {
	var doc models.WorkflowDocument
	if err := c.do(ctx, "GetWorkflow", http.MethodGet, workflowPath(workflowID), nil, nil, &doc); err != nil {
		return nil, err
	}

	return &doc, nil
}

// TriggerRun starts a run and returns its id.
func (c *Client) TriggerRun(ctx context.Context, workflowID string, req RunRequest) (string, error) {
	query := url.Values{}
	if req.EnvironmentID != "" {
		query.Set("environmentId", req.EnvironmentID)
	}

	var resp runResponse
	if err := c.do(ctx, "TriggerRun", http.MethodPost, workflowPath(workflowID)+"/run", query, req, &resp); err != nil {
		return "", err
	}

	if resp.RunID == "" {
		return "", &StatusError{Op: "TriggerRun", StatusCode: http.StatusOK, Detail: "response carries no runId"}
	}

	return resp.RunID, nil
}

// GetRun fetches the status of a run.
func (c *Client) GetRun(ctx context.Context, workflowID, runID string) (*models.RunSession, error) {
	var session models.RunSession

	path := workflowPath(workflowID) + "/runs/" + url.PathEscape(runID)
	if err := c.do(ctx, "GetRun", http.MethodGet, path, nil, nil, &session); err != nil {
		return nil, err
	}

	if session.RunID == "" {
		session.RunID = runID
	}

	return &session, nil
}

// LatestFailedRun asks for the most recent failed run of a workflow.
func (c *Client) LatestFailedRun(ctx context.Context, workflowID string) (*models.LatestFailedRun, error) {
	var latest models.LatestFailedRun

	path := workflowPath(workflowID) + "/runs/latest-failed"
	if err := c.do(ctx, "LatestFailedRun", http.MethodGet, path, nil, nil, &latest); err != nil {
		return nil, err
	}

	return &latest, nil
}

// GetEnvironment loads an environment definition.
func (c *Client) GetEnvironment(ctx context.Context, environmentID string) (*models.Environment, error) {
	var env models.Environment

	path := "/environments/" + url.PathEscape(environmentID)
	if err := c.do(ctx, "GetEnvironment", http.MethodGet, path, nil, nil, &env); err != nil {
		return nil, err
	}

	return &env, nil
}

func workflowPath(workflowID string) string {
	return "/workflows/" + url.PathEscape(workflowID)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", op, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", op, err)
	}

	c.logger.DebugContext(ctx, "Run service call", "op", op, "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(op, resp.StatusCode, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}

	return nil
}
