package models

import (
	"maps"
	"slices"
)

// RunStatus is the overall status of a remote run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether polling should stop on this status.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ResponseSnapshot is the opaque per-node payload returned by the run service.
type ResponseSnapshot struct {
	StatusCode int               `json:"statusCode,omitempty"`
	Body       any               `json:"body,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Cookies    map[string]string `json:"cookies,omitempty"`
	Error      string            `json:"error,omitempty"`
	Duration   *int64            `json:"duration,omitempty"`
}

// NodeRunStatus is the status of one node inside a run.
type NodeRunStatus struct {
	Status    ExecutionStatus   `json:"status"`
	Result    *ResponseSnapshot `json:"result,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"`
}

// RunSession is a run as reported by the run service.
type RunSession struct {
	RunID        string                   `json:"runId,omitempty"`
	Status       RunStatus                `json:"status"`
	NodeStatuses map[string]NodeRunStatus `json:"nodeStatuses,omitempty"`
}

// ResumeMode selects how many failed nodes a resumed run restarts from.
type ResumeMode string

const (
	ResumeModeSingle    ResumeMode = "single"
	ResumeModeAllFailed ResumeMode = "all-failed"
)

// ResumeRequest asks the run service to replay from the given nodes of a previous run.
type ResumeRequest struct {
	Mode         ResumeMode `json:"mode"         validate:"required,oneof=single all-failed"`
	SourceRunID  string     `json:"sourceRunId"  validate:"required"`
	StartNodeIDs []string   `json:"startNodeIds" validate:"required,min=1"`
}

// FailedNode describes a node that failed in the latest failed run.
type FailedNode struct {
	NodeID string   `json:"nodeId"`
	Label  string   `json:"label"`
	Type   NodeType `json:"type"`
}

// LatestFailedRun is the answer of the latest-failed query.
type LatestFailedRun struct {
	HasFailedRun bool         `json:"hasFailedRun"`
	RunID        string       `json:"runId,omitempty"`
	FailedNodes  []FailedNode `json:"failedNodes"`
}

// Environment is read-only to the studio; only the presence of secret keys matters.
type Environment struct {
	EnvironmentID string         `json:"environmentId" yaml:"environmentId"`
	Name          string         `json:"name"          yaml:"name"`
	Secrets       map[string]any `json:"secrets"       yaml:"secrets"`
}

// SecretKeys returns the secret keys declared by the environment, sorted.
func (e *Environment) SecretKeys() []string {
	if e == nil {
		return nil
	}

	return slices.Sorted(maps.Keys(e.Secrets))
}
