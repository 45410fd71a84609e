// Package events defines the studio lifecycle events published while workflows are edited, saved and run.
package events

import (
	"time"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every studio event.
const Topic = "apiflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle events.
	RunTriggeredEvent        EventType = "run.triggered"
	RunNodeStatusEvent       EventType = "run.node_status"
	RunSettledEvent          EventType = "run.settled"
	RunValidationFailedEvent EventType = "run.validation_failed"

	// Persistence events.
	WorkflowSavedEvent       EventType = "workflow.saved"
	WorkflowSaveBlockedEvent EventType = "workflow.save_blocked"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type RunTriggered struct {
	BaseEvent

	RunID         string                `json:"run_id"`
	EnvironmentID string                `json:"environment_id,omitempty"`
	Resume        *models.ResumeRequest `json:"resume,omitempty"`
}

func (r RunTriggered) GetType() EventType {
	return RunTriggeredEvent
}

// RunNodeStatus is published for every node whose status changed during a poll.
type RunNodeStatus struct {
	BaseEvent

	RunID         string                 `json:"run_id"`
	NodeID        string                 `json:"node_id"`
	Status        models.ExecutionStatus `json:"status"`
	NodeTimestamp int64                  `json:"node_timestamp,omitempty"`
}

func (r RunNodeStatus) GetType() EventType {
	return RunNodeStatusEvent
}

type RunSettled struct {
	BaseEvent

	RunID       string           `json:"run_id"`
	Status      models.RunStatus `json:"status"`
	Polls       int              `json:"polls"`
	Duration    time.Duration    `json:"duration"`
	FailedNodes []string         `json:"failed_nodes,omitempty"`
}

func (r RunSettled) GetType() EventType {
	return RunSettledEvent
}

// RunValidationFailed carries the missing fields per node that blocked a run.
type RunValidationFailed struct {
	BaseEvent

	Violations map[string][]string `json:"violations"`
}

func (r RunValidationFailed) GetType() EventType {
	return RunValidationFailedEvent
}

type WorkflowSaved struct {
	BaseEvent

	NodeCount int  `json:"node_count"`
	EdgeCount int  `json:"edge_count"`
	Silent    bool `json:"silent"`
}

func (w WorkflowSaved) GetType() EventType {
	return WorkflowSavedEvent
}

// WorkflowSaveBlocked is published when a save would replace a larger saved graph with the default
// skeleton.
type WorkflowSaveBlocked struct {
	BaseEvent

	Baseline  models.AutoSaveBaseline `json:"baseline"`
	NodeCount int                     `json:"node_count"`
	EdgeCount int                     `json:"edge_count"`
}

func (w WorkflowSaveBlocked) GetType() EventType {
	return WorkflowSaveBlockedEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
