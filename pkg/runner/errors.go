package runner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingWorkflow = errors.New("workflow has no id, save it before running")
	ErrRunInProgress   = errors.New("a run is already in progress")
	ErrAwaitingSecrets = errors.New("run is waiting for environment secrets")
	ErrNoPendingRun    = errors.New("no run is waiting for secrets")
	ErrInvalidResume   = errors.New("invalid resume request")
	ErrNoFailedRun     = errors.New("workflow has no failed run to resume")
	ErrClosed          = errors.New("run controller is closed")
)

// ValidationError aggregates every assertion misconfiguration that blocked a run, keyed by node id.
type ValidationError struct {
	Violations map[string][]string
	nodeOrder  []string
}

func (e *ValidationError) add(nodeID, field string) {
	if e.Violations == nil {
		e.Violations = map[string][]string{}
	}

	if _, seen := e.Violations[nodeID]; !seen {
		e.nodeOrder = append(e.nodeOrder, nodeID)
	}

	e.Violations[nodeID] = append(e.Violations[nodeID], field)
}

// NodeIDs returns the offending nodes in graph order.
func (e *ValidationError) NodeIDs() []string {
	return e.nodeOrder
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.nodeOrder))
	for _, nodeID := range e.nodeOrder {
		parts = append(parts, fmt.Sprintf("node %s: missing %s", nodeID, strings.Join(e.Violations[nodeID], ", ")))
	}

	return "invalid assertion configuration: " + strings.Join(parts, "; ")
}

// IsValidationError reports whether err blocked a run at pre-flight validation.
func IsValidationError(err error) bool {
	var validationErr *ValidationError

	return errors.As(err, &validationErr)
}

// MissingSecretsError lists the environment secret keys absent from the session secret store.
type MissingSecretsError struct {
	EnvironmentID string
	Keys          []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("environment %s needs secrets: %s", e.EnvironmentID, strings.Join(e.Keys, ", "))
}

func (e *MissingSecretsError) Unwrap() error {
	return ErrAwaitingSecrets
}
