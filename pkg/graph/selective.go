package graph

import (
	"slices"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/google/go-cmp/cmp"
)

// ApplyNodeStatuses writes run statuses into the execution fields of the matching nodes.
// A node is replaced only when its status or result actually differs; when nothing differs the
// input slice itself is returned together with false. Live polling and historical loads both go
// through this function so that the last write wins per node.
func ApplyNodeStatuses(nodes []*models.Node, statuses map[string]models.NodeRunStatus) ([]*models.Node, bool) {
	if len(statuses) == 0 {
		return nodes, false
	}

	var result []*models.Node

	for i, node := range nodes {
		status, ok := statuses[node.ID]
		if !ok {
			continue
		}

		if node.Data.ExecutionStatus == status.Status && sameResult(node.Data.ExecutionResult, status.Result) {
			continue
		}

		if result == nil {
			result = slices.Clone(nodes)
		}

		updated := node.Clone()
		updated.Data.ExecutionStatus = status.Status
		updated.Data.ExecutionResult = status.Result
		updated.Data.ExecutionTimestamp = status.Timestamp
		result[i] = updated
	}

	if result == nil {
		return nodes, false
	}

	return result, true
}

func sameResult(current, next *models.ResponseSnapshot) bool {
	if current == next {
		return true
	}

	return cmp.Equal(current, next)
}
