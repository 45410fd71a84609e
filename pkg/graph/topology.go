package graph

import (
	"slices"
	"strconv"

	"github.com/dukex/apiflow/pkg/models"
)

const (
	labelPass    = "Pass"
	labelFail    = "Fail"
	branchPrefix = "Branch "
)

// BranchLabel returns the label of the index-th parallel branch.
func BranchLabel(index int) string {
	return branchPrefix + strconv.Itoa(index)
}

// RecomputeTopology derives branch counts for every node and the incoming branch mapping of merge nodes.
// It never mutates its inputs: nodes whose derived fields change are replaced by copies, the others are
// returned as the same pointers. Calling it twice on the same edge list yields identical output.
//
// IncomingBranches indices follow the edge list order. They are stable for a fixed edge order only and
// must not be persisted as identity.
func RecomputeTopology(nodes []*models.Node, edges []*models.Edge) []*models.Node {
	outgoing := make(map[string]int, len(nodes))
	incoming := make(map[string][]*models.Edge, len(nodes))

	for _, edge := range edges {
		outgoing[edge.Source]++
		incoming[edge.Target] = append(incoming[edge.Target], edge)
	}

	labels := make(map[string]string, len(nodes))
	for _, node := range nodes {
		labels[node.ID] = node.Data.Label
	}

	result := make([]*models.Node, len(nodes))

	for i, node := range nodes {
		branchCount := outgoing[node.ID]
		incomingCount := len(incoming[node.ID])

		var branches []models.BranchRef
		if node.Type == models.NodeTypeMerge && incomingCount > 0 {
			branches = make([]models.BranchRef, 0, incomingCount)

			for index, edge := range incoming[node.ID] {
				label := labels[edge.Source]
				if label == "" {
					label = edge.Source
				}

				edgeLabel := edge.Label
				if edgeLabel == "" {
					edgeLabel = BranchLabel(index)
				}

				branches = append(branches, models.BranchRef{
					Index:     index,
					NodeID:    edge.Source,
					Label:     label,
					EdgeLabel: edgeLabel,
				})
			}
		}

		if node.Data.BranchCount == branchCount &&
			node.Data.IncomingBranchCount == incomingCount &&
			slices.Equal(node.Data.IncomingBranches, branches) {
			result[i] = node

			continue
		}

		updated := node.Clone()
		updated.Data.BranchCount = branchCount
		updated.Data.IncomingBranchCount = incomingCount
		updated.Data.IncomingBranches = branches
		result[i] = updated
	}

	return result
}

// RestyleEdges derives labels and styling tags from the edge list.
// Pass/fail edges of assertion nodes are labelled "Pass"/"Fail". When a source has more than one other
// outgoing edge, each is labelled "Branch 0..N-1" in list order and marked as an animated branch. An edge
// left alone after its siblings were removed drops its branch styling.
func RestyleEdges(nodes []*models.Node, edges []*models.Edge) []*models.Edge {
	types := make(map[string]models.NodeType, len(nodes))
	for _, node := range nodes {
		types[node.ID] = node.Type
	}

	fanOut := make(map[string]int, len(edges))

	for _, edge := range edges {
		if !isAssertionRoute(types, edge) {
			fanOut[edge.Source]++
		}
	}

	position := make(map[string]int, len(fanOut))
	result := make([]*models.Edge, len(edges))

	for i, edge := range edges {
		styled := edge.Clone()

		switch {
		case isAssertionRoute(types, edge):
			styled.Animated = false
			if edge.SourceHandle == models.HandlePass {
				styled.Label = labelPass
				styled.Kind = models.EdgeKindPass
			} else {
				styled.Label = labelFail
				styled.Kind = models.EdgeKindFail
			}
		case fanOut[edge.Source] > 1:
			styled.Label = BranchLabel(position[edge.Source])
			styled.Animated = true
			styled.Kind = models.EdgeKindBranch
			position[edge.Source]++
		default:
			if edge.Kind == models.EdgeKindBranch {
				styled.Label = ""
			}

			styled.Animated = false
			styled.Kind = models.EdgeKindDefault
		}

		if *styled == *edge {
			result[i] = edge
		} else {
			result[i] = styled
		}
	}

	return result
}

func isAssertionRoute(types map[string]models.NodeType, edge *models.Edge) bool {
	return types[edge.Source] == models.NodeTypeAssertion && edge.IsAssertionRoute()
}
