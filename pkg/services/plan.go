package services

import (
	"github.com/dukex/apiflow/pkg/models"
)

// executionPlan orders the nodes reachable from roots so that every node comes after the nodes
// feeding it. Fail routes of assertion nodes are not followed. Ties keep document order, and nodes
// caught in a cycle run last, in document order.
func executionPlan(doc models.WorkflowDocument, roots []string) []string {
	order := make(map[string]int, len(doc.Nodes))
	for i, node := range doc.Nodes {
		order[node.NodeID] = i
	}

	next := make(map[string][]string)

	for _, edge := range doc.Edges {
		if edge.SourceHandle != nil && *edge.SourceHandle == models.HandleFail {
			continue
		}

		_, sourceKnown := order[edge.Source]
		_, targetKnown := order[edge.Target]

		if sourceKnown && targetKnown {
			next[edge.Source] = append(next[edge.Source], edge.Target)
		}
	}

	reachable := make(map[string]bool)
	queue := make([]string, 0, len(roots))

	for _, root := range roots {
		if _, ok := order[root]; ok && !reachable[root] {
			reachable[root] = true
			queue = append(queue, root)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, target := range next[id] {
			if !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}

	inDegree := make(map[string]int, len(reachable))
	for id := range reachable {
		for _, target := range next[id] {
			inDegree[target]++
		}
	}

	plan := make([]string, 0, len(reachable))
	done := make(map[string]bool, len(reachable))

	for len(plan) < len(reachable) {
		picked := ""

		for _, node := range doc.Nodes {
			id := node.NodeID
			if reachable[id] && !done[id] && inDegree[id] == 0 {
				picked = id

				break
			}
		}

		if picked == "" {
			break
		}

		done[picked] = true
		plan = append(plan, picked)

		for _, target := range next[picked] {
			inDegree[target]--
		}
	}

	for _, node := range doc.Nodes {
		if reachable[node.NodeID] && !done[node.NodeID] {
			done[node.NodeID] = true
			plan = append(plan, node.NodeID)
		}
	}

	return plan
}

func startNodes(doc models.WorkflowDocument) []string {
	var roots []string

	for _, node := range doc.Nodes {
		if node.Type == models.NodeTypeStart {
			roots = append(roots, node.NodeID)
		}
	}

	return roots
}

func findDocumentNode(doc models.WorkflowDocument, id string) *models.DocumentNode {
	for i := range doc.Nodes {
		if doc.Nodes[i].NodeID == id {
			return &doc.Nodes[i]
		}
	}

	return nil
}
