// Package models defines the workflow graph, run and variable models shared by the studio packages.
package models

import (
	"strings"
)

// NodeType identifies the kind of step a node represents.
type NodeType string

const (
	NodeTypeStart       NodeType = "start"
	NodeTypeEnd         NodeType = "end"
	NodeTypeHTTPRequest NodeType = "http-request"
	NodeTypeAssertion   NodeType = "assertion"
	NodeTypeDelay       NodeType = "delay"
	NodeTypeMerge       NodeType = "merge"
)

// NodeTypes lists every node type in palette order.
func NodeTypes() []NodeType {
	return []NodeType{
		NodeTypeStart,
		NodeTypeHTTPRequest,
		NodeTypeAssertion,
		NodeTypeDelay,
		NodeTypeMerge,
		NodeTypeEnd,
	}
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	for _, known := range NodeTypes() {
		if t == known {
			return true
		}
	}

	return false
}

// DisplayName turns "http-request" into "Http Request".
func (t NodeType) DisplayName() string {
	words := strings.Split(string(t), "-")
	for i, word := range words {
		if word == "" {
			continue
		}

		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}

	return strings.Join(words, " ")
}

// ExecutionStatus is the per-node status reported by the run service.
type ExecutionStatus string

const (
	ExecutionStatusIdle    ExecutionStatus = "idle"
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusWarning ExecutionStatus = "warning"
	ExecutionStatusError   ExecutionStatus = "error"
)

// Position is the canvas coordinate of a node.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// BranchRef maps a prev[index] expression of a merge node to one of its source nodes.
// Index is positional for the current edge order only and is never persisted.
type BranchRef struct {
	Index     int    `json:"index"`
	NodeID    string `json:"nodeId"`
	Label     string `json:"label"`
	EdgeLabel string `json:"edgeLabel"`
}

// NodeData carries the label, configuration and derived/execution state of a node.
type NodeData struct {
	Label  string         `json:"label"`
	Config map[string]any `json:"config"`

	ExecutionStatus    ExecutionStatus   `json:"executionStatus,omitempty"`
	ExecutionResult    *ResponseSnapshot `json:"executionResult,omitempty"`
	ExecutionTimestamp int64             `json:"executionTimestamp,omitempty"`

	// Derived by topology recomputation.
	BranchCount         int         `json:"branchCount,omitempty"`
	IncomingBranchCount int         `json:"incomingBranchCount,omitempty"`
	IncomingBranches    []BranchRef `json:"incomingBranches,omitempty"`

	Invalid bool `json:"invalid,omitempty"`
}

// Node is a step on the workflow canvas.
type Node struct {
	ID           string   `json:"id"`
	Type         NodeType `json:"type"`
	Position     Position `json:"position"`
	ParentNodeID string   `json:"parentNodeId,omitempty"`
	Data         NodeData `json:"data"`
}

// Clone returns a shallow copy of the node. Config and IncomingBranches are shared with the original;
// callers replacing them must assign new values rather than mutating in place.
func (n *Node) Clone() *Node {
	clone := *n

	return &clone
}

// HasExecution reports whether any execution field is set.
func (n *Node) HasExecution() bool {
	return n.Data.ExecutionStatus != "" || n.Data.ExecutionResult != nil || n.Data.ExecutionTimestamp != 0
}

// WithoutExecution returns a copy of the node with every execution field cleared.
func (n *Node) WithoutExecution() *Node {
	clone := n.Clone()
	clone.Data.ExecutionStatus = ""
	clone.Data.ExecutionResult = nil
	clone.Data.ExecutionTimestamp = 0

	return clone
}

// FindNode returns the node with the given id and its index, or nil and -1.
func FindNode(nodes []*Node, id string) (*Node, int) {
	for i, node := range nodes {
		if node.ID == id {
			return node, i
		}
	}

	return nil, -1
}
