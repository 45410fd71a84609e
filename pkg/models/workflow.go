package models

import (
	"maps"
)

// VariableMap is the merged workflow variable namespace.
type VariableMap map[string]string

// Clone returns an independent copy, never nil.
func (v VariableMap) Clone() VariableMap {
	clone := make(VariableMap, len(v))
	maps.Copy(clone, v)

	return clone
}

// AutoSaveBaseline is the size of the graph captured once a workflow has loaded.
type AutoSaveBaseline struct {
	NodeCount int `json:"nodeCount"`
	EdgeCount int `json:"edgeCount"`
}

// DocumentNode is the persisted form of a node.
type DocumentNode struct {
	NodeID   string         `json:"nodeId"   yaml:"nodeId"   validate:"required"`
	Type     NodeType       `json:"type"     yaml:"type"     validate:"required,oneof=start end http-request assertion delay merge"`
	Label    string         `json:"label"    yaml:"label"`
	Position Position       `json:"position" yaml:"position"`
	Config   map[string]any `json:"config"   yaml:"config"`
}

// DocumentEdge is the persisted form of an edge. Handles are null when unset.
type DocumentEdge struct {
	EdgeID       string  `json:"edgeId"       yaml:"edgeId"       validate:"required"`
	Source       string  `json:"source"       yaml:"source"       validate:"required"`
	Target       string  `json:"target"       yaml:"target"       validate:"required"`
	SourceHandle *string `json:"sourceHandle" yaml:"sourceHandle" validate:"omitempty,oneof=pass fail"`
	TargetHandle *string `json:"targetHandle" yaml:"targetHandle"`
	Label        string  `json:"label"        yaml:"label"`
}

// WorkflowDocument is the body of PUT /workflows/{id}.
type WorkflowDocument struct {
	Nodes     []DocumentNode `json:"nodes"     yaml:"nodes"     validate:"dive"`
	Edges     []DocumentEdge `json:"edges"     yaml:"edges"     validate:"dive"`
	Variables VariableMap    `json:"variables" yaml:"variables"`
}

// NewDocument builds the persisted form of a graph. Derived and execution state is dropped.
func NewDocument(nodes []*Node, edges []*Edge, variables VariableMap) WorkflowDocument {
	doc := WorkflowDocument{
		Nodes:     make([]DocumentNode, 0, len(nodes)),
		Edges:     make([]DocumentEdge, 0, len(edges)),
		Variables: variables.Clone(),
	}

	for _, node := range nodes {
		config := node.Data.Config
		if config == nil {
			config = map[string]any{}
		}

		doc.Nodes = append(doc.Nodes, DocumentNode{
			NodeID:   node.ID,
			Type:     node.Type,
			Label:    node.Data.Label,
			Position: node.Position,
			Config:   config,
		})
	}

	for _, edge := range edges {
		doc.Edges = append(doc.Edges, DocumentEdge{
			EdgeID:       edge.ID,
			Source:       edge.Source,
			Target:       edge.Target,
			SourceHandle: optionalString(edge.SourceHandle),
			TargetHandle: optionalString(edge.TargetHandle),
			Label:        edge.Label,
		})
	}

	return doc
}

// Graph converts the document back to canvas nodes and edges.
// Edge styling is not persisted and must be re-derived by the graph store.
func (d WorkflowDocument) Graph() ([]*Node, []*Edge) {
	nodes := make([]*Node, 0, len(d.Nodes))
	for _, dn := range d.Nodes {
		config := dn.Config
		if config == nil {
			config = map[string]any{}
		}

		nodes = append(nodes, &Node{
			ID:       dn.NodeID,
			Type:     dn.Type,
			Position: dn.Position,
			Data: NodeData{
				Label:  dn.Label,
				Config: config,
			},
		})
	}

	edges := make([]*Edge, 0, len(d.Edges))
	for _, de := range d.Edges {
		edges = append(edges, &Edge{
			ID:           de.EdgeID,
			Source:       de.Source,
			Target:       de.Target,
			SourceHandle: derefString(de.SourceHandle),
			TargetHandle: derefString(de.TargetHandle),
			Label:        de.Label,
		})
	}

	return nodes, edges
}

// Baseline returns the node and edge counts of the document.
func (d WorkflowDocument) Baseline() AutoSaveBaseline {
	return AutoSaveBaseline{NodeCount: len(d.Nodes), EdgeCount: len(d.Edges)}
}

// IsDefaultSkeleton reports whether the document is the canonical empty graph:
// exactly one start node and no edges.
func (d WorkflowDocument) IsDefaultSkeleton() bool {
	return len(d.Nodes) == 1 && d.Nodes[0].Type == NodeTypeStart && len(d.Edges) == 0
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
