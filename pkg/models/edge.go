package models

// Source handles of assertion nodes.
const (
	HandlePass = "pass"
	HandleFail = "fail"
)

// EdgeKind is the styling tag derived when an edge is connected.
type EdgeKind string

const (
	EdgeKindDefault EdgeKind = "default"
	EdgeKindBranch  EdgeKind = "branch" // animated parallel branch
	EdgeKindPass    EdgeKind = "pass"
	EdgeKindFail    EdgeKind = "fail"
)

// Edge connects two nodes. Several edges may share a source (fan-out) or a target (fan-in).
type Edge struct {
	ID           string   `json:"id"`
	Source       string   `json:"source"`
	Target       string   `json:"target"`
	SourceHandle string   `json:"sourceHandle,omitempty"`
	TargetHandle string   `json:"targetHandle,omitempty"`
	Label        string   `json:"label,omitempty"`
	Animated     bool     `json:"animated,omitempty"`
	Kind         EdgeKind `json:"kind,omitempty"`
}

// Clone returns a copy of the edge.
func (e *Edge) Clone() *Edge {
	clone := *e

	return &clone
}

// IsAssertionRoute reports whether the edge leaves through a pass/fail handle.
func (e *Edge) IsAssertionRoute() bool {
	return e.SourceHandle == HandlePass || e.SourceHandle == HandleFail
}
