// Package graph holds the canonical node and edge lists of an open workflow and derives their topology.
package graph

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/mohae/deepcopy"
)

// duplicateOffset is the cascade delta applied per existing sibling when a node is duplicated.
const duplicateOffset = 40.0

// ChangeKind describes what a store mutation touched.
type ChangeKind string

const (
	ChangeNodes     ChangeKind = "nodes"
	ChangeEdges     ChangeKind = "edges"
	ChangeExecution ChangeKind = "execution"
	ChangeLoaded    ChangeKind = "loaded"
)

// Change is delivered to listeners after every mutation.
type Change struct {
	Kind ChangeKind
}

// Structural reports whether nodes or edges changed, as opposed to execution state only.
func (c Change) Structural() bool {
	return c.Kind == ChangeNodes || c.Kind == ChangeEdges
}

// Listener is notified after a mutation has been committed.
type Listener func(Change)

type listenerEntry struct {
	id uint64
	fn Listener
}

// EdgeParams describes a connection made on the canvas.
type EdgeParams struct {
	Source       string
	Target       string
	SourceHandle string
	TargetHandle string
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides how node and edge ids are generated.
func WithIDGenerator(gen models.IDGenerator) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store exclusively owns the nodes and edges of one workflow.
// Slices are replaced on every mutation and never modified in place, so the slices returned by
// Nodes, Edges and Snapshot stay valid; callers must not modify them.
type Store struct {
	mu           sync.RWMutex
	nodes        []*models.Node
	edges        []*models.Edge
	listeners    []listenerEntry
	nextListener uint64
	newID        models.IDGenerator
	logger       *slog.Logger
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		nodes:  []*models.Node{},
		edges:  []*models.Edge{},
		newID:  models.NewID,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Subscribe registers a listener and returns a function removing it.
func (s *Store) Subscribe(listener Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextListener++
	id := s.nextListener
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: listener})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.listeners = slices.DeleteFunc(s.listeners, func(entry listenerEntry) bool {
			return entry.id == id
		})
	}
}

func (s *Store) notify(change Change) {
	s.mu.RLock()
	listeners := slices.Clone(s.listeners)
	s.mu.RUnlock()

	for _, entry := range listeners {
		entry.fn(change)
	}
}

// Nodes returns the current node list.
func (s *Store) Nodes() []*models.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.nodes
}

// Edges returns the current edge list.
func (s *Store) Edges() []*models.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.edges
}

// Snapshot returns nodes and edges read under the same lock.
func (s *Store) Snapshot() ([]*models.Node, []*models.Edge) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.nodes, s.edges
}

// Node returns the node with the given id.
func (s *Store) Node(id string) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, _ := models.FindNode(s.nodes, id)
	if node == nil {
		return nil, opError("Node", id, ErrNodeNotFound)
	}

	return node, nil
}

// commit restyles edges and recomputes topology. Callers hold the write lock.
func (s *Store) commit(nodes []*models.Node, edges []*models.Edge) {
	s.edges = RestyleEdges(nodes, edges)
	s.nodes = RecomputeTopology(nodes, s.edges)
}

// Replace swaps the whole graph, e.g. when a workflow is loaded. The graph is checked first and the
// store is left untouched on error.
func (s *Store) Replace(nodes []*models.Node, edges []*models.Edge) error {
	if err := checkGraph(nodes, edges); err != nil {
		return err
	}

	s.mu.Lock()
	s.commit(slices.Clone(nodes), slices.Clone(edges))
	s.mu.Unlock()

	s.logger.Debug("Graph replaced", "nodes", len(nodes), "edges", len(edges))
	s.notify(Change{Kind: ChangeLoaded})

	return nil
}

func checkGraph(nodes []*models.Node, edges []*models.Edge) error {
	ids := make(map[string]bool, len(nodes))

	for _, node := range nodes {
		if node.ID == "" || !node.Type.Valid() {
			return opError("Replace", node.ID, ErrInvalidNode)
		}

		if ids[node.ID] {
			return opError("Replace", node.ID, ErrDuplicateNode)
		}

		ids[node.ID] = true
	}

	edgeIDs := make(map[string]bool, len(edges))

	for _, edge := range edges {
		if edgeIDs[edge.ID] {
			return opError("Replace", edge.ID, ErrDuplicateEdge)
		}

		edgeIDs[edge.ID] = true

		if !ids[edge.Source] || !ids[edge.Target] {
			return opError("Replace", edge.ID, ErrEdgeEndpointMissing)
		}
	}

	return nil
}

// AddNode appends a node.
func (s *Store) AddNode(node *models.Node) error {
	if node == nil || node.ID == "" || !node.Type.Valid() {
		id := ""
		if node != nil {
			id = node.ID
		}

		return opError("AddNode", id, ErrInvalidNode)
	}

	s.mu.Lock()

	if existing, _ := models.FindNode(s.nodes, node.ID); existing != nil {
		s.mu.Unlock()

		return opError("AddNode", node.ID, ErrDuplicateNode)
	}

	s.commit(append(slices.Clone(s.nodes), node), s.edges)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeNodes})

	return nil
}

// updateNode replaces one node with the result of fn applied to a copy of it.
func (s *Store) updateNode(op, id string, fn func(node *models.Node)) error {
	s.mu.Lock()

	current, index := models.FindNode(s.nodes, id)
	if current == nil {
		s.mu.Unlock()

		return opError(op, id, ErrNodeNotFound)
	}

	updated := current.Clone()
	fn(updated)

	nodes := slices.Clone(s.nodes)
	nodes[index] = updated
	s.commit(nodes, s.edges)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeNodes})

	return nil
}

// UpdateNodeConfig shallow-merges patch into the node configuration.
func (s *Store) UpdateNodeConfig(id string, patch map[string]any) error {
	return s.updateNode("UpdateNodeConfig", id, func(node *models.Node) {
		config := make(map[string]any, len(node.Data.Config)+len(patch))
		maps.Copy(config, node.Data.Config)
		maps.Copy(config, patch)
		node.Data.Config = config
	})
}

// UpdateNodeLabel renames a node.
func (s *Store) UpdateNodeLabel(id, label string) error {
	return s.updateNode("UpdateNodeLabel", id, func(node *models.Node) {
		node.Data.Label = label
	})
}

// MoveNode changes the canvas position of a node.
func (s *Store) MoveNode(id string, position models.Position) error {
	return s.updateNode("MoveNode", id, func(node *models.Node) {
		node.Position = position
	})
}

// RemoveNode deletes a node and every edge touching it.
func (s *Store) RemoveNode(id string) error {
	s.mu.Lock()

	current, index := models.FindNode(s.nodes, id)
	if current == nil {
		s.mu.Unlock()

		return opError("RemoveNode", id, ErrNodeNotFound)
	}

	nodes := slices.Delete(slices.Clone(s.nodes), index, index+1)
	edges := slices.DeleteFunc(slices.Clone(s.edges), func(edge *models.Edge) bool {
		return edge.Source == id || edge.Target == id
	})

	s.commit(nodes, edges)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeNodes})

	return nil
}

// DuplicateNode deep-copies a node. The copy is tagged with the lineage of its template origin and is
// offset from the origin by the cascade delta times the number of copies made from it so far.
func (s *Store) DuplicateNode(id string) (*models.Node, error) {
	s.mu.Lock()

	source, _ := models.FindNode(s.nodes, id)
	if source == nil {
		s.mu.Unlock()

		return nil, opError("DuplicateNode", id, ErrNodeNotFound)
	}

	origin := source.ParentNodeID
	if origin == "" {
		origin = source.ID
	}

	anchor := source.Position
	if originNode, _ := models.FindNode(s.nodes, origin); originNode != nil {
		anchor = originNode.Position
	}

	siblings := 0

	for _, node := range s.nodes {
		if node.ParentNodeID == origin {
			siblings++
		}
	}

	data, _ := deepcopy.Copy(source.Data).(models.NodeData)
	data.ExecutionStatus = ""
	data.ExecutionResult = nil
	data.ExecutionTimestamp = 0
	data.Invalid = false

	offset := duplicateOffset * float64(siblings+1)
	duplicate := &models.Node{
		ID:           s.newID(string(source.Type)),
		Type:         source.Type,
		ParentNodeID: origin,
		Position: models.Position{
			X: anchor.X + offset,
			Y: anchor.Y + offset,
		},
		Data: data,
	}

	s.commit(append(slices.Clone(s.nodes), duplicate), s.edges)
	committed, _ := models.FindNode(s.nodes, duplicate.ID)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeNodes})

	return committed, nil
}

// AddEdge connects two nodes. A pass/fail handle of an assertion node yields a single "Pass"/"Fail"
// edge. Any other edge joining existing edges of the same source turns all of them into parallel
// branches labelled "Branch 0..N-1" in creation order.
func (s *Store) AddEdge(params EdgeParams) (*models.Edge, error) {
	s.mu.Lock()

	source, _ := models.FindNode(s.nodes, params.Source)
	target, _ := models.FindNode(s.nodes, params.Target)

	if source == nil || target == nil {
		s.mu.Unlock()

		return nil, opError("AddEdge", params.Source+"->"+params.Target, ErrEdgeEndpointMissing)
	}

	handle := params.SourceHandle
	if source.Type != models.NodeTypeAssertion && (handle == models.HandlePass || handle == models.HandleFail) {
		// pass/fail routing only exists on assertion nodes
		handle = ""
	}

	edge := &models.Edge{
		ID:           s.newID("edge"),
		Source:       params.Source,
		Target:       params.Target,
		SourceHandle: handle,
		TargetHandle: params.TargetHandle,
	}

	s.commit(s.nodes, append(slices.Clone(s.edges), edge))

	var committed *models.Edge

	for _, e := range s.edges {
		if e.ID == edge.ID {
			committed = e

			break
		}
	}

	s.mu.Unlock()

	s.logger.Debug("Edge added", "source", params.Source, "target", params.Target, "label", committed.Label)
	s.notify(Change{Kind: ChangeEdges})

	return committed, nil
}

// RemoveEdge deletes an edge; the remaining fan-out of its source is relabelled.
func (s *Store) RemoveEdge(id string) error {
	s.mu.Lock()

	index := slices.IndexFunc(s.edges, func(edge *models.Edge) bool {
		return edge.ID == id
	})
	if index < 0 {
		s.mu.Unlock()

		return opError("RemoveEdge", id, ErrEdgeNotFound)
	}

	s.commit(s.nodes, slices.Delete(slices.Clone(s.edges), index, index+1))
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeEdges})

	return nil
}

// ClearExecution removes the execution fields of every node. It reports whether anything changed.
func (s *Store) ClearExecution() bool {
	s.mu.Lock()

	var nodes []*models.Node

	for i, node := range s.nodes {
		if !node.HasExecution() {
			continue
		}

		if nodes == nil {
			nodes = slices.Clone(s.nodes)
		}

		nodes[i] = node.WithoutExecution()
	}

	if nodes == nil {
		s.mu.Unlock()

		return false
	}

	s.nodes = nodes
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeExecution})

	return true
}

// ApplyNodeStatuses writes run statuses into the nodes, replacing only the nodes that changed.
func (s *Store) ApplyNodeStatuses(statuses map[string]models.NodeRunStatus) bool {
	s.mu.Lock()

	nodes, changed := ApplyNodeStatuses(s.nodes, statuses)
	if changed {
		s.nodes = nodes
	}

	s.mu.Unlock()

	if changed {
		s.notify(Change{Kind: ChangeExecution})
	}

	return changed
}

// SetInvalid flags or unflags nodes that failed pre-run validation.
func (s *Store) SetInvalid(ids []string, invalid bool) {
	s.mu.Lock()

	var nodes []*models.Node

	for i, node := range s.nodes {
		if !slices.Contains(ids, node.ID) || node.Data.Invalid == invalid {
			continue
		}

		if nodes == nil {
			nodes = slices.Clone(s.nodes)
		}

		updated := node.Clone()
		updated.Data.Invalid = invalid
		nodes[i] = updated
	}

	if nodes == nil {
		s.mu.Unlock()

		return
	}

	s.nodes = nodes
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeExecution})
}

// StripExtractors removes the named extractors from every http-request node and returns how many
// nodes were rewritten.
func (s *Store) StripExtractors(names []string) int {
	s.mu.Lock()

	var nodes []*models.Node

	stripped := 0

	for i, node := range s.nodes {
		extractors := node.Extractors()
		if len(extractors) == 0 {
			continue
		}

		kept := make(map[string]string, len(extractors))

		for name, path := range extractors {
			if !slices.Contains(names, name) {
				kept[name] = path
			}
		}

		if len(kept) == len(extractors) {
			continue
		}

		if nodes == nil {
			nodes = slices.Clone(s.nodes)
		}

		config := maps.Clone(node.Data.Config)
		config[models.ConfigKeyExtractors] = kept

		updated := node.Clone()
		updated.Data.Config = config
		nodes[i] = updated
		stripped++
	}

	if nodes == nil {
		s.mu.Unlock()

		return 0
	}

	s.commit(nodes, s.edges)
	s.mu.Unlock()

	s.logger.Debug("Extractors stripped", "names", names, "nodes", stripped)
	s.notify(Change{Kind: ChangeNodes})

	return stripped
}
