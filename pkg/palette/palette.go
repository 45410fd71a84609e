// Package palette builds new canvas nodes from drag payloads and node templates.
package palette

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/mohae/deepcopy"
)

var ErrUnknownNodeType = errors.New("unknown node type")

// NodeTemplate is a preconfigured node offered by the palette.
type NodeTemplate struct {
	Name   string          `json:"name"   yaml:"name"`
	Type   models.NodeType `json:"type"   yaml:"type"`
	Label  string          `json:"label"  yaml:"label"`
	Config map[string]any  `json:"config" yaml:"config"`
}

// DragPayload is what the canvas receives when something is dropped on it. Method and Template are
// absent for primitive types dragged from the palette.
type DragPayload struct {
	Type     models.NodeType `json:"type"`
	Method   string          `json:"method,omitempty"`
	Template *NodeTemplate   `json:"template,omitempty"`
}

// Handler turns drops into nodes.
type Handler struct {
	newID  models.IDGenerator
	logger *slog.Logger
}

// NewHandler creates a drop handler. A nil generator falls back to models.NewID.
func NewHandler(newID models.IDGenerator, logger *slog.Logger) *Handler {
	if newID == nil {
		newID = models.NewID
	}

	return &Handler{newID: newID, logger: logger}
}

// OnDrop builds the node for a drop at position. The node is not added to any store.
func (h *Handler) OnDrop(payload DragPayload, position models.Position) (*models.Node, error) {
	if !payload.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, payload.Type)
	}

	config := DefaultConfig(payload.Type)
	label := payload.Type.DisplayName()

	if payload.Template != nil {
		// nested values are copied so dropped nodes never share config with the template
		templateConfig, _ := deepcopy.Copy(payload.Template.Config).(map[string]any)
		maps.Copy(config, templateConfig)

		if payload.Template.Label != "" {
			label = payload.Template.Label
		}
	}

	if payload.Type == models.NodeTypeHTTPRequest && payload.Method != "" {
		config[models.ConfigKeyMethod] = payload.Method
	}

	node := &models.Node{
		ID:       h.newID(string(payload.Type)),
		Type:     payload.Type,
		Position: position,
		Data: models.NodeData{
			Label:  label,
			Config: config,
		},
	}

	h.logger.Debug("Node dropped", "node_id", node.ID, "type", node.Type)

	return node, nil
}

// DefaultConfig returns a fresh default configuration for a node type.
func DefaultConfig(nodeType models.NodeType) map[string]any {
	switch nodeType {
	case models.NodeTypeHTTPRequest:
		return map[string]any{
			models.ConfigKeyMethod: "GET",
			"url":                  "",
			"headers":              map[string]any{},
			"body":                 "",
			"cookies":              map[string]any{},
			"queryParams":          map[string]any{},
			"pathVariables":        map[string]any{},
			"timeout":              30,
		}
	case models.NodeTypeAssertion:
		return map[string]any{models.ConfigKeyAssertions: []any{}}
	case models.NodeTypeDelay:
		return map[string]any{"duration": 1000}
	case models.NodeTypeMerge:
		return map[string]any{"strategy": models.MergeStrategyAll, "conditions": []any{}}
	default:
		return map[string]any{}
	}
}

// Templates lists the built-in node templates.
func Templates() []NodeTemplate {
	return []NodeTemplate{
		{
			Name:  "get-json",
			Type:  models.NodeTypeHTTPRequest,
			Label: "GET JSON",
			Config: map[string]any{
				"headers": map[string]any{"Accept": "application/json"},
			},
		},
		{
			Name:  "post-json",
			Type:  models.NodeTypeHTTPRequest,
			Label: "POST JSON",
			Config: map[string]any{
				models.ConfigKeyMethod: "POST",
				"headers":              map[string]any{"Content-Type": "application/json"},
				"body":                 "{}",
			},
		},
		{
			Name:  "status-200",
			Type:  models.NodeTypeAssertion,
			Label: "Status is 200",
			Config: map[string]any{
				models.ConfigKeyAssertions: []any{
					map[string]any{
						"source":        models.AssertionSourceStatus,
						"operator":      "equals",
						"expectedValue": 200,
					},
				},
			},
		},
		{
			Name:   "wait-1s",
			Type:   models.NodeTypeDelay,
			Label:  "Wait 1s",
			Config: map[string]any{"duration": 1000},
		},
	}
}

// Template returns the built-in template with the given name.
func Template(name string) (*NodeTemplate, bool) {
	for _, template := range Templates() {
		if template.Name == name {
			return &template, true
		}
	}

	return nil, false
}
