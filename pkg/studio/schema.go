package studio

import (
	"github.com/dukex/apiflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

func nodeTypeEnum() []any {
	types := models.NodeTypes()
	enum := make([]any, 0, len(types))

	for _, nodeType := range types {
		enum = append(enum, string(nodeType))
	}

	return enum
}

// documentSchema describes a workflow document edited outside the canvas.
func documentSchema() map[string]any {
	return map[string]any{
		"$schema":  "http://json-schema.org/draft-07/schema#",
		"type":     "object",
		"required": []any{"nodes", "edges"},
		"properties": map[string]any{
			"nodes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []any{"nodeId", "type"},
					"properties": map[string]any{
						"nodeId": map[string]any{"type": "string", "minLength": 1},
						"type":   map[string]any{"type": "string", "enum": nodeTypeEnum()},
						"label":  map[string]any{"type": "string"},
						"position": map[string]any{
							"type":     "object",
							"required": []any{"x", "y"},
							"properties": map[string]any{
								"x": map[string]any{"type": "number"},
								"y": map[string]any{"type": "number"},
							},
						},
						"config": map[string]any{"type": "object"},
					},
				},
			},
			"edges": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []any{"edgeId", "source", "target"},
					"properties": map[string]any{
						"edgeId":       map[string]any{"type": "string", "minLength": 1},
						"source":       map[string]any{"type": "string", "minLength": 1},
						"target":       map[string]any{"type": "string", "minLength": 1},
						"sourceHandle": map[string]any{"enum": []any{"pass", "fail", nil}},
						"targetHandle": map[string]any{"type": []any{"string", "null"}},
						"label":        map[string]any{"type": "string"},
					},
				},
			},
			"variables": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
		},
	}
}

var documentSchemaLoader = gojsonschema.NewGoLoader(documentSchema())
