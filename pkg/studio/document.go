package studio

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

const rootLocation = "(root)"

var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

// DefaultDocument is the graph of a workflow that has never been saved: a single start node.
func DefaultDocument() models.WorkflowDocument {
	return models.WorkflowDocument{
		Nodes: []models.DocumentNode{{
			NodeID:   "start-1",
			Type:     models.NodeTypeStart,
			Label:    models.NodeTypeStart.DisplayName(),
			Position: models.Position{X: 250, Y: 50},
			Config:   map[string]any{},
		}},
		Edges:     []models.DocumentEdge{},
		Variables: models.VariableMap{},
	}
}

func newDocumentValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return validate
}

var documentValidator = newDocumentValidator()

// ParseDocument checks a JSON workflow document against the document schema, the model rules and
// the edge endpoints. Every problem found is reported in an *ApplyError.
func ParseDocument(raw []byte) (models.WorkflowDocument, error) {
	var doc models.WorkflowDocument

	result, err := gojsonschema.Validate(documentSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return doc, &ApplyError{Issues: []Issue{{Message: fmt.Sprintf("malformed document: %v", err)}}}
	}

	if !result.Valid() {
		issues := make([]Issue, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			issues = append(issues, Issue{Location: schemaLocation(desc.Field()), Message: desc.Description()})
		}

		return doc, &ApplyError{Issues: issues}
	}

	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, &ApplyError{Issues: []Issue{{Message: fmt.Sprintf("malformed document: %v", err)}}}
	}

	if issues := CheckDocument(doc); len(issues) > 0 {
		return doc, &ApplyError{Issues: issues}
	}

	return doc, nil
}

// ParseDocumentYAML accepts the YAML rendition of a workflow document.
func ParseDocumentYAML(raw []byte) (models.WorkflowDocument, error) {
	var tree any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return models.WorkflowDocument{}, &ApplyError{Issues: []Issue{{Message: fmt.Sprintf("malformed document: %v", err)}}}
	}

	encoded, err := json.Marshal(tree)
	if err != nil {
		return models.WorkflowDocument{}, &ApplyError{Issues: []Issue{{Message: fmt.Sprintf("malformed document: %v", err)}}}
	}

	return ParseDocument(encoded)
}

// CheckDocument runs the model rules and the graph integrity checks on a decoded document.
func CheckDocument(doc models.WorkflowDocument) []Issue {
	var issues []Issue

	if err := documentValidator.Struct(doc); err != nil {
		var validationErrs validator.ValidationErrors
		if !errors.As(err, &validationErrs) {
			return []Issue{{Message: err.Error()}}
		}

		for _, fieldErr := range validationErrs {
			issues = append(issues, Issue{
				Location: validatorLocation(fieldErr.Namespace()),
				Message:  fmt.Sprintf("failed on the '%s' rule", fieldErr.Tag()),
			})
		}
	}

	nodeIDs := make(map[string]bool, len(doc.Nodes))
	for i, node := range doc.Nodes {
		if nodeIDs[node.NodeID] {
			issues = append(issues, Issue{Location: fmt.Sprintf("nodes.%d.nodeId", i), Message: "duplicate node id " + node.NodeID})
		}

		nodeIDs[node.NodeID] = true
	}

	edgeIDs := make(map[string]bool, len(doc.Edges))
	for i, edge := range doc.Edges {
		if edgeIDs[edge.EdgeID] {
			issues = append(issues, Issue{Location: fmt.Sprintf("edges.%d.edgeId", i), Message: "duplicate edge id " + edge.EdgeID})
		}

		edgeIDs[edge.EdgeID] = true

		if !nodeIDs[edge.Source] {
			issues = append(issues, Issue{Location: fmt.Sprintf("edges.%d.source", i), Message: "unknown node " + edge.Source})
		}

		if !nodeIDs[edge.Target] {
			issues = append(issues, Issue{Location: fmt.Sprintf("edges.%d.target", i), Message: "unknown node " + edge.Target})
		}
	}

	return issues
}

func schemaLocation(field string) string {
	if field == rootLocation {
		return ""
	}

	return field
}

// validatorLocation turns "WorkflowDocument.nodes[0].type" into "nodes.0.type".
func validatorLocation(namespace string) string {
	_, path, found := strings.Cut(namespace, ".")
	if !found {
		return ""
	}

	return indexPattern.ReplaceAllString(path, ".$1")
}
