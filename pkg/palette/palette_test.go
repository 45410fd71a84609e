package palette

import (
	"log/slog"
	"testing"

	"github.com/dukex/apiflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedIDs(prefix string) string {
	return prefix + "-1"
}

func newTestHandler() *Handler {
	return NewHandler(fixedIDs, slog.New(slog.DiscardHandler))
}

func TestOnDrop_PrimitiveTypes(t *testing.T) {
	testCases := []struct {
		nodeType models.NodeType
		label    string
		config   map[string]any
	}{
		{models.NodeTypeStart, "Start", map[string]any{}},
		{models.NodeTypeEnd, "End", map[string]any{}},
		{models.NodeTypeAssertion, "Assertion", map[string]any{"assertions": []any{}}},
		{models.NodeTypeDelay, "Delay", map[string]any{"duration": 1000}},
		{models.NodeTypeMerge, "Merge", map[string]any{"strategy": "all", "conditions": []any{}}},
	}

	handler := newTestHandler()

	for _, tc := range testCases {
		t.Run(string(tc.nodeType), func(t *testing.T) {
			node, err := handler.OnDrop(DragPayload{Type: tc.nodeType}, models.Position{X: 5, Y: 6})
			require.NoError(t, err)

			assert.Equal(t, string(tc.nodeType)+"-1", node.ID)
			assert.Equal(t, tc.label, node.Data.Label)
			assert.Equal(t, tc.config, node.Data.Config)
			assert.Equal(t, models.Position{X: 5, Y: 6}, node.Position)
		})
	}
}

func TestOnDrop_HTTPRequestDefaults(t *testing.T) {
	node, err := newTestHandler().OnDrop(DragPayload{Type: models.NodeTypeHTTPRequest}, models.Position{})
	require.NoError(t, err)

	assert.Equal(t, "Http Request", node.Data.Label)
	assert.Equal(t, "GET", node.Data.Config["method"])
	assert.Equal(t, 30, node.Data.Config["timeout"])
	assert.Equal(t, "", node.Data.Config["url"])
	assert.Equal(t, map[string]any{}, node.Data.Config["headers"])
}

func TestOnDrop_MethodOverridesOnlyHTTPRequest(t *testing.T) {
	handler := newTestHandler()

	node, err := handler.OnDrop(DragPayload{
		Type:     models.NodeTypeHTTPRequest,
		Method:   "DELETE",
		Template: &NodeTemplate{Config: map[string]any{"method": "POST"}},
	}, models.Position{})
	require.NoError(t, err)
	assert.Equal(t, "DELETE", node.Data.Config["method"])

	delay, err := handler.OnDrop(DragPayload{Type: models.NodeTypeDelay, Method: "DELETE"}, models.Position{})
	require.NoError(t, err)
	assert.NotContains(t, delay.Data.Config, "method")
}

func TestOnDrop_TemplateMergedOverDefaults(t *testing.T) {
	template, ok := Template("post-json")
	require.True(t, ok)

	node, err := newTestHandler().OnDrop(DragPayload{Type: template.Type, Template: template}, models.Position{})
	require.NoError(t, err)

	assert.Equal(t, "POST JSON", node.Data.Label)
	assert.Equal(t, "POST", node.Data.Config["method"])
	assert.Equal(t, "{}", node.Data.Config["body"])
	assert.Equal(t, 30, node.Data.Config["timeout"], "defaults survive the merge")

	headers, ok := node.Data.Config["headers"].(map[string]any)
	require.True(t, ok)
	headers["X-Test"] = "1"
	assert.NotContains(t, template.Config["headers"], "X-Test", "template config is copied")
}

func TestOnDrop_UnknownType(t *testing.T) {
	_, err := newTestHandler().OnDrop(DragPayload{}, models.Position{})
	require.ErrorIs(t, err, ErrUnknownNodeType)

	_, err = newTestHandler().OnDrop(DragPayload{Type: "webhook"}, models.Position{})
	require.ErrorIs(t, err, ErrUnknownNodeType)
}

func TestOnDrop_DefaultIDsAreUnique(t *testing.T) {
	handler := NewHandler(nil, slog.New(slog.DiscardHandler))

	first, err := handler.OnDrop(DragPayload{Type: models.NodeTypeDelay}, models.Position{})
	require.NoError(t, err)
	second, err := handler.OnDrop(DragPayload{Type: models.NodeTypeDelay}, models.Position{})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Less(t, first.ID, second.ID)
}

func TestDefaultConfig_ReturnsFreshMaps(t *testing.T) {
	first := DefaultConfig(models.NodeTypeHTTPRequest)
	first["url"] = "http://changed"

	assert.Equal(t, "", DefaultConfig(models.NodeTypeHTTPRequest)["url"])
}

func TestTemplates_AreValidTypes(t *testing.T) {
	for _, template := range Templates() {
		assert.True(t, template.Type.Valid(), template.Name)
		assert.NotEmpty(t, template.Label)
	}

	_, ok := Template("missing")
	assert.False(t, ok)
}
