package mcptools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/naperu/zapinsight/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return tc.Text
}

func newTools() *tools {
	return &tools{svc: service.NewServices(service.Deps{}, service.Options{}, "secret")}
}

func TestPreviewPriorityTool(t *testing.T) {
	tl := newTools()

	res, err := tl.previewPriority(context.Background(), call(map[string]interface{}{"probability": 72.0}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var preview service.PriorityPreview
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &preview))
	assert.Equal(t, "alta", preview.Priority)
	assert.Equal(t, 72, preview.ConversionProbability)
}

func TestMissingArgumentsAreToolErrors(t *testing.T) {
	tl := newTools()
	ctx := context.Background()

	res, err := tl.fetchHistory(ctx, call(map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tl.getInsight(ctx, call(map[string]interface{}{"contact_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "not a valid UUID")

	res, err = tl.listQueue(ctx, call(map[string]interface{}{"status": "done"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tl.previewPriority(ctx, call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestNewServerRegistersTools(t *testing.T) {
	s := NewServer(service.NewServices(service.Deps{}, service.Options{}, "secret"), "test")
	require.NotNil(t, s)
}
