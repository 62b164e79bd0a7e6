package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/artifactflow/pkg/pipeline"
)

const artifactResponse = "Sure:\n\n" +
	`<pasArtifact identifier="hello-card" type="application/vnd.pas.react" title="Hello Card" description="greeting card">` + "\n" +
	`<pasFile path="App.jsx">` + "\n" +
	"<![CDATA[\nexport default function App() { return <b>hello</b>; }\n]]>\n" +
	`</pasFile>` + "\n" +
	`</pasArtifact>`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	p, err := pipeline.New(pipeline.DefaultConfig(), nil, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return NewServer(ServerDeps{Pipeline: p})
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

// resultJSON decodes the first text content of a tool result.
func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok, "expected text content")
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func TestProcessTool(t *testing.T) {
	s := newTestServer(t)

	req := buildRequest("artifact.process", map[string]any{
		"text":       artifactResponse,
		"session_id": "sess-1",
	})

	result, err := s.handleProcess(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	out := resultJSON(t, result)
	assert.EqualValues(t, 1, out["artifact_count"])
	assert.Equal(t, "sess-1", out["session_id"])
	assert.NotEmpty(t, out["workflow_id"])
}

func TestProcessToolMissingText(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleProcess(context.Background(), buildRequest("artifact.process", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestProcessToolEmptyText(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleProcess(context.Background(), buildRequest("artifact.process", map[string]any{"text": ""}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusTool(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleStatus(context.Background(), buildRequest("artifact.status", map[string]any{}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	out := resultJSON(t, result)
	assert.EqualValues(t, 0, out["active_workflows"])
}

func TestStatusToolWorkflowTrail(t *testing.T) {
	s := newTestServer(t)

	processed, err := s.handleProcess(context.Background(), buildRequest("artifact.process", map[string]any{
		"text": artifactResponse,
	}))
	require.NoError(t, err)
	workflowID := resultJSON(t, processed)["workflow_id"].(string)

	result, err := s.handleStatus(context.Background(), buildRequest("artifact.status", map[string]any{
		"workflow_id": workflowID,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	out := resultJSON(t, result)
	events, ok := out["events"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, events)
}

func TestAlertsToolEmpty(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleAlerts(context.Background(), buildRequest("artifact.alerts", map[string]any{}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestRenderStateToolUnknownArtifact(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleRenderState(context.Background(), buildRequest("artifact.render_state", map[string]any{
		"artifact_id": "no-such-artifact",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	out := resultJSON(t, result)
	assert.Nil(t, out["render_state"])
	assert.Equal(t, true, out["can_retry"])
}

func TestCancelToolUnknownWorkflow(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleCancel(context.Background(), buildRequest("artifact.cancel", map[string]any{
		"workflow_id": "nope",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	out := resultJSON(t, result)
	assert.Equal(t, false, out["cancelled"])
}

func TestCancelToolMissingID(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleCancel(context.Background(), buildRequest("artifact.cancel", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
