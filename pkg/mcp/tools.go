package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/artifactflow/pkg/pipeline"
	"github.com/rendis/artifactflow/pkg/schema"
)

// handleProcess runs the detection workflow on response text.
func (s *Server) handleProcess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text is required"), nil
	}

	opts := schema.WorkflowOptions{
		SkipClassification:     req.GetBool("skip_classification", false),
		SkipEnhancement:        req.GetBool("skip_enhancement", false),
		SkipDetection:          req.GetBool("skip_detection", false),
		ForceArtifactDetection: req.GetBool("force_artifact_detection", false),
	}
	if ms := req.GetFloat("timeout_ms", 0); ms > 0 {
		opts.Timeout = time.Duration(ms) * time.Millisecond
	}

	result, runErr := s.pipeline.ProcessRequest(ctx, &schema.WorkflowRequest{
		Prompt:    text,
		SessionID: req.GetString("session_id", ""),
		Options:   opts,
	})
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow failed: %v", runErr)), nil
	}

	return marshalResult(result)
}

// handleStatus returns active-workflow bookkeeping or one workflow's trail.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID := req.GetString("workflow_id", "")
	if workflowID == "" {
		return marshalResult(map[string]any{
			"active_workflows": s.pipeline.GetActiveWorkflowCount(),
			"uptime_seconds":   int64(pipeline.Uptime().Seconds()),
		})
	}

	since := int64(req.GetFloat("since", 0))
	events, err := s.pipeline.Events(ctx, workflowID, since)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("event query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{
		"workflow_id": workflowID,
		"events":      events,
	})
}

// handleAlerts lists active alerts, optionally with one component's circuit
// state.
func (s *Server) handleAlerts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := map[string]any{
		"alerts": s.pipeline.GetActiveAlerts(),
	}
	if componentID := req.GetString("component_id", ""); componentID != "" {
		out["component_state"] = s.pipeline.GetComponentState(componentID)
		out["can_retry"] = s.pipeline.CanRetry(componentID)
	}
	return marshalResult(out)
}

// handleRenderState inspects one artifact's render lifecycle.
func (s *Server) handleRenderState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	artifactID, err := req.RequireString("artifact_id")
	if err != nil {
		return mcp.NewToolResultError("artifact_id is required"), nil
	}

	return marshalResult(map[string]any{
		"artifact_id":  artifactID,
		"render_state": s.pipeline.GetRenderState(artifactID),
		"can_retry":    s.pipeline.CanRetry(artifactID),
	})
}

// handleCancel cancels an in-flight workflow.
func (s *Server) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	cancelled := s.pipeline.CancelWorkflow(workflowID)
	return marshalResult(map[string]any{
		"workflow_id": workflowID,
		"cancelled":   cancelled,
	})
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
