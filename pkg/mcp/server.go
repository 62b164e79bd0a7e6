// Package mcp exposes the artifact pipeline as MCP tools over stdio, so
// agent hosts can process responses and inspect render health without
// linking the Go API.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/artifactflow/pkg/pipeline"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Pipeline *pipeline.Pipeline
	Logger   *slog.Logger
}

// Server wraps an MCP server with artifact pipeline tool handlers.
type Server struct {
	pipeline  *pipeline.Pipeline
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all 5 tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		pipeline: deps.Pipeline,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"artifactflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Artifactflow extracts and validates renderable artifacts from assistant responses. Use artifact.process to run the detection workflow on response text, artifact.status for workflow bookkeeping, artifact.render_state to inspect an artifact's render lifecycle, artifact.alerts for circuit-breaker and retry-loop alerts, and artifact.cancel to cancel an in-flight workflow."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom
// transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: processTool(), Handler: s.handleProcess},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: alertsTool(), Handler: s.handleAlerts},
		{Tool: renderStateTool(), Handler: s.handleRenderState},
		{Tool: cancelTool(), Handler: s.handleCancel},
	}
}

// --- Tool definitions ---

func processTool() mcp.Tool {
	return mcp.NewTool("artifact.process",
		mcp.WithDescription("Run the artifact detection workflow on assistant-response text"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Raw assistant-response text to scan")),
		mcp.WithString("session_id", mcp.Description("Conversation session identifier")),
		mcp.WithBoolean("skip_classification", mcp.Description("Skip the intent classification stage")),
		mcp.WithBoolean("skip_enhancement", mcp.Description("Skip the prompt enhancement stage")),
		mcp.WithBoolean("skip_detection", mcp.Description("Skip structured artifact detection")),
		mcp.WithBoolean("force_artifact_detection", mcp.Description("Also run the fenced-code fallback and merge its findings")),
		mcp.WithNumber("timeout_ms", mcp.Description("Workflow deadline in milliseconds (default 60000)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("artifact.status",
		mcp.WithDescription("Get pipeline bookkeeping: active workflows, or the audit trail of one workflow"),
		mcp.WithString("workflow_id", mcp.Description("Return the audit event trail for this workflow")),
		mcp.WithNumber("since", mcp.Description("Only events with sequence greater than this")),
	)
}

func alertsTool() mcp.Tool {
	return mcp.NewTool("artifact.alerts",
		mcp.WithDescription("List active circuit-breaker and retry-loop alerts"),
		mcp.WithString("component_id", mcp.Description("Also include the circuit state for this component")),
	)
}

func renderStateTool() mcp.Tool {
	return mcp.NewTool("artifact.render_state",
		mcp.WithDescription("Inspect an artifact's render lifecycle state and retry eligibility"),
		mcp.WithString("artifact_id", mcp.Required(), mcp.Description("Artifact identifier")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("artifact.cancel",
		mcp.WithDescription("Cancel an in-flight workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to cancel")),
	)
}
