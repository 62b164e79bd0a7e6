package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/artifactflow/internal/janitor"
	"github.com/rendis/artifactflow/internal/logging"
	"github.com/rendis/artifactflow/internal/monitor"
	"github.com/rendis/artifactflow/internal/renderer"
	"github.com/rendis/artifactflow/internal/workflow"
	"github.com/rendis/artifactflow/pkg/mcp"
	"github.com/rendis/artifactflow/pkg/pipeline"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		printVersion()
		return
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	pcfg := pipeline.Config{
		Workflow: workflow.Config{DefaultTimeout: cfg.workflowTimeout()},
		Renderer: renderer.Config{
			DefaultTimeout: cfg.renderTimeout(),
			MaxRetries:     cfg.MaxRetries,
			Concurrency:    cfg.RenderConcurrency,
		},
		Monitor: monitor.DefaultConfig(),
		Janitor: janitor.Config{Schedule: cfg.JanitorSchedule},
		DBPath:  cfg.DBPath,
	}

	// The MCP host plugs in its own classifier, enhancer and render
	// executor; the stdio server runs detection-only with the built-in
	// heuristics.
	p, err := pipeline.New(pcfg, nil, nil, nil, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "artifactflow: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "artifactflow: %v\n", err)
		os.Exit(1)
	}

	srv := mcp.NewServer(mcp.ServerDeps{Pipeline: p, Logger: logger})
	logger.Info("artifactflow mcp server listening on stdio", slog.String("version", version))

	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "artifactflow: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	// Logs go to stderr; stdout belongs to the MCP transport.
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
