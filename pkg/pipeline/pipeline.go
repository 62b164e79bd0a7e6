// Package pipeline is the composition root for the artifact resilience
// pipeline: circuit monitor, tolerant parser, workflow orchestrator and
// render lifecycle controller behind one facade. The chat UI layer talks to
// this package and nothing below it.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rendis/artifactflow/internal/classify"
	"github.com/rendis/artifactflow/internal/expressions"
	"github.com/rendis/artifactflow/internal/janitor"
	"github.com/rendis/artifactflow/internal/monitor"
	"github.com/rendis/artifactflow/internal/parser"
	"github.com/rendis/artifactflow/internal/renderer"
	"github.com/rendis/artifactflow/internal/store"
	"github.com/rendis/artifactflow/internal/streaming"
	"github.com/rendis/artifactflow/internal/workflow"
	"github.com/rendis/artifactflow/pkg/schema"
)

// Config aggregates the settings of every pipeline component.
type Config struct {
	Workflow workflow.Config
	Renderer renderer.Config
	Monitor  monitor.Config
	Janitor  janitor.Config

	// DBPath enables the persistent audit log when set (a libsql file URI,
	// e.g. "file:artifactflow.db"). Empty keeps events in memory.
	DBPath string
}

// DefaultConfig returns defaults for every component.
func DefaultConfig() Config {
	return Config{
		Workflow: workflow.DefaultConfig(),
		Renderer: renderer.DefaultConfig(),
		Monitor:  monitor.DefaultConfig(),
		Janitor:  janitor.DefaultConfig(),
	}
}

// Pipeline wires the full artifact path: response text in, workflow result
// out, renders gated by the circuit monitor.
type Pipeline struct {
	cfg          Config
	parser       *parser.Parser
	monitor      *monitor.RetryMonitor
	orchestrator *workflow.Orchestrator
	renderer     *renderer.Controller
	events       store.EventStore
	hub          streaming.EventHub
	janitor      *janitor.Janitor
	jq           *expressions.GoJQEngine
	logger       *slog.Logger
	closeStore   func() error
}

// New builds a pipeline. classifier, enhancer and executor are the external
// collaborators; nil classifier and enhancer fall back to the built-in
// heuristic classifier and pass-through enhancer, a nil executor disables
// rendering.
func New(cfg Config, classifier workflow.IntentClassifier, enhancer workflow.PromptEnhancer, executor renderer.Executor, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = classify.NewHeuristic(nil)
	}
	if enhancer == nil {
		enhancer = classify.NoopEnhancer{}
	}

	p, err := parser.New()
	if err != nil {
		return nil, err
	}

	hub := streaming.NewMemoryHub()

	var events store.EventStore
	var closeStore func() error
	if cfg.DBPath != "" {
		ls, err := store.NewLibSQLStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := ls.Migrate(context.Background()); err != nil {
			_ = ls.Close()
			return nil, err
		}
		events = ls
		closeStore = ls.Close
	} else {
		events = store.NewMemoryStore()
	}

	mon := monitor.NewRetryMonitor(cfg.Monitor, func(alert monitor.RetryLoopAlert) {
		_ = hub.Publish(context.Background(), streaming.StreamEvent{
			ArtifactID: alert.ComponentID,
			EventType:  schema.EventRetryLoopDetected,
			Payload:    alert,
		})
	})

	orch := workflow.NewOrchestrator(cfg.Workflow, classifier, enhancer, p, events, hub, logger)

	var ctrl *renderer.Controller
	if executor != nil {
		ctrl = renderer.NewController(cfg.Renderer, executor, mon, events, hub, logger)
	}

	jan, err := janitor.New(cfg.Janitor, mon, ctrl, logger)
	if err != nil {
		if closeStore != nil {
			_ = closeStore()
		}
		return nil, err
	}

	return &Pipeline{
		cfg:          cfg,
		parser:       p,
		monitor:      mon,
		orchestrator: orch,
		renderer:     ctrl,
		events:       events,
		hub:          hub,
		janitor:      jan,
		jq:           expressions.NewGoJQEngine(),
		logger:       logger,
		closeStore:   closeStore,
	}, nil
}

// Start launches background maintenance (the janitor sweep loop).
func (p *Pipeline) Start(ctx context.Context) error {
	return p.janitor.Start(ctx)
}

// Close stops background work and releases resources. In-flight renders are
// waited for.
func (p *Pipeline) Close() error {
	p.janitor.Stop()
	if p.renderer != nil {
		p.renderer.Shutdown()
	}
	if p.closeStore != nil {
		return p.closeStore()
	}
	return nil
}

// ProcessResponse is the single entry point for assistant-response text: it
// runs the full classification, enhancement and detection workflow and
// returns the aggregate result for the UI to render.
func (p *Pipeline) ProcessResponse(ctx context.Context, responseText string, opts schema.WorkflowOptions) (*schema.WorkflowResult, error) {
	return p.orchestrator.ExecuteWorkflow(ctx, &schema.WorkflowRequest{
		Prompt:  responseText,
		Options: opts,
	})
}

// ProcessRequest runs the workflow for a fully-specified request.
func (p *Pipeline) ProcessRequest(ctx context.Context, req *schema.WorkflowRequest) (*schema.WorkflowResult, error) {
	return p.orchestrator.ExecuteWorkflow(ctx, req)
}

// CancelWorkflow cancels an in-flight workflow, reporting whether it was
// active.
func (p *Pipeline) CancelWorkflow(workflowID string) bool {
	return p.orchestrator.CancelWorkflow(workflowID)
}

// GetActiveWorkflowCount returns how many workflows are in flight.
func (p *Pipeline) GetActiveWorkflowCount() int {
	return p.orchestrator.GetActiveWorkflowCount()
}

// RenderArtifact hands a parsed artifact to the render executor, gated by
// the circuit monitor.
func (p *Pipeline) RenderArtifact(ctx context.Context, artifact *schema.ParsedArtifact, opts renderer.RenderOptions) (*renderer.RenderResult, error) {
	if p.renderer == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no render executor configured")
	}
	return p.renderer.Render(ctx, artifact.Identifier, renderer.SourceFromArtifact(artifact), opts)
}

// RetryRender re-renders a previously failed artifact, subject to the retry
// ceiling and circuit gating.
func (p *Pipeline) RetryRender(ctx context.Context, artifact *schema.ParsedArtifact, opts renderer.RenderOptions) (*renderer.RenderResult, error) {
	if p.renderer == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no render executor configured")
	}
	return p.renderer.Retry(ctx, artifact.Identifier, renderer.SourceFromArtifact(artifact), opts)
}

// GetRenderState returns the lifecycle snapshot for an artifact, or nil.
func (p *Pipeline) GetRenderState(artifactID string) *renderer.RendererState {
	if p.renderer == nil {
		return nil
	}
	return p.renderer.GetState(artifactID)
}

// CanRetry reports whether another render attempt is permitted for the
// artifact.
func (p *Pipeline) CanRetry(artifactID string) bool {
	if p.renderer == nil {
		return p.monitor.CanRetry(artifactID)
	}
	return p.renderer.CanRetry(artifactID)
}

// ClearArtifact drops all lifecycle and circuit state for an artifact.
func (p *Pipeline) ClearArtifact(artifactID string) {
	if p.renderer != nil {
		p.renderer.Clear(artifactID)
		return
	}
	p.monitor.ResetCircuit(artifactID)
}

// GetActiveAlerts returns all currently active retry-loop alerts.
func (p *Pipeline) GetActiveAlerts() []monitor.RetryLoopAlert {
	return p.monitor.GetActiveAlerts()
}

// GetComponentState exposes the circuit monitor's bookkeeping for one
// component, or nil if the component is unknown.
func (p *Pipeline) GetComponentState(componentID string) *monitor.ComponentState {
	return p.monitor.GetComponentState(componentID)
}

// Monitor exposes the circuit monitor for callers that manage their own
// retry-sensitive components.
func (p *Pipeline) Monitor() *monitor.RetryMonitor {
	return p.monitor
}

// Subscribe streams pipeline events matching the filter until the context
// ends or the returned cancel function is called.
func (p *Pipeline) Subscribe(ctx context.Context, filter streaming.EventFilter) (<-chan streaming.StreamEvent, func(), error) {
	return p.hub.Subscribe(ctx, filter)
}

// Events returns the audit trail for a workflow, in sequence order.
func (p *Pipeline) Events(ctx context.Context, workflowID string, since int64) ([]*store.Event, error) {
	return p.events.GetEvents(ctx, workflowID, since)
}

// Query evaluates a jq expression against a workflow result, for callers
// that want to slice the aggregate record without walking it by hand.
func (p *Pipeline) Query(ctx context.Context, expression string, result *schema.WorkflowResult) (any, error) {
	if result == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no result to query")
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "result not serializable").WithCause(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "result not serializable").WithCause(err)
	}
	return p.jq.Evaluate(ctx, expression, doc)
}

// ParseOnly runs just the tolerant parser, without the workflow machinery.
func (p *Pipeline) ParseOnly(content string, validateSchema bool) (*parser.ParseResult, error) {
	return p.parser.ParseArtifacts(content, validateSchema)
}

// Uptime helpers for status surfaces.
var startedAt = time.Now()

// Uptime reports how long the process has been running.
func Uptime() time.Duration {
	return time.Since(startedAt)
}
