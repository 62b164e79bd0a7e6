package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/artifactflow/internal/logging"
	"github.com/rendis/artifactflow/internal/parser"
	"github.com/rendis/artifactflow/internal/store"
	"github.com/rendis/artifactflow/internal/streaming"
	"github.com/rendis/artifactflow/pkg/schema"
)

// DefaultWorkflowTimeout bounds a whole pipeline invocation when the caller
// does not set one.
const DefaultWorkflowTimeout = 60 * time.Second

// IntentClassifier decides whether a prompt would benefit from enhancement.
type IntentClassifier interface {
	Classify(ctx context.Context, prompt string) (*schema.Intent, error)
}

// PromptEnhancer rewrites a prompt for better artifact generation.
type PromptEnhancer interface {
	Enhance(ctx context.Context, prompt string) (*schema.Enhancement, error)
}

// Config holds orchestrator settings.
type Config struct {
	DefaultTimeout time.Duration
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{DefaultTimeout: DefaultWorkflowTimeout}
}

type activeWorkflow struct {
	id        string
	sessionID string
	startedAt time.Time
	cancel    context.CancelFunc
}

// Orchestrator sequences classification, enhancement and artifact detection
// for one assistant response at a time. Stage failures are isolated: each
// failed stage contributes one WorkflowError and the pipeline continues with
// that stage's zero value. Only two conditions abort a call, empty input and
// the workflow deadline.
type Orchestrator struct {
	cfg        Config
	classifier IntentClassifier
	enhancer   PromptEnhancer
	parser     *parser.Parser
	fsm        *StageFSM
	events     store.EventStore
	hub        streaming.EventHub
	logger     *slog.Logger

	mu     sync.Mutex
	active map[string]*activeWorkflow
}

// NewOrchestrator wires an orchestrator. events and hub may be nil, in which
// case no audit events are recorded or published.
func NewOrchestrator(cfg Config, classifier IntentClassifier, enhancer PromptEnhancer, p *parser.Parser, events store.EventStore, hub streaming.EventHub, logger *slog.Logger) *Orchestrator {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultWorkflowTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	var appender EventAppender
	if events != nil {
		appender = events
	}
	return &Orchestrator{
		cfg:        cfg,
		classifier: classifier,
		enhancer:   enhancer,
		parser:     p,
		fsm:        NewStageFSM(appender),
		events:     events,
		hub:        hub,
		logger:     logger,
		active:     make(map[string]*activeWorkflow),
	}
}

// ExecuteWorkflow runs the full pipeline for one response fragment and
// returns the aggregate result. The error return is non-nil only for empty
// input, the workflow deadline, or cancellation; everything else degrades
// into WorkflowResult.Errors.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, req *schema.WorkflowRequest) (*schema.WorkflowResult, error) {
	if req == nil || req.Prompt == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow prompt is empty")
	}

	workflowID := uuid.NewString()
	timeout := req.Options.Timeout
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	ctx = logging.WithWorkflowID(ctx, workflowID)
	log := logging.LogWith(ctx, o.logger)

	o.register(&activeWorkflow{
		id:        workflowID,
		sessionID: req.SessionID,
		startedAt: time.Now(),
		cancel:    cancel,
	})
	defer func() {
		o.deregister(workflowID)
		cancel()
	}()

	result := &schema.WorkflowResult{
		WorkflowID: workflowID,
		SessionID:  req.SessionID,
		Prompt:     req.Prompt,
		StartedAt:  time.Now().UTC(),
	}

	o.emit(ctx, workflowID, "", schema.EventWorkflowStarted, map[string]any{
		"session_id": req.SessionID,
		"timeout_ms": timeout.Milliseconds(),
	})
	log.Info("workflow started", slog.Duration("timeout", timeout))

	current := schema.StagePending

	// Stage 1: intent classification.
	if req.Options.SkipClassification || o.classifier == nil {
		o.emitStageSkipped(ctx, workflowID, schema.StageClassification)
	} else {
		o.transition(ctx, workflowID, &current, schema.StageClassification)
		stageStart := time.Now()
		intent, err := runStage(ctx, func(ctx context.Context) (*schema.Intent, error) {
			return o.classifier.Classify(ctx, req.Prompt)
		})
		if err != nil {
			if werr := o.handleStageErr(ctx, workflowID, result, &current, schema.StageClassification, err); werr != nil {
				return nil, werr
			}
		} else {
			result.Intent = intent
			o.completeStage(ctx, workflowID, result, schema.StageClassification, time.Since(stageStart))
		}
	}

	// Stage 2: prompt enhancement, gated on classifier confidence.
	if o.shouldEnhance(req, result.Intent) {
		o.transition(ctx, workflowID, &current, schema.StageEnhancement)
		stageStart := time.Now()
		enh, err := runStage(ctx, func(ctx context.Context) (*schema.Enhancement, error) {
			return o.enhancer.Enhance(ctx, req.Prompt)
		})
		if err != nil {
			if werr := o.handleStageErr(ctx, workflowID, result, &current, schema.StageEnhancement, err); werr != nil {
				return nil, werr
			}
		} else {
			result.WasPromptEnhanced = enh.WasEnhanced
			if enh.WasEnhanced {
				result.EnhancedPrompt = enh.EnhancedPrompt
			}
			o.completeStage(ctx, workflowID, result, schema.StageEnhancement, time.Since(stageStart))
		}
	} else {
		o.emitStageSkipped(ctx, workflowID, schema.StageEnhancement)
	}

	// Stage 3: structured artifact detection.
	detectionRan := false
	if req.Options.SkipDetection {
		o.emitStageSkipped(ctx, workflowID, schema.StageDetection)
	} else {
		detectionRan = true
		o.transition(ctx, workflowID, &current, schema.StageDetection)
		stageStart := time.Now()
		parsed, err := runStage(ctx, func(ctx context.Context) (*parser.ParseResult, error) {
			return o.parser.ParseArtifacts(req.Prompt, true)
		})
		if err != nil {
			if werr := o.handleStageErr(ctx, workflowID, result, &current, schema.StageDetection, err); werr != nil {
				return nil, werr
			}
		} else {
			result.Artifacts = parsed.Artifacts
			for i := range parsed.Artifacts {
				o.emit(ctx, workflowID, parsed.Artifacts[i].Identifier, schema.EventArtifactDetected, map[string]any{
					"type":  string(parsed.Artifacts[i].Type),
					"title": parsed.Artifacts[i].Title,
				})
			}
			o.completeStage(ctx, workflowID, result, schema.StageDetection, time.Since(stageStart))
		}
	}

	// Stage 4: fenced-block fallback. Runs when structured detection came up
	// empty or the caller forces it; forced runs merge by identifier so the
	// primary detector's artifacts win.
	if req.Options.ForceArtifactDetection || (detectionRan && len(result.Artifacts) == 0) {
		o.transition(ctx, workflowID, &current, schema.StageFallbackDetection)
		stageStart := time.Now()
		fallback, err := runStage(ctx, func(ctx context.Context) ([]schema.ParsedArtifact, error) {
			return parser.ExtractCodeBlocks(req.Prompt), nil
		})
		if err != nil {
			if werr := o.handleStageErr(ctx, workflowID, result, &current, schema.StageFallbackDetection, err); werr != nil {
				return nil, werr
			}
		} else {
			merged := mergeArtifacts(result.Artifacts, fallback)
			for i := len(result.Artifacts); i < len(merged); i++ {
				o.emit(ctx, workflowID, merged[i].Identifier, schema.EventArtifactDetected, map[string]any{
					"type":     string(merged[i].Type),
					"fallback": true,
				})
			}
			result.Artifacts = merged
			o.completeStage(ctx, workflowID, result, schema.StageFallbackDetection, time.Since(stageStart))
		}
	}

	o.transition(ctx, workflowID, &current, schema.StageComplete)
	result.ArtifactCount = len(result.Artifacts)
	result.CompletedAt = time.Now().UTC()
	log.Info("workflow completed",
		slog.Int("artifacts", result.ArtifactCount),
		slog.Int("stage_errors", len(result.Errors)))
	return result, nil
}

// CancelWorkflow cancels an active workflow's context and removes it from
// the registry. It reports whether the workflow was active.
func (o *Orchestrator) CancelWorkflow(workflowID string) bool {
	o.mu.Lock()
	wf, ok := o.active[workflowID]
	if ok {
		delete(o.active, workflowID)
	}
	o.mu.Unlock()
	if !ok {
		return false
	}
	wf.cancel()
	o.logger.Info("workflow cancelled", slog.String("workflow_id", workflowID))
	return true
}

// GetActiveWorkflowCount returns the live registry size.
func (o *Orchestrator) GetActiveWorkflowCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// ActiveWorkflowIDs returns the IDs of workflows currently in flight.
func (o *Orchestrator) ActiveWorkflowIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

func (o *Orchestrator) register(wf *activeWorkflow) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active[wf.id] = wf
}

func (o *Orchestrator) deregister(workflowID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, workflowID)
}

// shouldEnhance applies the enhancement gate: the classifier must both
// request enhancement and clear the confidence threshold.
func (o *Orchestrator) shouldEnhance(req *schema.WorkflowRequest, intent *schema.Intent) bool {
	if req.Options.SkipEnhancement || o.enhancer == nil {
		return false
	}
	if intent == nil {
		return false
	}
	return intent.ShouldEnhance && intent.Confidence > schema.EnhancementConfidenceThreshold
}

// handleStageErr converts a stage failure into a recoverable WorkflowError,
// unless the workflow deadline or a cancellation has fired, which aborts the
// whole call. The terminal paths key off the workflow context, not the error
// value: a collaborator may return an error wrapping DeadlineExceeded from
// its own upstream call, and that is an ordinary stage failure as long as
// the workflow deadline has not elapsed.
func (o *Orchestrator) handleStageErr(ctx context.Context, workflowID string, result *schema.WorkflowResult, current *schema.WorkflowStage, stage schema.WorkflowStage, err error) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		// The workflow context is already dead; terminal bookkeeping still
		// has to land in the audit trail.
		o.transition(context.WithoutCancel(ctx), workflowID, current, schema.StageTimedOut)
		logging.LogWith(ctx, o.logger).Warn("workflow deadline exceeded", slog.String("stage", string(stage)))
		return schema.NewErrorf(schema.ErrCodeTimeout, "workflow deadline exceeded during %s", stage).
			WithStage(string(stage)).
			WithDetails(map[string]any{"workflow_id": workflowID})
	case context.Canceled:
		o.transition(context.WithoutCancel(ctx), workflowID, current, schema.StageCancelled)
		return schema.NewError(schema.ErrCodeCancelled, "workflow cancelled").
			WithStage(string(stage)).
			WithDetails(map[string]any{"workflow_id": workflowID})
	}

	result.Errors = append(result.Errors, schema.WorkflowError{
		Stage:       stage,
		Message:     err.Error(),
		Recoverable: true,
	})
	o.emit(ctx, workflowID, "", schema.EventStageFailed, map[string]any{
		"stage": string(stage),
		"error": err.Error(),
	})
	logging.LogWith(ctx, o.logger).Warn("stage failed",
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()))
	return nil
}

func (o *Orchestrator) completeStage(ctx context.Context, workflowID string, result *schema.WorkflowResult, stage schema.WorkflowStage, elapsed time.Duration) {
	result.Timings = append(result.Timings, schema.StageTiming{
		Stage:      stage,
		DurationMs: elapsed.Milliseconds(),
	})
	o.emit(ctx, workflowID, "", schema.EventStageCompleted, map[string]any{
		"stage":       string(stage),
		"duration_ms": elapsed.Milliseconds(),
	})
}

func (o *Orchestrator) emitStageSkipped(ctx context.Context, workflowID string, stage schema.WorkflowStage) {
	o.emit(ctx, workflowID, "", schema.EventStageSkipped, map[string]any{"stage": string(stage)})
}

// transition advances the FSM and publishes the entry event to the hub.
// Transition failures are logged, not propagated; audit trouble must not
// break the pipeline.
func (o *Orchestrator) transition(ctx context.Context, workflowID string, current *schema.WorkflowStage, to schema.WorkflowStage) {
	if err := o.fsm.Transition(ctx, workflowID, *current, to); err != nil {
		o.logger.Warn("stage transition not recorded",
			slog.String("workflow_id", workflowID),
			slog.String("to", string(to)),
			slog.String("error", err.Error()))
	}
	*current = to
	if o.hub != nil {
		_ = o.hub.Publish(ctx, streaming.StreamEvent{
			WorkflowID: workflowID,
			EventType:  stageEventType(to),
			Payload:    map[string]any{"stage": string(to)},
		})
	}
}

// emit records an audit event and mirrors it to the hub. Both sinks are
// best-effort.
func (o *Orchestrator) emit(ctx context.Context, workflowID, artifactID, eventType string, payload map[string]any) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	if o.events != nil {
		err := o.events.AppendEvent(ctx, &store.Event{
			WorkflowID: workflowID,
			ArtifactID: artifactID,
			Type:       eventType,
			Payload:    raw,
		})
		if err != nil {
			o.logger.Warn("audit event not recorded",
				slog.String("workflow_id", workflowID),
				slog.String("event", eventType),
				slog.String("error", err.Error()))
		}
	}
	if o.hub != nil {
		_ = o.hub.Publish(ctx, streaming.StreamEvent{
			WorkflowID: workflowID,
			ArtifactID: artifactID,
			EventType:  eventType,
			Payload:    payload,
		})
	}
}

// runStage invokes fn on its own goroutine and waits for either its outcome
// or the context. A stage abandoned at the deadline keeps running in the
// background; collaborators must tolerate fire-and-forget abandonment.
func runStage[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome{val: v, err: err}
	}()

	select {
	case out := <-ch:
		return out.val, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// mergeArtifacts appends fallback artifacts whose identifier is not already
// present, preserving document order within each source.
func mergeArtifacts(primary, fallback []schema.ParsedArtifact) []schema.ParsedArtifact {
	seen := make(map[string]bool, len(primary))
	for i := range primary {
		seen[primary[i].Identifier] = true
	}
	merged := primary
	for i := range fallback {
		if seen[fallback[i].Identifier] {
			continue
		}
		seen[fallback[i].Identifier] = true
		merged = append(merged, fallback[i])
	}
	return merged
}
