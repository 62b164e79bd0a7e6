package renderer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/artifactflow/internal/logging"
	"github.com/rendis/artifactflow/internal/monitor"
	"github.com/rendis/artifactflow/internal/store"
	"github.com/rendis/artifactflow/internal/streaming"
	"github.com/rendis/artifactflow/pkg/schema"
)

const (
	// DefaultRenderTimeout bounds one executor invocation. This is the
	// mechanism that prevents indefinite "infinite loading" UI states.
	DefaultRenderTimeout = 30 * time.Second

	// DefaultMaxRetries is the hard retry ceiling per artifact. It is a
	// separate safety net from the circuit monitor's failure threshold:
	// the ceiling stops retries even after the circuit cooldown elapses.
	DefaultMaxRetries = 3

	defaultConcurrency = 4
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 5 * time.Second
)

// Executor is the external collaborator that actually compiles and runs
// artifact code. The controller treats it as an opaque asynchronous
// operation with a result or a typed failure.
type Executor interface {
	Execute(ctx context.Context, artifactID string, source *RenderSource) error
}

// RenderSource is the resolved input handed to the executor.
type RenderSource struct {
	Type         schema.ArtifactType         `json:"type"`
	Files        []schema.ArtifactFile       `json:"files"`
	Dependencies []schema.ArtifactDependency `json:"dependencies,omitempty"`
}

// SourceFromArtifact builds a RenderSource from a parsed artifact.
func SourceFromArtifact(artifact *schema.ParsedArtifact) *RenderSource {
	return &RenderSource{
		Type:         artifact.Type,
		Files:        artifact.Files,
		Dependencies: artifact.Dependencies,
	}
}

// RenderOptions carries per-call render settings.
type RenderOptions struct {
	Timeout time.Duration `json:"timeout,omitempty"`
}

// RenderResult is the outcome of one render call.
type RenderResult struct {
	Success      bool                     `json:"success"`
	RenderTimeMs int64                    `json:"render_time_ms"`
	RetryCount   int                      `json:"retry_count"`
	ErrorMessage string                   `json:"error_message,omitempty"`
	ErrorType    schema.RendererErrorType `json:"error_type,omitempty"`
}

// RendererState is the lifecycle snapshot for one artifact.
type RendererState struct {
	ArtifactID    string                   `json:"artifact_id"`
	Status        schema.RendererStatus    `json:"status"`
	RetryCount    int                      `json:"retry_count"`
	LastError     string                   `json:"last_error,omitempty"`
	LastErrorType schema.RendererErrorType `json:"last_error_type,omitempty"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

// Config holds render lifecycle settings.
type Config struct {
	DefaultTimeout time.Duration
	MaxRetries     int
	Concurrency    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// DefaultConfig returns the render lifecycle defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: DefaultRenderTimeout,
		MaxRetries:     DefaultMaxRetries,
		Concurrency:    defaultConcurrency,
		BackoffBase:    defaultBackoffBase,
		BackoffMax:     defaultBackoffMax,
	}
}

func (c Config) withDefaults() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultRenderTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = defaultBackoffMax
	}
	return c
}

// Controller drives the render lifecycle for each artifact:
// idle -> initializing -> loading -> loaded | failed. Every render is
// bounded by a deadline and every retry is gated by both the local retry
// ceiling and the circuit monitor.
type Controller struct {
	cfg      Config
	executor Executor
	monitor  *monitor.RetryMonitor
	pool     *renderPool
	events   store.EventStore
	hub      streaming.EventHub
	logger   *slog.Logger

	mu     sync.Mutex
	states map[string]*RendererState
}

// NewController wires a render lifecycle controller. events and hub may be
// nil. A nil monitor falls back to the process-wide default instance.
func NewController(cfg Config, executor Executor, mon *monitor.RetryMonitor, events store.EventStore, hub streaming.EventHub, logger *slog.Logger) *Controller {
	if mon == nil {
		mon = monitor.Default
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:      cfg,
		executor: executor,
		monitor:  mon,
		pool:     newRenderPool(cfg.Concurrency),
		events:   events,
		hub:      hub,
		logger:   logger,
		states:   make(map[string]*RendererState),
	}
}

// Render runs one bounded render attempt for the artifact. Typed failures
// come back inside the RenderResult; the error return is reserved for
// refusals of work (open circuit, shut-down pool).
func (c *Controller) Render(ctx context.Context, artifactID string, source *RenderSource, opts RenderOptions) (*RenderResult, error) {
	if artifactID == "" || source == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "artifact id and source are required")
	}
	if !c.monitor.CanRetry(artifactID) {
		return nil, schema.NewError(schema.ErrCodeCircuitOpen, "render blocked by circuit monitor").
			WithArtifact(artifactID)
	}
	return c.render(ctx, artifactID, source, opts)
}

// Retry re-runs a render for an artifact that previously failed. It is only
// permitted while CanRetry reports true; each call increments the retry
// count and waits the computed backoff before invoking the executor.
func (c *Controller) Retry(ctx context.Context, artifactID string, source *RenderSource, opts RenderOptions) (*RenderResult, error) {
	if !c.CanRetry(artifactID) {
		return nil, schema.NewError(schema.ErrCodeRetryExhausted, "retry not permitted for artifact").
			WithArtifact(artifactID)
	}

	attempt := c.bumpRetryCount(artifactID)
	c.emit(ctx, artifactID, schema.EventRenderRetried, map[string]any{"retry_count": attempt})

	if err := waitForBackoff(ctx, computeBackoff(c.cfg, attempt)); err != nil {
		return nil, schema.NewError(schema.ErrCodeCancelled, "retry abandoned during backoff").
			WithArtifact(artifactID).WithCause(err)
	}

	return c.render(ctx, artifactID, source, opts)
}

// CanRetry combines the circuit monitor's verdict with the local retry
// ceiling. The ceiling is a hard stop: once reached, the answer is no even
// if the circuit cooldown has already elapsed.
func (c *Controller) CanRetry(artifactID string) bool {
	c.mu.Lock()
	if state, ok := c.states[artifactID]; ok && state.RetryCount >= c.cfg.MaxRetries {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()
	return c.monitor.CanRetry(artifactID)
}

// GetState returns a copy of the lifecycle state for the artifact, or nil
// if none exists.
func (c *Controller) GetState(artifactID string) *RendererState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[artifactID]
	if !ok {
		return nil
	}
	cp := *state
	return &cp
}

// Clear drops all lifecycle state for the artifact, including its circuit
// monitor bookkeeping. Used for memory hygiene after an artifact leaves the
// visible conversation.
func (c *Controller) Clear(artifactID string) {
	c.mu.Lock()
	delete(c.states, artifactID)
	c.mu.Unlock()
	c.monitor.ResetCircuit(artifactID)
}

// SweepStale removes terminal lifecycle states not updated within maxAge
// and returns how many were dropped.
func (c *Controller) SweepStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	var stale []string

	c.mu.Lock()
	for id, state := range c.states {
		terminal := state.Status == schema.RendererStatusLoaded || state.Status == schema.RendererStatusFailed
		if terminal && state.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
			delete(c.states, id)
		}
	}
	c.mu.Unlock()

	for _, id := range stale {
		c.monitor.ResetCircuit(id)
	}
	return len(stale)
}

// PoolMetrics returns a snapshot of the render pool metrics.
func (c *Controller) PoolMetrics() PoolMetrics {
	return c.pool.snapshot()
}

// Shutdown stops accepting renders and waits for in-flight ones.
func (c *Controller) Shutdown() {
	c.pool.shutdown()
}

func (c *Controller) render(ctx context.Context, artifactID string, source *RenderSource, opts RenderOptions) (*RenderResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}

	ctx = logging.WithArtifactID(ctx, artifactID)
	log := logging.LogWith(ctx, c.logger)

	renderCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.setStatus(artifactID, schema.RendererStatusInitializing, "", "")
	c.emit(ctx, artifactID, schema.EventRenderStarted, map[string]any{
		"type":       string(source.Type),
		"timeout_ms": timeout.Milliseconds(),
	})

	start := time.Now()
	c.setStatus(artifactID, schema.RendererStatusLoading, "", "")

	done := make(chan error, 1)
	if err := c.pool.submit(renderCtx, func(ctx context.Context) error {
		err := c.executor.Execute(ctx, artifactID, source)
		done <- err
		return err
	}); err != nil {
		c.setStatus(artifactID, schema.RendererStatusFailed, err.Error(), ClassifyRenderError(err))
		return nil, err
	}

	var execErr error
	select {
	case execErr = <-done:
	case <-renderCtx.Done():
		// The executor is abandoned; the pool slot frees whenever it
		// eventually returns.
		execErr = renderCtx.Err()
	}
	elapsed := time.Since(start)

	state := c.snapshot(artifactID)
	result := &RenderResult{
		RenderTimeMs: elapsed.Milliseconds(),
		RetryCount:   state.RetryCount,
	}

	if execErr == nil {
		c.setStatus(artifactID, schema.RendererStatusLoaded, "", "")
		c.resetRetryCount(artifactID)
		c.monitor.RecordSuccess(artifactID)
		c.emit(ctx, artifactID, schema.EventRenderCompleted, map[string]any{
			"render_time_ms": result.RenderTimeMs,
		})
		log.Info("render completed", slog.Duration("elapsed", elapsed))
		result.Success = true
		result.RetryCount = 0
		return result, nil
	}

	errType := ClassifyRenderError(execErr)
	c.setStatus(artifactID, schema.RendererStatusFailed, execErr.Error(), errType)
	c.monitor.RecordRetry(artifactID, execErr, elapsed)

	eventType := schema.EventRenderFailed
	if errType == schema.RenderErrTimeout {
		eventType = schema.EventRenderTimedOut
	}
	c.emit(ctx, artifactID, eventType, map[string]any{
		"error":      execErr.Error(),
		"error_type": string(errType),
	})
	log.Warn("render failed",
		slog.String("error_type", string(errType)),
		slog.String("error", execErr.Error()))

	result.Success = false
	result.ErrorMessage = execErr.Error()
	result.ErrorType = errType
	return result, nil
}

func (c *Controller) setStatus(artifactID string, status schema.RendererStatus, errMsg string, errType schema.RendererErrorType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[artifactID]
	if !ok {
		state = &RendererState{ArtifactID: artifactID, Status: schema.RendererStatusIdle}
		c.states[artifactID] = state
	}
	state.Status = status
	state.LastError = errMsg
	state.LastErrorType = errType
	state.UpdatedAt = time.Now().UTC()
}

func (c *Controller) snapshot(artifactID string) RendererState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.states[artifactID]; ok {
		return *state
	}
	return RendererState{ArtifactID: artifactID, Status: schema.RendererStatusIdle}
}

func (c *Controller) bumpRetryCount(artifactID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[artifactID]
	if !ok {
		state = &RendererState{ArtifactID: artifactID, Status: schema.RendererStatusIdle}
		c.states[artifactID] = state
	}
	state.RetryCount++
	state.UpdatedAt = time.Now().UTC()
	return state.RetryCount
}

func (c *Controller) resetRetryCount(artifactID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.states[artifactID]; ok {
		state.RetryCount = 0
	}
}

func (c *Controller) emit(ctx context.Context, artifactID, eventType string, payload map[string]any) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	if c.events != nil {
		err := c.events.AppendEvent(ctx, &store.Event{
			WorkflowID: "render:" + artifactID,
			ArtifactID: artifactID,
			Type:       eventType,
			Payload:    raw,
		})
		if err != nil {
			c.logger.Warn("render event not recorded",
				slog.String("artifact_id", artifactID),
				slog.String("event", eventType),
				slog.String("error", err.Error()))
		}
	}
	if c.hub != nil {
		_ = c.hub.Publish(ctx, streaming.StreamEvent{
			ArtifactID: artifactID,
			EventType:  eventType,
			Payload:    payload,
		})
	}
}

// computeBackoff returns the exponential delay before the given retry
// attempt, capped at the configured maximum.
func computeBackoff(cfg Config, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	if delay > cfg.BackoffMax {
		return cfg.BackoffMax
	}
	return delay
}

// waitForBackoff sleeps for the delay or returns early on cancellation.
func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
