package schema

// Event type constants for the pipeline audit log.
const (
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowTimedOut  = "workflow_timed_out"
	EventWorkflowCancelled = "workflow_cancelled"

	EventStageStarted   = "stage_started"
	EventStageCompleted = "stage_completed"
	EventStageFailed    = "stage_failed"
	EventStageSkipped   = "stage_skipped"

	EventArtifactDetected = "artifact_detected"
	EventArtifactDropped  = "artifact_dropped"

	EventRenderStarted   = "render_started"
	EventRenderCompleted = "render_completed"
	EventRenderFailed    = "render_failed"
	EventRenderRetried   = "render_retried"
	EventRenderTimedOut  = "render_timed_out"

	EventCircuitOpened     = "circuit_opened"
	EventCircuitClosed     = "circuit_closed"
	EventRetryLoopDetected = "retry_loop_detected"
)

// RendererStatus represents the lifecycle state of one render target.
type RendererStatus string

const (
	RendererStatusIdle         RendererStatus = "idle"
	RendererStatusInitializing RendererStatus = "initializing"
	RendererStatusLoading      RendererStatus = "loading"
	RendererStatusLoaded       RendererStatus = "loaded"
	RendererStatusFailed       RendererStatus = "failed"
)

// RendererErrorType classifies render failures surfaced to callers.
type RendererErrorType string

const (
	RenderErrCompilation RendererErrorType = "compilation_error"
	RenderErrDependency  RendererErrorType = "dependency_error"
	RenderErrNetwork     RendererErrorType = "network_error"
	RenderErrTimeout     RendererErrorType = "timeout"
)

// AlertType classifies retry-loop alerts raised by the circuit monitor.
type AlertType string

const (
	AlertCircuitOpen  AlertType = "circuit_open"
	AlertInfiniteLoop AlertType = "infinite_loop_detected"
)
