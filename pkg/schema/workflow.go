package schema

import "time"

// WorkflowStage identifies one stage of the detection pipeline.
type WorkflowStage string

const (
	StagePending           WorkflowStage = "pending"
	StageClassification    WorkflowStage = "intent_classification"
	StageEnhancement       WorkflowStage = "prompt_enhancement"
	StageDetection         WorkflowStage = "artifact_detection"
	StageFallbackDetection WorkflowStage = "fallback_detection"
	StageComplete          WorkflowStage = "complete"
	StageTimedOut          WorkflowStage = "timed_out"
	StageCancelled         WorkflowStage = "cancelled"
)

// EnhancementConfidenceThreshold is the minimum classifier confidence
// required before the prompt enhancer is invoked. A should-enhance signal
// below this threshold is treated as not-enhanced.
const EnhancementConfidenceThreshold = 0.6

// WorkflowRequest is one end-to-end pipeline invocation.
type WorkflowRequest struct {
	Prompt    string          `json:"prompt"`
	SessionID string          `json:"session_id,omitempty"`
	Options   WorkflowOptions `json:"options"`
}

// WorkflowOptions carries per-call stage skip flags and the call deadline.
type WorkflowOptions struct {
	SkipClassification     bool          `json:"skip_classification,omitempty"`
	SkipEnhancement        bool          `json:"skip_enhancement,omitempty"`
	SkipDetection          bool          `json:"skip_detection,omitempty"`
	ForceArtifactDetection bool          `json:"force_artifact_detection,omitempty"`
	Timeout                time.Duration `json:"timeout,omitempty"`
}

// Intent is the classifier's verdict for a prompt.
type Intent struct {
	ShouldEnhance    bool     `json:"should_enhance"`
	Confidence       float64  `json:"confidence"`
	DetectedKeywords []string `json:"detected_keywords,omitempty"`
}

// Enhancement is the prompt enhancer's output.
type Enhancement struct {
	EnhancedPrompt string  `json:"enhanced_prompt"`
	WasEnhanced    bool    `json:"was_enhanced"`
	Confidence     float64 `json:"confidence"`
}

// WorkflowError records one failed stage. Stage errors are always
// recoverable: the pipeline continues with a null value for that stage.
type WorkflowError struct {
	Stage       WorkflowStage `json:"stage"`
	Message     string        `json:"message"`
	Recoverable bool          `json:"recoverable"`
}

// StageTiming records wall-clock duration for one executed stage.
type StageTiming struct {
	Stage      WorkflowStage `json:"stage"`
	DurationMs int64         `json:"duration_ms"`
}

// WorkflowResult is the aggregate outcome of one pipeline invocation.
// Partial failures are carried in Errors; the result itself is always
// well-formed.
type WorkflowResult struct {
	WorkflowID        string           `json:"workflow_id"`
	SessionID         string           `json:"session_id,omitempty"`
	Prompt            string           `json:"prompt"`
	Intent            *Intent          `json:"intent,omitempty"`
	EnhancedPrompt    string           `json:"enhanced_prompt,omitempty"`
	WasPromptEnhanced bool             `json:"was_prompt_enhanced"`
	Artifacts         []ParsedArtifact `json:"artifacts,omitempty"`
	ArtifactCount     int              `json:"artifact_count"`
	Errors            []WorkflowError  `json:"errors,omitempty"`
	Timings           []StageTiming    `json:"timings,omitempty"`
	StartedAt         time.Time        `json:"started_at"`
	CompletedAt       time.Time        `json:"completed_at"`
}
