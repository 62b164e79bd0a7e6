package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeParse             = "PARSE_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStageFailed       = "STAGE_FAILED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeRetryLoop         = "RETRY_LOOP"
	ErrCodeRenderFailed      = "RENDER_FAILED"
	ErrCodeStore             = "STORE_ERROR"
)

// PipelineError is the structured error type for all artifactflow operations.
type PipelineError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Stage      string         `json:"stage,omitempty"`
	ArtifactID string         `json:"artifact_id,omitempty"`
	Cause      error          `json:"-"`
}

func (e *PipelineError) Error() string {
	switch {
	case e.Stage != "":
		return fmt.Sprintf("[%s] stage %s: %s", e.Code, e.Stage, e.Message)
	case e.ArtifactID != "":
		return fmt.Sprintf("[%s] artifact %s: %s", e.Code, e.ArtifactID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error code permits another attempt.
// Circuit-open and retry-loop refusals, cancellations, and exhausted
// retries are final; structural errors cannot be fixed by retrying either.
func (e *PipelineError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeCircuitOpen, ErrCodeRetryLoop, ErrCodeCancelled, ErrCodeRetryExhausted,
		ErrCodeValidation, ErrCodeInvalidTransition, ErrCodeNotFound, ErrCodeConflict:
		return false
	}
	return true
}

// NewError creates a new PipelineError.
func NewError(code, message string) *PipelineError {
	return &PipelineError{Code: code, Message: message}
}

// NewErrorf creates a new PipelineError with a formatted message.
func NewErrorf(code, format string, args ...any) *PipelineError {
	return &PipelineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStage attaches a workflow stage to the error.
func (e *PipelineError) WithStage(stage string) *PipelineError {
	e.Stage = stage
	return e
}

// WithArtifact attaches an artifact ID to the error.
func (e *PipelineError) WithArtifact(artifactID string) *PipelineError {
	e.ArtifactID = artifactID
	return e
}

// WithCause attaches an underlying cause.
func (e *PipelineError) WithCause(err error) *PipelineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *PipelineError) WithDetails(details map[string]any) *PipelineError {
	e.Details = details
	return e
}
