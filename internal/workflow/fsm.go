package workflow

import (
	"context"
	"sync"

	"github.com/rendis/artifactflow/internal/store"
	"github.com/rendis/artifactflow/pkg/schema"
)

// TransitionHook is called before or after a stage transition.
type TransitionHook func(from, to schema.WorkflowStage) error

// EventAppender is satisfied by the EventStore; used by the FSM to emit
// audit events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

type hookKey struct {
	from, to schema.WorkflowStage
}

// StageFSM validates workflow stage transitions and emits the corresponding
// audit events. Skip flags are expressed as forward jumps in the transition
// table, so a skipped stage never appears as the current stage.
type StageFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[hookKey][]TransitionHook
	after    map[hookKey][]TransitionHook
}

// NewStageFSM creates a StageFSM that emits events via the given appender.
// A nil appender disables event emission.
func NewStageFSM(appender EventAppender) *StageFSM {
	return &StageFSM{
		appender: appender,
		before:   make(map[hookKey][]TransitionHook),
		after:    make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a stage transition.
func (f *StageFSM) OnBefore(from, to schema.WorkflowStage, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a stage transition.
func (f *StageFSM) OnAfter(from, to schema.WorkflowStage, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a stage transition, emitting the entry
// event for the new stage.
func (f *StageFSM) Transition(ctx context.Context, workflowID string, from, to schema.WorkflowStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidStageTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid stage transition: %s -> %s", from, to).
			WithStage(string(to)).
			WithDetails(map[string]any{"workflow_id": workflowID, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	eventType := stageEventType(to)
	if eventType != "" && f.appender != nil {
		event := &store.Event{
			WorkflowID: workflowID,
			Type:       eventType,
		}
		if eventType == schema.EventStageStarted {
			event.Payload = stagePayload(to)
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit stage event: %s", err.Error()).
				WithStage(string(to)).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	return nil
}

func isValidStageTransition(from, to schema.WorkflowStage) bool {
	allowed, ok := ValidStageTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func stageEventType(to schema.WorkflowStage) string {
	switch to {
	case schema.StageClassification, schema.StageEnhancement,
		schema.StageDetection, schema.StageFallbackDetection:
		return schema.EventStageStarted
	case schema.StageComplete:
		return schema.EventWorkflowCompleted
	case schema.StageTimedOut:
		return schema.EventWorkflowTimedOut
	case schema.StageCancelled:
		return schema.EventWorkflowCancelled
	default:
		return ""
	}
}

func stagePayload(stage schema.WorkflowStage) []byte {
	return []byte(`{"stage":"` + string(stage) + `"}`)
}

// ValidStageTransitions defines the allowed stage transitions. Every stage
// may jump past optional successors, which is how skip flags are realized.
var ValidStageTransitions = map[schema.WorkflowStage][]schema.WorkflowStage{
	schema.StagePending: {
		schema.StageClassification, schema.StageEnhancement, schema.StageDetection,
		schema.StageFallbackDetection, schema.StageComplete, schema.StageTimedOut, schema.StageCancelled,
	},
	schema.StageClassification: {
		schema.StageEnhancement, schema.StageDetection, schema.StageFallbackDetection,
		schema.StageComplete, schema.StageTimedOut, schema.StageCancelled,
	},
	schema.StageEnhancement: {
		schema.StageDetection, schema.StageFallbackDetection,
		schema.StageComplete, schema.StageTimedOut, schema.StageCancelled,
	},
	schema.StageDetection: {
		schema.StageFallbackDetection, schema.StageComplete, schema.StageTimedOut, schema.StageCancelled,
	},
	schema.StageFallbackDetection: {
		schema.StageComplete, schema.StageTimedOut, schema.StageCancelled,
	},
	schema.StageComplete:  {},
	schema.StageTimedOut:  {},
	schema.StageCancelled: {},
}
