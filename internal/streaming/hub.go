package streaming

import "context"

// StreamEvent is a real-time event emitted by the pipeline: stage
// transitions, artifact detections, render outcomes, and circuit alerts.
type StreamEvent struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	ArtifactID string `json:"artifact_id,omitempty"`
	EventType  string `json:"event_type"`
	Payload    any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	WorkflowID string   `json:"workflow_id,omitempty"`
	ArtifactID string   `json:"artifact_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time pipeline events. The UI layer
// subscribes to drive recovery banners and render status indicators.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
