// Package store provides the optional append-only audit log for pipeline
// events. The monitor and renderer are in-memory, process-lifetime only;
// persistence of the event trail is the caller's choice between the memory
// and libSQL implementations.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Event is an immutable entry in the pipeline audit log.
type Event struct {
	ID         int64           `json:"id"`
	WorkflowID string          `json:"workflow_id,omitempty"`
	ArtifactID string          `json:"artifact_id,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// EventFilter narrows event queries.
type EventFilter struct {
	WorkflowID string
	ArtifactID string
	Type       string
	Limit      int
}

// EventStore is the audit log contract. Implementations must be safe for
// concurrent use and must assign a monotonically increasing per-workflow
// sequence on append.
type EventStore interface {
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, workflowID string, since int64) ([]*Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error)
}
