package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the default in-memory EventStore. Events live for the
// process lifetime only.
type MemoryStore struct {
	mu     sync.Mutex
	events []*Event
	nextID int64
	seqs   map[string]int64
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seqs: make(map[string]int64)}
}

// AppendEvent records an event, assigning ID, timestamp (if unset), and the
// next per-workflow sequence.
func (s *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	event.ID = s.nextID
	s.seqs[event.WorkflowID]++
	event.Sequence = s.seqs[event.WorkflowID]
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

// GetEvents returns events for a workflow with sequence > since, ordered by
// sequence ASC.
func (s *MemoryStore) GetEvents(ctx context.Context, workflowID string, since int64) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Event
	for _, e := range s.events {
		if e.WorkflowID == workflowID && e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListEvents returns events matching the filter in append order.
func (s *MemoryStore) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Event
	for _, e := range s.events {
		if filter.WorkflowID != "" && e.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.ArtifactID != "" && e.ArtifactID != filter.ArtifactID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

var _ EventStore = (*MemoryStore)(nil)
