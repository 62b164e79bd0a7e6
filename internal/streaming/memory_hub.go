package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

// defaultChannelBuffer is the per-subscriber channel depth. A subscriber
// that falls further behind than this loses events rather than stalling
// the pipeline.
const defaultChannelBuffer = 64

// Matches reports whether an event passes the filter. Empty fields match
// everything.
func (f EventFilter) Matches(e StreamEvent) bool {
	if f.WorkflowID != "" && f.WorkflowID != e.WorkflowID {
		return false
	}
	if f.ArtifactID != "" && f.ArtifactID != e.ArtifactID {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if t == e.EventType {
			return true
		}
	}
	return false
}

type hubSub struct {
	ch      chan StreamEvent
	filter  EventFilter
	dropped atomic.Uint64
	closed  sync.Once
}

// MemoryHub fans events out to in-process subscribers. Delivery is
// at-most-once: publishing never blocks, and a full subscriber channel
// counts a drop instead.
type MemoryHub struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]*hubSub
	dropped atomic.Uint64
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]*hubSub)}
}

// Publish delivers the event to every subscriber whose filter matches.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a filtered subscriber and returns its channel and an
// idempotent cancel.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &hubSub{
		ch:     make(chan StreamEvent, defaultChannelBuffer),
		filter: filter,
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		sub.closed.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel, nil
}

// SubscriberCount returns the number of live subscriptions.
func (h *MemoryHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the total number of events lost to slow subscribers.
func (h *MemoryHub) Dropped() uint64 {
	return h.dropped.Load()
}

var _ EventHub = (*MemoryHub)(nil)
