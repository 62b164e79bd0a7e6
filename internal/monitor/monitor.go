// Package monitor tracks per-component retry history and decides whether
// further attempts are permitted. It is the single shared mutable resource
// of the pipeline: one entry per logical component (typically a render
// target), each guarded by its own mutex so components never block each
// other.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/rendis/artifactflow/pkg/schema"
)

// Config controls circuit-breaker and retry-loop detection behavior.
type Config struct {
	// MaxConsecutiveFailures is the consecutive-failure count at which the
	// circuit opens. Zero opens the circuit on the very first failure.
	MaxConsecutiveFailures int `json:"max_consecutive_failures"`
	// CircuitOpenDuration is the cooldown before an open circuit permits a
	// probing attempt. Zero makes the circuit immediately retryable.
	CircuitOpenDuration time.Duration `json:"circuit_open_duration"`
	// FailureTimeWindow is the trailing window inspected for retry-loop
	// detection.
	FailureTimeWindow time.Duration `json:"failure_time_window"`
	// MaxRetryHistory bounds the per-component attempt history; the oldest
	// entry is evicted first.
	MaxRetryHistory int `json:"max_retry_history"`
	// AlertThreshold is the number of attempts within FailureTimeWindow
	// that raises an infinite-loop alert.
	AlertThreshold int `json:"alert_threshold"`
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveFailures: 3,
		CircuitOpenDuration:    30 * time.Second,
		FailureTimeWindow:      60 * time.Second,
		MaxRetryHistory:        10,
		AlertThreshold:         5,
	}
}

// ConfigUpdate is a partial config change; nil fields are left unchanged.
type ConfigUpdate struct {
	MaxConsecutiveFailures *int
	CircuitOpenDuration    *time.Duration
	FailureTimeWindow      *time.Duration
	MaxRetryHistory        *int
	AlertThreshold         *int
}

// RetryAttempt is one recorded failed attempt. Immutable once recorded.
type RetryAttempt struct {
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// ComponentState is the bookkeeping for one component ID.
type ComponentState struct {
	ComponentID         string         `json:"component_id"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	TotalRetries        int            `json:"total_retries"`
	RetryHistory        []RetryAttempt `json:"retry_history,omitempty"`
	IsCircuitOpen       bool           `json:"is_circuit_open"`
	CircuitOpenTime     *time.Time     `json:"circuit_open_time,omitempty"`
	LastFailureTime     *time.Time     `json:"last_failure_time,omitempty"`
}

// RetryLoopAlert signals a circuit-open or infinite-loop condition.
// At most one active alert of each type exists per component.
type RetryLoopAlert struct {
	ComponentID         string           `json:"component_id"`
	Type                schema.AlertType `json:"alert_type"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	TimeWindow          time.Duration    `json:"time_window"`
	Recommendation      string           `json:"recommendation"`
	CreatedAt           time.Time        `json:"created_at"`
}

// AlertPublisher receives alerts as they are raised. Must not block.
type AlertPublisher func(RetryLoopAlert)

// componentEntry pairs a component's state with its own lock.
type componentEntry struct {
	mu     sync.Mutex
	state  ComponentState
	alerts map[schema.AlertType]*RetryLoopAlert
	// windowTimes holds attempt timestamps for loop detection, pruned to
	// the failure time window. Kept separately from RetryHistory so a
	// small history capacity cannot mask a retry loop.
	windowTimes []time.Time
}

// RetryMonitor tracks failure history per component ID and gates retries.
// Safe for concurrent use: mutations for different component IDs never
// block one another.
type RetryMonitor struct {
	mu         sync.Mutex
	components map[string]*componentEntry
	config     Config
	publisher  AlertPublisher
}

// NewRetryMonitor creates a monitor with the given config. An optional
// publisher receives alerts as they are raised.
func NewRetryMonitor(cfg Config, publisher ...AlertPublisher) *RetryMonitor {
	m := &RetryMonitor{
		components: make(map[string]*componentEntry),
		config:     cfg,
	}
	if len(publisher) > 0 && publisher[0] != nil {
		m.publisher = publisher[0]
	}
	return m
}

// Default is the process-wide monitor instance. Construct independent
// instances with NewRetryMonitor for test isolation.
var Default = NewRetryMonitor(DefaultConfig())

// RecordRetry appends a failed attempt for the component, opening the
// circuit and raising alerts when thresholds are crossed. attemptErr may be
// nil and duration zero when unknown.
func (m *RetryMonitor) RecordRetry(componentID string, attemptErr error, duration time.Duration) {
	cfg := m.GetConfig()
	entry := m.getOrCreate(componentID)
	now := time.Now()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	attempt := RetryAttempt{Timestamp: now, Duration: duration}
	if attemptErr != nil {
		attempt.Error = attemptErr.Error()
	}

	entry.state.RetryHistory = append(entry.state.RetryHistory, attempt)
	if cfg.MaxRetryHistory >= 0 {
		for len(entry.state.RetryHistory) > cfg.MaxRetryHistory {
			entry.state.RetryHistory = entry.state.RetryHistory[1:]
		}
	}
	entry.state.ConsecutiveFailures++
	entry.state.TotalRetries++
	entry.state.LastFailureTime = &now

	if entry.state.ConsecutiveFailures >= cfg.MaxConsecutiveFailures {
		openTime := now
		entry.state.IsCircuitOpen = true
		entry.state.CircuitOpenTime = &openTime
		m.raiseLocked(entry, RetryLoopAlert{
			ComponentID:         componentID,
			Type:                schema.AlertCircuitOpen,
			ConsecutiveFailures: entry.state.ConsecutiveFailures,
			TimeWindow:          cfg.FailureTimeWindow,
			Recommendation: fmt.Sprintf(
				"Circuit open for component %q after %d consecutive failures. Wait %s before retrying, or reset the circuit manually.",
				componentID, entry.state.ConsecutiveFailures, cfg.CircuitOpenDuration),
			CreatedAt: now,
		})
	}

	// Loop detection is independent of the consecutive-failure threshold.
	entry.windowTimes = append(entry.windowTimes, now)
	entry.windowTimes = pruneWindow(entry.windowTimes, now.Add(-cfg.FailureTimeWindow))
	if cfg.AlertThreshold > 0 && len(entry.windowTimes) >= cfg.AlertThreshold {
		m.raiseLocked(entry, RetryLoopAlert{
			ComponentID:         componentID,
			Type:                schema.AlertInfiniteLoop,
			ConsecutiveFailures: entry.state.ConsecutiveFailures,
			TimeWindow:          cfg.FailureTimeWindow,
			Recommendation: fmt.Sprintf(
				"Detected %d retry attempts within %s for component %q. Stop retrying and investigate the underlying failure.",
				len(entry.windowTimes), cfg.FailureTimeWindow, componentID),
			CreatedAt: now,
		})
	}
}

// RecordSuccess resets failure state and clears alerts for the component.
// No-op for an unknown component ID.
func (m *RetryMonitor) RecordSuccess(componentID string) {
	entry := m.lookup(componentID)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.state.ConsecutiveFailures = 0
	entry.state.IsCircuitOpen = false
	entry.state.CircuitOpenTime = nil
	entry.alerts = make(map[schema.AlertType]*RetryLoopAlert)
	entry.windowTimes = nil
}

// CanRetry reports whether another attempt is permitted for the component.
// True for unknown components. False while the circuit cooldown is running
// or an unresolved infinite-loop alert exists. Once the cooldown elapses
// the circuit stays open in bookkeeping but permits a probing attempt
// (half-open behavior).
func (m *RetryMonitor) CanRetry(componentID string) bool {
	cfg := m.GetConfig()
	entry := m.lookup(componentID)
	if entry == nil {
		return true
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if _, ok := entry.alerts[schema.AlertInfiniteLoop]; ok {
		return false
	}
	if entry.state.IsCircuitOpen && entry.state.CircuitOpenTime != nil {
		if time.Since(*entry.state.CircuitOpenTime) < cfg.CircuitOpenDuration {
			return false
		}
	}
	return true
}

// ResetCircuit unconditionally clears all failure state and alerts for the
// component. Safe on unknown IDs.
func (m *RetryMonitor) ResetCircuit(componentID string) {
	entry := m.lookup(componentID)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.state = ComponentState{ComponentID: componentID}
	entry.alerts = make(map[schema.AlertType]*RetryLoopAlert)
	entry.windowTimes = nil
}

// GetComponentState returns a copy of the component's state, or nil if no
// retry has ever been recorded for it.
func (m *RetryMonitor) GetComponentState(componentID string) *ComponentState {
	entry := m.lookup(componentID)
	if entry == nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	cp := entry.state
	cp.RetryHistory = append([]RetryAttempt(nil), entry.state.RetryHistory...)
	if entry.state.CircuitOpenTime != nil {
		t := *entry.state.CircuitOpenTime
		cp.CircuitOpenTime = &t
	}
	if entry.state.LastFailureTime != nil {
		t := *entry.state.LastFailureTime
		cp.LastFailureTime = &t
	}
	return &cp
}

// GetActiveAlerts returns copies of all active alerts across components.
func (m *RetryMonitor) GetActiveAlerts() []RetryLoopAlert {
	m.mu.Lock()
	entries := make([]*componentEntry, 0, len(m.components))
	for _, e := range m.components {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	var alerts []RetryLoopAlert
	for _, e := range entries {
		e.mu.Lock()
		for _, a := range e.alerts {
			alerts = append(alerts, *a)
		}
		e.mu.Unlock()
	}
	return alerts
}

// GetConfig returns a copy of the current configuration.
func (m *RetryMonitor) GetConfig() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// UpdateConfig applies a partial configuration change.
func (m *RetryMonitor) UpdateConfig(update ConfigUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if update.MaxConsecutiveFailures != nil {
		m.config.MaxConsecutiveFailures = *update.MaxConsecutiveFailures
	}
	if update.CircuitOpenDuration != nil {
		m.config.CircuitOpenDuration = *update.CircuitOpenDuration
	}
	if update.FailureTimeWindow != nil {
		m.config.FailureTimeWindow = *update.FailureTimeWindow
	}
	if update.MaxRetryHistory != nil {
		m.config.MaxRetryHistory = *update.MaxRetryHistory
	}
	if update.AlertThreshold != nil {
		m.config.AlertThreshold = *update.AlertThreshold
	}
}

// raiseLocked installs an alert, keeping one active alert per type per
// component. The entry lock must be held.
func (m *RetryMonitor) raiseLocked(entry *componentEntry, alert RetryLoopAlert) {
	if _, exists := entry.alerts[alert.Type]; exists {
		return
	}
	a := alert
	entry.alerts[alert.Type] = &a
	if m.publisher != nil {
		m.publisher(alert)
	}
}

func (m *RetryMonitor) getOrCreate(componentID string) *componentEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.components[componentID]
	if !ok {
		entry = &componentEntry{
			state:  ComponentState{ComponentID: componentID},
			alerts: make(map[schema.AlertType]*RetryLoopAlert),
		}
		m.components[componentID] = entry
	}
	return entry
}

func (m *RetryMonitor) lookup(componentID string) *componentEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.components[componentID]
}

func pruneWindow(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}
