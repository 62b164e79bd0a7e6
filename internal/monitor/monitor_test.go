package monitor

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rendis/artifactflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_UnknownComponentCanRetry(t *testing.T) {
	m := NewRetryMonitor(DefaultConfig())
	assert.True(t, m.CanRetry("never-seen"))
	assert.Nil(t, m.GetComponentState("never-seen"))
}

func TestMonitor_OpensAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 3
	m := NewRetryMonitor(cfg)

	m.RecordRetry("preview-1", errors.New("boom"), 120*time.Millisecond)
	m.RecordRetry("preview-1", errors.New("boom"), 0)
	assert.True(t, m.CanRetry("preview-1"))

	m.RecordRetry("preview-1", errors.New("boom"), 0)

	state := m.GetComponentState("preview-1")
	require.NotNil(t, state)
	assert.True(t, state.IsCircuitOpen)
	assert.NotNil(t, state.CircuitOpenTime)
	assert.Equal(t, 3, state.ConsecutiveFailures)
	assert.False(t, m.CanRetry("preview-1"))
}

func TestMonitor_ZeroThresholdOpensOnFirstFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 0
	m := NewRetryMonitor(cfg)

	m.RecordRetry("preview-z", errors.New("boom"), 0)

	state := m.GetComponentState("preview-z")
	require.NotNil(t, state)
	assert.True(t, state.IsCircuitOpen)
	assert.False(t, m.CanRetry("preview-z"))
}

func TestMonitor_ZeroCooldownIsImmediatelyRetryable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 1
	cfg.CircuitOpenDuration = 0
	cfg.AlertThreshold = 100 // keep loop detection out of the way
	m := NewRetryMonitor(cfg)

	m.RecordRetry("preview-0", errors.New("boom"), 0)
	state := m.GetComponentState("preview-0")
	require.NotNil(t, state)
	assert.True(t, state.IsCircuitOpen)
	assert.True(t, m.CanRetry("preview-0"))
}

func TestMonitor_SuccessResetsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 2
	m := NewRetryMonitor(cfg)

	m.RecordRetry("widget", errors.New("a"), 0)
	m.RecordRetry("widget", errors.New("b"), 0)
	require.False(t, m.CanRetry("widget"))
	require.NotEmpty(t, m.GetActiveAlerts())

	m.RecordSuccess("widget")

	state := m.GetComponentState("widget")
	require.NotNil(t, state)
	assert.Equal(t, 0, state.ConsecutiveFailures)
	assert.False(t, state.IsCircuitOpen)
	assert.Nil(t, state.CircuitOpenTime)
	assert.Empty(t, m.GetActiveAlerts())
	assert.True(t, m.CanRetry("widget"))

	// History and total count survive a success.
	assert.Equal(t, 2, state.TotalRetries)
	assert.Len(t, state.RetryHistory, 2)
}

func TestMonitor_SuccessOnUnknownIsNoop(t *testing.T) {
	m := NewRetryMonitor(DefaultConfig())
	assert.NotPanics(t, func() { m.RecordSuccess("ghost") })
	assert.Nil(t, m.GetComponentState("ghost"))
}

func TestMonitor_HistoryIsBoundedButTotalIsNot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetryHistory = 5
	cfg.AlertThreshold = 1000
	m := NewRetryMonitor(cfg)

	for i := 0; i < 50; i++ {
		m.RecordRetry("hist", fmt.Errorf("failure %d", i), 0)
	}

	state := m.GetComponentState("hist")
	require.NotNil(t, state)
	assert.Len(t, state.RetryHistory, 5)
	assert.Equal(t, 50, state.TotalRetries)
	// Oldest entries evicted first.
	assert.Equal(t, "failure 45", state.RetryHistory[0].Error)
	assert.Equal(t, "failure 49", state.RetryHistory[4].Error)
}

func TestMonitor_CooldownElapsesWithoutExplicitCall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 2
	cfg.CircuitOpenDuration = 50 * time.Millisecond
	cfg.AlertThreshold = 100
	m := NewRetryMonitor(cfg)

	m.RecordRetry("cool", errors.New("x"), 0)
	m.RecordRetry("cool", errors.New("x"), 0)
	require.False(t, m.CanRetry("cool"))

	time.Sleep(60 * time.Millisecond)

	// Half-open: bookkeeping still says open, but a probe is permitted.
	assert.True(t, m.CanRetry("cool"))
	state := m.GetComponentState("cool")
	require.NotNil(t, state)
	assert.True(t, state.IsCircuitOpen)
}

func TestMonitor_InfiniteLoopAlertBlocksRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 100 // consecutive threshold never reached
	cfg.AlertThreshold = 5
	cfg.FailureTimeWindow = time.Minute
	m := NewRetryMonitor(cfg)

	for i := 0; i < 4; i++ {
		m.RecordRetry("loop", errors.New("x"), 0)
	}
	assert.True(t, m.CanRetry("loop"))

	m.RecordRetry("loop", errors.New("x"), 0)

	assert.False(t, m.CanRetry("loop"))
	alerts := m.GetActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, schema.AlertInfiniteLoop, alerts[0].Type)
	assert.Contains(t, alerts[0].Recommendation, "loop")
}

func TestMonitor_AlertTypesAreDistinct(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 3
	cfg.AlertThreshold = 5
	m := NewRetryMonitor(cfg)

	for i := 0; i < 5; i++ {
		m.RecordRetry("both", errors.New("x"), 0)
	}

	alerts := m.GetActiveAlerts()
	require.Len(t, alerts, 2)
	types := map[schema.AlertType]bool{}
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[schema.AlertCircuitOpen])
	assert.True(t, types[schema.AlertInfiniteLoop])
}

func TestMonitor_AtMostOneAlertPerType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 2
	cfg.AlertThreshold = 100
	m := NewRetryMonitor(cfg)

	for i := 0; i < 10; i++ {
		m.RecordRetry("dup", errors.New("x"), 0)
	}
	assert.Len(t, m.GetActiveAlerts(), 1)
}

func TestMonitor_CircuitOpenRecommendationEmbedsCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 1
	cfg.CircuitOpenDuration = 45 * time.Second
	m := NewRetryMonitor(cfg)

	m.RecordRetry("rec", errors.New("x"), 0)
	alerts := m.GetActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, schema.AlertCircuitOpen, alerts[0].Type)
	assert.Contains(t, alerts[0].Recommendation, "45s")
}

func TestMonitor_ResetClearsStateAndAlerts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 1
	m := NewRetryMonitor(cfg)

	m.RecordRetry("rst", errors.New("x"), 0)
	require.False(t, m.CanRetry("rst"))

	m.ResetCircuit("rst")

	state := m.GetComponentState("rst")
	require.NotNil(t, state)
	assert.Equal(t, 0, state.ConsecutiveFailures)
	assert.Equal(t, 0, state.TotalRetries)
	assert.False(t, state.IsCircuitOpen)
	assert.Empty(t, m.GetActiveAlerts())
	assert.True(t, m.CanRetry("rst"))

	// Unknown IDs are safe.
	assert.NotPanics(t, func() { m.ResetCircuit("missing") })
}

func TestMonitor_PerComponentIsolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 1
	m := NewRetryMonitor(cfg)

	m.RecordRetry("comp-a", errors.New("x"), 0)
	assert.False(t, m.CanRetry("comp-a"))
	assert.True(t, m.CanRetry("comp-b"))
}

func TestMonitor_StateCopyIsIndependent(t *testing.T) {
	m := NewRetryMonitor(DefaultConfig())
	m.RecordRetry("copy", errors.New("x"), 0)

	state := m.GetComponentState("copy")
	require.NotNil(t, state)
	state.RetryHistory[0].Error = "mutated"
	state.ConsecutiveFailures = 99

	fresh := m.GetComponentState("copy")
	assert.Equal(t, "x", fresh.RetryHistory[0].Error)
	assert.Equal(t, 1, fresh.ConsecutiveFailures)
}

func TestMonitor_UpdateConfig(t *testing.T) {
	m := NewRetryMonitor(DefaultConfig())

	newMax := 7
	newCooldown := 5 * time.Second
	m.UpdateConfig(ConfigUpdate{
		MaxConsecutiveFailures: &newMax,
		CircuitOpenDuration:    &newCooldown,
	})

	cfg := m.GetConfig()
	assert.Equal(t, 7, cfg.MaxConsecutiveFailures)
	assert.Equal(t, 5*time.Second, cfg.CircuitOpenDuration)
	// Untouched fields keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.FailureTimeWindow)
}

func TestMonitor_AlertPublisher(t *testing.T) {
	var mu sync.Mutex
	var published []RetryLoopAlert

	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 1
	m := NewRetryMonitor(cfg, func(a RetryLoopAlert) {
		mu.Lock()
		published = append(published, a)
		mu.Unlock()
	})

	m.RecordRetry("pub", errors.New("x"), 0)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 1)
	assert.Equal(t, schema.AlertCircuitOpen, published[0].Type)
	assert.Equal(t, "pub", published[0].ComponentID)
}

func TestMonitor_ConcurrentComponents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AlertThreshold = 1000
	m := NewRetryMonitor(cfg)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("concurrent-%d", n)
			for j := 0; j < 100; j++ {
				m.RecordRetry(id, errors.New("x"), 0)
				m.CanRetry(id)
			}
			m.RecordSuccess(id)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		state := m.GetComponentState(fmt.Sprintf("concurrent-%d", i))
		require.NotNil(t, state)
		assert.Equal(t, 100, state.TotalRetries)
		assert.Equal(t, 0, state.ConsecutiveFailures)
	}
}
