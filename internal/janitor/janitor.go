// Package janitor runs periodic hygiene sweeps over in-memory pipeline
// state: circuit monitor alerts that outlived their usefulness and terminal
// renderer states nobody will query again.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/artifactflow/internal/monitor"
	"github.com/rendis/artifactflow/internal/renderer"
)

const (
	// DefaultSchedule sweeps every five minutes.
	DefaultSchedule = "*/5 * * * *"

	// DefaultAlertRetention is how long a retry-loop alert stays visible
	// before the janitor resets the component. Long enough for the UI to
	// surface the recommendation, short enough to not pin dead artifacts.
	DefaultAlertRetention = 30 * time.Minute

	// DefaultStateRetention is how long a terminal renderer state is kept.
	DefaultStateRetention = time.Hour
)

// Config holds janitor settings.
type Config struct {
	Schedule       string
	AlertRetention time.Duration
	StateRetention time.Duration
}

// DefaultConfig returns the janitor defaults.
func DefaultConfig() Config {
	return Config{
		Schedule:       DefaultSchedule,
		AlertRetention: DefaultAlertRetention,
		StateRetention: DefaultStateRetention,
	}
}

// Janitor sweeps monitor and renderer state on a cron schedule.
type Janitor struct {
	cfg      Config
	monitor  *monitor.RetryMonitor
	renderer *renderer.Controller
	schedule cron.Schedule
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Janitor. The schedule uses standard five-field cron syntax.
func New(cfg Config, mon *monitor.RetryMonitor, ctrl *renderer.Controller, logger *slog.Logger) (*Janitor, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.AlertRetention <= 0 {
		cfg.AlertRetention = DefaultAlertRetention
	}
	if cfg.StateRetention <= 0 {
		cfg.StateRetention = DefaultStateRetention
	}
	if logger == nil {
		logger = slog.Default()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", cfg.Schedule, err)
	}

	return &Janitor{
		cfg:      cfg,
		monitor:  mon,
		renderer: ctrl,
		schedule: schedule,
		logger:   logger,
	}, nil
}

// Start launches the background sweep loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.done != nil {
		j.mu.Unlock()
		return fmt.Errorf("janitor already started")
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	j.mu.Unlock()

	go j.loop(sweepCtx)
	j.logger.Info("janitor started", slog.String("schedule", j.cfg.Schedule))
	return nil
}

// Stop gracefully shuts down the sweep loop.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
	j.cancel = nil
	j.done = nil
	j.logger.Info("janitor stopped")
}

func (j *Janitor) loop(ctx context.Context) {
	defer close(j.done)

	for {
		next := j.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.Sweep()
		}
	}
}

// Sweep runs one hygiene pass and returns how many entries were dropped.
// Exposed for operational triggering outside the schedule.
func (j *Janitor) Sweep() int {
	dropped := 0

	if j.monitor != nil {
		cutoff := time.Now().Add(-j.cfg.AlertRetention)
		for _, alert := range j.monitor.GetActiveAlerts() {
			if alert.CreatedAt.Before(cutoff) {
				j.monitor.ResetCircuit(alert.ComponentID)
				dropped++
				j.logger.Info("expired alert cleared",
					slog.String("component_id", alert.ComponentID),
					slog.String("alert_type", string(alert.Type)))
			}
		}
	}

	if j.renderer != nil {
		n := j.renderer.SweepStale(j.cfg.StateRetention)
		dropped += n
		if n > 0 {
			j.logger.Info("stale renderer states dropped", slog.Int("count", n))
		}
	}

	return dropped
}
