// =============================================================================
// Payment Import - Service Health Monitor
// =============================================================================
//
// This module probes the loan service on a cron schedule and publishes the
// result. Commit actions are refused while the last probe failed.
//
// SCHEDULE:
//   Any robfig/cron spec; "@every 15s" by default. Overlapping probes are
//   skipped, and each probe has its own timeout so a hung service reads as
//   offline instead of blocking the schedule.
//
// =============================================================================

package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ginjaninja78/payment-import/internal/config"
	"github.com/ginjaninja78/payment-import/internal/logger"
	"github.com/robfig/cron/v3"
)

// Prober performs one reachability request.
type Prober interface {
	Ping(ctx context.Context) error
}

// State is the published reachability.
type State string

const (
	StateUnknown State = "unknown"
	StateOnline  State = "online"
	StateOffline State = "offline"
)

// Status is the result of the most recent probe.
type Status struct {
	State     State     `json:"state"`
	CheckedAt time.Time `json:"checkedAt"`
	LatencyMS int64     `json:"latencyMs"`
	LastError string    `json:"lastError,omitempty"`
}

// Monitor runs the probe and holds the latest Status.
type Monitor struct {
	prober   Prober
	schedule string
	timeout  time.Duration

	mu     sync.RWMutex
	status Status

	cron *cron.Cron
	log  *logger.Logger
}

// NewMonitor creates a Monitor from the health configuration section.
func NewMonitor(p Prober, cfg config.HealthConfig) *Monitor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Monitor{
		prober:   p,
		schedule: cfg.Schedule,
		timeout:  timeout,
		status:   Status{State: StateUnknown},
		log:      logger.Named("health"),
	}
}

// Start probes once and then on the schedule until Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(m.schedule, func() { m.Check(ctx) }); err != nil {
		return fmt.Errorf("unable to schedule health probe %q: %w", m.schedule, err)
	}

	m.Check(ctx)

	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
	c.Start()
	m.log.Info().Str("schedule", m.schedule).Dur("timeout", m.timeout).Msg("health monitor started")
	return nil
}

// Stop halts the schedule and waits for a running probe to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	m.log.Info().Msg("health monitor stopped")
}

// Check probes now and publishes the result.
func (m *Monitor) Check(ctx context.Context) Status {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	err := m.prober.Ping(pctx)
	st := Status{
		State:     StateOnline,
		CheckedAt: time.Now().UTC(),
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		st.State = StateOffline
		st.LastError = err.Error()
	}

	m.mu.Lock()
	prev := m.status.State
	m.status = st
	m.mu.Unlock()

	if prev != st.State {
		ev := m.log.Info()
		if st.State == StateOffline {
			ev = m.log.Warn().Str("error", st.LastError)
		}
		ev.Str("from", string(prev)).Str("to", string(st.State)).Msg("service status changed")
	}
	return st
}

// Status returns the latest probe result.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Online reports whether the latest probe succeeded.
func (m *Monitor) Online() bool {
	return m.Status().State == StateOnline
}
