// Package health provides periodic health checks over the daemon's
// storage, ledger and finalization pipeline.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tally-network/tally/internal/infra/log"
	"github.com/tally-network/tally/internal/infra/metrics"
	"github.com/tally-network/tally/internal/infra/sqlite"
)

// finalizeLagGrace is how long a task may stay Open past its deadline
// before the finalize_lag check reports the sweeper as stuck.
const finalizeLagGrace = 5 * time.Minute

// EngineProbe is the slice of the engine the checker inspects.
type EngineProbe interface {
	VerifyLedger() error
	DueTaskIDs(now time.Time) []string
}

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration

	// Injectable clock
	now func() time.Time
}

// NewChecker creates a health checker with the standard checks: database
// reachability, data directory presence, double-entry ledger balance and
// finalization lag.
func NewChecker(db *sqlite.DB, dataDir string, probe EngineProbe) *Checker {
	c := &Checker{
		interval: 60 * time.Second,
		now:      time.Now,
	}
	c.checks = []Check{
		{
			Name: "database",
			CheckFn: func(ctx context.Context) error {
				return db.Ping()
			},
		},
		{
			Name: "data_dir",
			CheckFn: func(ctx context.Context) error {
				return checkDataDir(dataDir)
			},
		},
		{
			Name: "ledger_balanced",
			CheckFn: func(ctx context.Context) error {
				return probe.VerifyLedger()
			},
		},
		{
			Name: "finalize_lag",
			CheckFn: func(ctx context.Context) error {
				// Tasks due before now-grace should have been swept already.
				overdue := probe.DueTaskIDs(c.now().Add(-finalizeLagGrace))
				if len(overdue) > 0 {
					return fmt.Errorf("%d tasks overdue for finalization beyond %s",
						len(overdue), finalizeLagGrace)
				}
				return nil
			},
		},
	}
	return c
}

// SetClock overrides the checker clock. Used by tests.
func (c *Checker) SetClock(now func() time.Time) { c.now = now }

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.RunAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunAll(ctx)
		}
	}
}

// RunAll executes every check once and stores the results.
func (c *Checker) RunAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: c.now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			log.Health.Warn().Str("check", check.Name).Err(err).Msg("health check failed")
			if check.RecoverFn != nil {
				_ = check.RecoverFn(ctx)
			}
		} else {
			s.Healthy = true
		}
		gauge := 0.0
		if s.Healthy {
			gauge = 1.0
		}
		metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(gauge)
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

func checkDataDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data path %s is not a directory", dir)
	}
	return nil
}
