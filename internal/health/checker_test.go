package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tally-network/tally/internal/infra/sqlite"
)

// fakeProbe scripts the engine surface the checker inspects.
type fakeProbe struct {
	verifyErr error
	overdue   []string
}

func (f *fakeProbe) VerifyLedger() error           { return f.verifyErr }
func (f *fakeProbe) DueTaskIDs(time.Time) []string { return f.overdue }

func newTestChecker(t *testing.T, probe *fakeProbe) *Checker {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewChecker(db, dir, probe)
}

func statusOf(t *testing.T, c *Checker, name string) Status {
	t.Helper()
	for _, s := range c.Statuses() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no status named %q", name)
	return Status{}
}

func TestChecker_AllHealthy(t *testing.T) {
	c := newTestChecker(t, &fakeProbe{})
	c.RunAll(context.Background())

	if !c.IsHealthy() {
		t.Errorf("IsHealthy() = false, statuses %+v", c.Statuses())
	}
	if got := len(c.Statuses()); got != 4 {
		t.Errorf("Statuses() has %d entries, want 4", got)
	}
}

func TestChecker_UnbalancedLedger(t *testing.T) {
	c := newTestChecker(t, &fakeProbe{verifyErr: errors.New("debits != credits")})
	c.RunAll(context.Background())

	if c.IsHealthy() {
		t.Error("IsHealthy() = true with unbalanced ledger")
	}
	s := statusOf(t, c, "ledger_balanced")
	if s.Healthy || s.Error == "" {
		t.Errorf("ledger_balanced = %+v, want unhealthy with error", s)
	}
	// Other checks unaffected.
	if s := statusOf(t, c, "database"); !s.Healthy {
		t.Errorf("database = %+v, want healthy", s)
	}
}

func TestChecker_FinalizeLag(t *testing.T) {
	probe := &fakeProbe{overdue: []string{"t1", "t2"}}
	c := newTestChecker(t, probe)
	c.RunAll(context.Background())

	s := statusOf(t, c, "finalize_lag")
	if s.Healthy {
		t.Errorf("finalize_lag = %+v, want unhealthy with overdue tasks", s)
	}

	// Lag clears on the next pass once the sweeper catches up.
	probe.overdue = nil
	c.RunAll(context.Background())
	if s := statusOf(t, c, "finalize_lag"); !s.Healthy {
		t.Errorf("finalize_lag after catch-up = %+v, want healthy", s)
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() = false after recovery")
	}
}
