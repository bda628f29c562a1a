package params

import (
	"errors"
	"testing"
	"time"

	"github.com/tally-network/tally/internal/domain"
	"github.com/tally-network/tally/internal/infra/sqlite"
)

func newTestRegistry(t *testing.T) (*Registry, *sqlite.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	r, err := NewRegistry(db, domain.DefaultParams())
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r, db
}

func TestRegistry_SnapshotMatchesSeed(t *testing.T) {
	r, _ := newTestRegistry(t)

	got := r.Snapshot()
	want := domain.DefaultParams()
	if got != want {
		t.Errorf("Snapshot() = %+v, want defaults %+v", got, want)
	}
}

func TestRegistry_Apply(t *testing.T) {
	r, _ := newTestRegistry(t)

	p, err := r.Apply("slash_rate_bps", "2000", "ops")
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if p.Value != "2000" || p.ChangedBy != "ops" {
		t.Errorf("Apply() = %+v, want value 2000 by ops", p)
	}
	if r.Snapshot().SlashRateBps != 2000 {
		t.Errorf("SlashRateBps = %d, want 2000", r.Snapshot().SlashRateBps)
	}
}

func TestRegistry_ApplyRejectsUnknownKey(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Apply("no_such_param", "1", "ops")
	if !errors.Is(err, domain.ErrInvalidTaskSpec) {
		t.Errorf("Apply(unknown) error = %v, want validation error", err)
	}
}

func TestRegistry_ApplyRejectsInvalidValue(t *testing.T) {
	r, _ := newTestRegistry(t)

	// 120% slash rate fails Params.Validate.
	if _, err := r.Apply("slash_rate_bps", "12000", "ops"); err == nil {
		t.Error("Apply(12000 bps) should fail validation")
	}
	// Unparseable duration.
	if _, err := r.Apply("withdrawal_safety_period", "soon", "ops"); err == nil {
		t.Error("Apply(bad duration) should fail")
	}
	// Registry unchanged after failed applies.
	if r.Snapshot() != domain.DefaultParams() {
		t.Error("failed Apply must leave the registry unchanged")
	}
}

func TestRegistry_OverridesSurviveReload(t *testing.T) {
	r, db := newTestRegistry(t)

	if _, err := r.Apply("minimum_provider_stake", "250", "ops"); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if _, err := r.Apply("withdrawal_safety_period", "48h", "ops"); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	reloaded, err := NewRegistry(db, domain.DefaultParams())
	if err != nil {
		t.Fatalf("NewRegistry() reload error: %v", err)
	}
	snap := reloaded.Snapshot()
	if snap.MinimumProviderStake != 250*domain.AmountScale {
		t.Errorf("MinimumProviderStake = %d, want %d", snap.MinimumProviderStake, 250*domain.AmountScale)
	}
	if snap.WithdrawalSafetyPeriod != 48*time.Hour {
		t.Errorf("WithdrawalSafetyPeriod = %s, want 48h", snap.WithdrawalSafetyPeriod)
	}
}

func TestRegistry_List(t *testing.T) {
	r, _ := newTestRegistry(t)

	list := r.List()
	if len(list) != 8 {
		t.Fatalf("List() = %d params, want 8", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Key >= list[i].Key {
			t.Errorf("List() not sorted: %s before %s", list[i-1].Key, list[i].Key)
		}
	}
}
