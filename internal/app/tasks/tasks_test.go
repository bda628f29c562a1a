package tasks

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tally-network/tally/internal/domain"
	"github.com/tally-network/tally/internal/infra/sqlite"
)

func testParams() domain.Params {
	return domain.Params{
		MinimumProviderStake:          100,
		WithdrawalSafetyPeriod:        time.Hour,
		DefaultNumericToleranceBps:    500,
		DefaultCategoricalMajorityBps: 6000,
		ProtocolFeeBps:                250,
		SlashRateBps:                  1000,
		MaxProvidersPerTask:           10,
		MaxSubmissionWindow:           24 * time.Hour,
	}
}

func validSpec() domain.TaskSpec {
	return domain.TaskSpec{
		Kind:              domain.KindNumeric,
		MinProviders:      3,
		RewardPerProvider: 100,
		SubmissionWindow:  time.Hour,
	}
}

func newTestService(t *testing.T) (*Service, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewService(db)
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}

	// Fund the requester used throughout.
	err = db.ApplyTransfers(time.Now(), domain.Transfer{
		From:   domain.ReserveAccount,
		To:     domain.UserAccount("alice"),
		Amount: 100_000,
		Kind:   domain.TransferDeposit,
	})
	if err != nil {
		t.Fatalf("fund alice: %v", err)
	}
	return s, db
}

func mustPayload(t *testing.T, kind domain.TaskKind, raw string) domain.ResultPayload {
	t.Helper()
	p, err := domain.ParsePayload(kind, raw)
	if err != nil {
		t.Fatalf("ParsePayload(%q) error: %v", raw, err)
	}
	return p
}

func TestCreate(t *testing.T) {
	s, db := newTestService(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	spec := validSpec()
	spec.InputRef = "ref:series/42"
	task, err := s.Create("t1", "alice", spec, testParams())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Escrow: base 300 + 2.5% fee 7 = 307 locked from the requester.
	if task.TotalEscrow != 307 {
		t.Errorf("TotalEscrow = %d, want 307", task.TotalEscrow)
	}
	if task.ProtocolFee() != 7 {
		t.Errorf("ProtocolFee() = %d, want 7", task.ProtocolFee())
	}
	escrow, _ := db.Balance(domain.EscrowAccount("t1"))
	user, _ := db.Balance(domain.UserAccount("alice"))
	if escrow != 307 || user != 100_000-307 {
		t.Errorf("escrow/user = %d/%d, want 307/%d", escrow, user, 100_000-307)
	}

	if task.Status != domain.TaskOpen {
		t.Errorf("status = %s, want OPEN", task.Status)
	}
	if !task.SubmissionDeadline.Equal(now.Add(time.Hour)) {
		t.Errorf("deadline = %s, want %s", task.SubmissionDeadline, now.Add(time.Hour))
	}
	// Governance defaults and rates are pinned on the task.
	if task.NumericToleranceBps != 500 || task.ProtocolFeeBps != 250 || task.SlashRateBps != 1000 {
		t.Errorf("pinned rates = %d/%d/%d, want 500/250/1000",
			task.NumericToleranceBps, task.ProtocolFeeBps, task.SlashRateBps)
	}
	if task.InputDigest == "" {
		t.Error("InputDigest empty for non-empty InputRef")
	}
}

func TestCreate_ExplicitTolerance(t *testing.T) {
	s, _ := newTestService(t)

	zero := int64(0)
	spec := validSpec()
	spec.NumericToleranceBps = &zero
	task, err := s.Create("t1", "alice", spec, testParams())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	// An explicit zero overrides the default, it is not "unset".
	if task.NumericToleranceBps != 0 {
		t.Errorf("tolerance = %d, want 0", task.NumericToleranceBps)
	}
}

func TestCreate_Validation(t *testing.T) {
	s, _ := newTestService(t)
	params := testParams()

	cases := []struct {
		name   string
		mutate func(*domain.TaskSpec)
	}{
		{"unknown kind", func(sp *domain.TaskSpec) { sp.Kind = "ORACLE" }},
		{"zero providers", func(sp *domain.TaskSpec) { sp.MinProviders = 0 }},
		{"too many providers", func(sp *domain.TaskSpec) { sp.MinProviders = 11 }},
		{"zero reward", func(sp *domain.TaskSpec) { sp.RewardPerProvider = 0 }},
		{"negative stake", func(sp *domain.TaskSpec) { sp.RequiredProviderStake = -1 }},
		{"zero window", func(sp *domain.TaskSpec) { sp.SubmissionWindow = 0 }},
		{"window too long", func(sp *domain.TaskSpec) { sp.SubmissionWindow = 25 * time.Hour }},
		{"tolerance too high", func(sp *domain.TaskSpec) {
			v := int64(10_001)
			sp.NumericToleranceBps = &v
		}},
		{"majority below half", func(sp *domain.TaskSpec) {
			v := int64(4_999)
			sp.CategoricalMajorityBps = &v
		}},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := validSpec()
			tc.mutate(&spec)
			_, err := s.Create(fmt.Sprintf("t%d", i), "alice", spec, params)
			if !errors.Is(err, domain.ErrInvalidTaskSpec) {
				t.Errorf("error = %v, want ErrInvalidTaskSpec", err)
			}
		})
	}

	if _, err := s.Create("tx", "", validSpec(), params); !errors.Is(err, domain.ErrInvalidTaskSpec) {
		t.Errorf("empty requester error = %v, want ErrInvalidTaskSpec", err)
	}
}

func TestCreate_UnfundedRequester(t *testing.T) {
	s, db := newTestService(t)

	_, err := s.Create("t1", "bob", validSpec(), testParams())
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("error = %v, want ErrInsufficientFunds", err)
	}
	// The failed creation is fully atomic: no task, no escrow.
	if _, err := s.Get("t1"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("Get after failed create error = %v, want ErrTaskNotFound", err)
	}
	escrow, _ := db.Balance(domain.EscrowAccount("t1"))
	if escrow != 0 {
		t.Errorf("escrow = %d, want 0", escrow)
	}
}

func TestCancel(t *testing.T) {
	s, db := newTestService(t)
	if _, err := s.Create("t1", "alice", validSpec(), testParams()); err != nil {
		t.Fatal(err)
	}

	if _, _, err := s.Cancel("t1", "mallory"); !errors.Is(err, domain.ErrNotRequester) {
		t.Errorf("foreign cancel error = %v, want ErrNotRequester", err)
	}

	task, refund, err := s.Cancel("t1", "alice")
	if err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if task.Status != domain.TaskCancelled {
		t.Errorf("status = %s, want CANCELLED", task.Status)
	}
	if refund != 300 {
		t.Errorf("refund = %d, want 300 (escrow minus fee)", refund)
	}

	// Escrow drained to zero, fee kept by the pool.
	escrow, _ := db.Balance(domain.EscrowAccount("t1"))
	pool, _ := db.Balance(domain.ProtocolPoolAccount)
	if escrow != 0 || pool != 7 {
		t.Errorf("escrow/pool = %d/%d, want 0/7", escrow, pool)
	}

	if _, _, err := s.Cancel("t1", "alice"); !errors.Is(err, domain.ErrTaskNotOpen) {
		t.Errorf("re-cancel error = %v, want ErrTaskNotOpen", err)
	}
}

func TestCancel_BlockedBySubmission(t *testing.T) {
	s, _ := newTestService(t)
	if _, err := s.Create("t1", "alice", validSpec(), testParams()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddSubmission("t1", "p1", mustPayload(t, domain.KindNumeric, "42")); err != nil {
		t.Fatal(err)
	}

	if _, _, err := s.Cancel("t1", "alice"); !errors.Is(err, domain.ErrHasSubmissions) {
		t.Errorf("error = %v, want ErrHasSubmissions", err)
	}
}

func TestAddSubmission(t *testing.T) {
	s, _ := newTestService(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	if _, err := s.Create("t1", "alice", validSpec(), testParams()); err != nil {
		t.Fatal(err)
	}

	sub, err := s.AddSubmission("t1", "p1", mustPayload(t, domain.KindNumeric, "42.5"))
	if err != nil {
		t.Fatalf("AddSubmission() error: %v", err)
	}
	if sub.Verdict != domain.VerdictPending {
		t.Errorf("verdict = %s, want PENDING", sub.Verdict)
	}
	if sub.NumericValue != 42_500_000 {
		t.Errorf("numeric value = %d, want 42500000 micro", sub.NumericValue)
	}

	if _, err := s.AddSubmission("t1", "p1", mustPayload(t, domain.KindNumeric, "43")); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Errorf("duplicate error = %v, want ErrDuplicateSubmission", err)
	}
	if _, err := s.AddSubmission("nope", "p1", mustPayload(t, domain.KindNumeric, "1")); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("unknown task error = %v, want ErrTaskNotFound", err)
	}

	// The deadline instant itself is past the window.
	now = now.Add(time.Hour)
	if _, err := s.AddSubmission("t1", "p2", mustPayload(t, domain.KindNumeric, "1")); !errors.Is(err, domain.ErrDeadlinePassed) {
		t.Errorf("at-deadline error = %v, want ErrDeadlinePassed", err)
	}

	subs, err := s.SubmissionsOf("t1")
	if err != nil || len(subs) != 1 || subs[0].ProviderID != "p1" {
		t.Errorf("SubmissionsOf() = %+v, %v; want single p1 submission", subs, err)
	}
}

func TestBeginFinalize(t *testing.T) {
	s, _ := newTestService(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	if _, err := s.Create("t1", "alice", validSpec(), testParams()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddSubmission("t1", "p1", mustPayload(t, domain.KindNumeric, "42")); err != nil {
		t.Fatal(err)
	}

	// Too early before and at the deadline.
	if _, _, err := s.BeginFinalize("t1"); !errors.Is(err, domain.ErrTooEarly) {
		t.Errorf("early error = %v, want ErrTooEarly", err)
	}
	now = now.Add(time.Hour)
	if _, _, err := s.BeginFinalize("t1"); !errors.Is(err, domain.ErrTooEarly) {
		t.Errorf("at-deadline error = %v, want ErrTooEarly", err)
	}

	now = now.Add(time.Second)
	round, subs, err := s.BeginFinalize("t1")
	if err != nil {
		t.Fatalf("BeginFinalize() error: %v", err)
	}
	if round.Status != domain.TaskFinalizing {
		t.Errorf("round status = %s, want FINALIZING", round.Status)
	}
	if len(subs) != 1 {
		t.Errorf("submissions = %d, want 1", len(subs))
	}
	// The stored task is untouched: a crashed finalize re-runs cleanly.
	stored, _ := s.Get("t1")
	if stored.Status != domain.TaskOpen {
		t.Errorf("stored status = %s, want OPEN until settlement commits", stored.Status)
	}
}

func TestBeginFinalize_Terminal(t *testing.T) {
	s, _ := newTestService(t)
	if _, err := s.Create("t1", "alice", validSpec(), testParams()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Cancel("t1", "alice"); err != nil {
		t.Fatal(err)
	}

	if _, _, err := s.BeginFinalize("t1"); !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Errorf("terminal error = %v, want ErrAlreadyFinalized", err)
	}
}

func TestDueForFinalize(t *testing.T) {
	s, _ := newTestService(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	// t-long is due later than t-short; t-cancelled never shows up.
	long := validSpec()
	long.SubmissionWindow = 2 * time.Hour
	if _, err := s.Create("t-long", "alice", long, testParams()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("t-short", "alice", validSpec(), testParams()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("t-cancelled", "alice", validSpec(), testParams()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Cancel("t-cancelled", "alice"); err != nil {
		t.Fatal(err)
	}

	if due := s.DueForFinalize(now.Add(30 * time.Minute)); len(due) != 0 {
		t.Errorf("due before any deadline = %v, want none", due)
	}
	due := s.DueForFinalize(now.Add(3 * time.Hour))
	if len(due) != 2 || due[0] != "t-short" || due[1] != "t-long" {
		t.Errorf("due = %v, want [t-short t-long] oldest deadline first", due)
	}
}

func TestList(t *testing.T) {
	s, _ := newTestService(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("t%d", i)
		if _, err := s.Create(id, "alice", validSpec(), testParams()); err != nil {
			t.Fatal(err)
		}
		now = now.Add(time.Minute)
	}
	if _, _, err := s.Cancel("t1", "alice"); err != nil {
		t.Fatal(err)
	}

	all := s.List("", 0)
	if len(all) != 3 || all[0].ID != "t2" {
		t.Errorf("List all = %d tasks, first %s; want 3 newest-first", len(all), all[0].ID)
	}
	open := s.List(domain.TaskOpen, 0)
	if len(open) != 2 {
		t.Errorf("List open = %d, want 2", len(open))
	}
	limited := s.List("", 1)
	if len(limited) != 1 || limited[0].ID != "t2" {
		t.Errorf("List limit 1 = %+v, want just t2", limited)
	}
}

func TestReloadFromStore(t *testing.T) {
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	err = db.ApplyTransfers(time.Now(), domain.Transfer{
		From:   domain.ReserveAccount,
		To:     domain.UserAccount("alice"),
		Amount: 100_000,
		Kind:   domain.TransferDeposit,
	})
	if err != nil {
		t.Fatal(err)
	}

	s, err := NewService(db)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("t1", "alice", validSpec(), testParams()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddSubmission("t1", "p1", mustPayload(t, domain.KindNumeric, "42")); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewService(db)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	task, err := reloaded.Get("t1")
	if err != nil {
		t.Fatalf("Get after reload error: %v", err)
	}
	if task.Status != domain.TaskOpen || task.TotalEscrow != 307 {
		t.Errorf("reloaded task = %s/%d, want OPEN/307", task.Status, task.TotalEscrow)
	}
	subs, err := reloaded.SubmissionsOf("t1")
	if err != nil || len(subs) != 1 || subs[0].NumericValue != 42_000_000 {
		t.Errorf("reloaded submissions = %+v, %v; want one with 42000000 micro", subs, err)
	}
}
