// Package tasks implements the task store: the lifecycle of consensus
// rounds and their submissions.
//
// The store is the in-memory authority for task records and submission
// lists, writing through to sqlite inside the same transaction as the
// ledger movements of each operation. Escrow balances live only in the
// ledger; a task row carries the escrow total it was created with so
// settlement can drain the escrow account to exactly zero.
package tasks

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tally-network/tally/internal/domain"
	"github.com/tally-network/tally/internal/infra/sqlite"
)

// Service manages task records and submissions.
type Service struct {
	mu    sync.RWMutex
	db    *sqlite.DB
	tasks map[string]*domain.Task
	subs  map[string][]domain.Submission

	// Injectable clock
	now func() time.Time
}

// NewService creates a task store, rebuilding its in-memory state from
// sqlite.
func NewService(db *sqlite.DB) (*Service, error) {
	s := &Service{
		db:    db,
		tasks: make(map[string]*domain.Task),
		subs:  make(map[string][]domain.Submission),
		now:   time.Now,
	}

	loaded, err := db.LoadTasks()
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	for i := range loaded {
		t := loaded[i]
		s.tasks[t.ID] = &t
	}

	subs, err := db.LoadSubmissions()
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}
	for _, sub := range subs {
		s.subs[sub.TaskID] = append(s.subs[sub.TaskID], sub)
	}
	return s, nil
}

// SetClock overrides the service clock. Used by tests and by the daemon to
// share one clock across services.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// ─── Creation & Cancellation ────────────────────────────────────────────────

// Create validates a task spec, locks the requester's escrow and stores the
// task Open. The escrow debit and the task insert commit in one
// transaction: if the requester cannot fund it, the task never exists.
func (s *Service) Create(id, requester string, spec domain.TaskSpec, params domain.Params) (domain.Task, error) {
	if requester == "" {
		return domain.Task{}, fmt.Errorf("%w: empty requester", domain.ErrInvalidTaskSpec)
	}
	if err := validateSpec(spec, params); err != nil {
		return domain.Task{}, err
	}

	base, err := domain.SafeMul(int64(spec.MinProviders), spec.RewardPerProvider)
	if err != nil {
		return domain.Task{}, fmt.Errorf("%w: escrow overflows", domain.ErrInvalidTaskSpec)
	}
	fee := domain.MulBps(base, params.ProtocolFeeBps)
	total := base + fee
	if total > domain.MaxAmountMicros {
		return domain.Task{}, fmt.Errorf("%w: escrow %d exceeds maximum amount", domain.ErrInvalidTaskSpec, total)
	}

	toleranceBps := params.DefaultNumericToleranceBps
	if spec.NumericToleranceBps != nil {
		toleranceBps = *spec.NumericToleranceBps
	}
	majorityBps := params.DefaultCategoricalMajorityBps
	if spec.CategoricalMajorityBps != nil {
		majorityBps = *spec.CategoricalMajorityBps
	}

	now := s.now()
	t := domain.Task{
		ID:                     id,
		Requester:              requester,
		Kind:                   spec.Kind,
		InputRef:               spec.InputRef,
		MinProviders:           spec.MinProviders,
		RequiredProviderStake:  spec.RequiredProviderStake,
		RewardPerProvider:      spec.RewardPerProvider,
		SubmissionDeadline:     now.Add(spec.SubmissionWindow),
		Status:                 domain.TaskOpen,
		NumericToleranceBps:    toleranceBps,
		CategoricalMajorityBps: majorityBps,
		ProtocolFeeBps:         params.ProtocolFeeBps,
		SlashRateBps:           params.SlashRateBps,
		TotalEscrow:            total,
		CreatedAt:              now,
	}
	if spec.InputRef != "" {
		t.InputDigest = domain.DigestString(spec.InputRef)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.CreateTaskTx(t, now, domain.Transfer{
		From:   domain.UserAccount(requester),
		To:     domain.EscrowAccount(id),
		Amount: total,
		Kind:   domain.TransferEscrowLock,
		TaskID: id,
		Memo:   "escrow lock",
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}

	s.tasks[id] = &t
	return t, nil
}

// Cancel aborts an Open task before anyone has submitted. The escrow flows
// back to the requester minus the protocol fee, which the pool keeps.
// Returns the refunded amount.
func (s *Service) Cancel(id, caller string) (domain.Task, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getLocked(id)
	if err != nil {
		return domain.Task{}, 0, err
	}
	if t.Requester != caller {
		return domain.Task{}, 0, fmt.Errorf("%w: %s", domain.ErrNotRequester, caller)
	}
	if t.Status != domain.TaskOpen {
		return domain.Task{}, 0, fmt.Errorf("%w: task %s is %s", domain.ErrTaskNotOpen, id, t.Status)
	}
	if len(s.subs[id]) > 0 {
		return domain.Task{}, 0, fmt.Errorf("%w: task %s has %d submissions", domain.ErrHasSubmissions, id, len(s.subs[id]))
	}

	fee := t.ProtocolFee()
	refund := t.TotalEscrow - fee

	now := s.now()
	updated := *t
	updated.Status = domain.TaskCancelled
	updated.FinalizedAt = now

	transfers := []domain.Transfer{{
		From:   domain.EscrowAccount(id),
		To:     domain.UserAccount(t.Requester),
		Amount: refund,
		Kind:   domain.TransferRefund,
		TaskID: id,
		Memo:   "cancellation refund",
	}}
	if fee > 0 {
		transfers = append(transfers, domain.Transfer{
			From:   domain.EscrowAccount(id),
			To:     domain.ProtocolPoolAccount,
			Amount: fee,
			Kind:   domain.TransferFee,
			TaskID: id,
			Memo:   "cancellation fee",
		})
	}
	if err := s.db.SaveTaskTx(updated, now, transfers...); err != nil {
		return domain.Task{}, 0, fmt.Errorf("cancel task %s: %w", id, err)
	}

	*t = updated
	return updated, refund, nil
}

// ─── Submissions ────────────────────────────────────────────────────────────

// AddSubmission appends a provider's answer to an Open task. Eligibility is
// the caller's concern; the store enforces the lifecycle window and the
// one-submission-per-provider rule.
func (s *Service) AddSubmission(taskID, providerID string, payload domain.ResultPayload) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.getLocked(taskID)
	if err != nil {
		return domain.Submission{}, err
	}
	if t.Status != domain.TaskOpen {
		return domain.Submission{}, fmt.Errorf("%w: task %s is %s", domain.ErrTaskNotOpen, taskID, t.Status)
	}
	now := s.now()
	if !now.Before(t.SubmissionDeadline) {
		return domain.Submission{}, fmt.Errorf("%w: deadline was %s",
			domain.ErrDeadlinePassed, t.SubmissionDeadline.UTC().Format(time.RFC3339))
	}
	for _, existing := range s.subs[taskID] {
		if existing.ProviderID == providerID {
			return domain.Submission{}, fmt.Errorf("%w: %s on task %s", domain.ErrDuplicateSubmission, providerID, taskID)
		}
	}

	sub := domain.Submission{
		TaskID:       taskID,
		ProviderID:   providerID,
		Payload:      payload.Raw,
		NumericValue: payload.NumericValue,
		Digest:       payload.Digest,
		Verdict:      domain.VerdictPending,
		SubmittedAt:  now,
	}
	if err := s.db.InsertSubmission(sub); err != nil {
		return domain.Submission{}, fmt.Errorf("store submission: %w", err)
	}

	s.subs[taskID] = append(s.subs[taskID], sub)
	return sub, nil
}

// ─── Finalization Support ───────────────────────────────────────────────────

// BeginFinalize checks that a task can be finalized at now and returns
// copies of the task and its submissions for evaluation. The stored task
// stays Open until the settlement transaction commits, so a crashed
// finalize is simply re-run.
func (s *Service) BeginFinalize(id string) (domain.Task, []domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.getLocked(id)
	if err != nil {
		return domain.Task{}, nil, err
	}
	if t.IsTerminal() {
		return domain.Task{}, nil, fmt.Errorf("%w: task %s is %s", domain.ErrAlreadyFinalized, id, t.Status)
	}
	if t.Status != domain.TaskOpen {
		return domain.Task{}, nil, fmt.Errorf("%w: task %s is %s", domain.ErrTaskNotOpen, id, t.Status)
	}
	if !s.now().After(t.SubmissionDeadline) {
		return domain.Task{}, nil, fmt.Errorf("%w: deadline is %s",
			domain.ErrTooEarly, t.SubmissionDeadline.UTC().Format(time.RFC3339))
	}

	round := *t
	round.Status = domain.TaskFinalizing
	return round, copySubs(s.subs[id]), nil
}

// ApplyFinalization replaces the task and submission records in memory
// after a settlement transaction has committed. It cannot fail.
func (s *Service) ApplyFinalization(t domain.Task, subs []domain.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := t
	s.tasks[t.ID] = &stored
	s.subs[t.ID] = copySubs(subs)
}

// DueForFinalize returns the ids of Open tasks whose deadline has strictly
// passed at now, oldest deadline first. The sweeper feeds these into
// FinalizeTask.
func (s *Service) DueForFinalize(now time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type due struct {
		id       string
		deadline time.Time
	}
	var dues []due
	for id, t := range s.tasks {
		if t.DueForFinalizeAt(now) {
			dues = append(dues, due{id, t.SubmissionDeadline})
		}
	}
	sort.Slice(dues, func(i, j int) bool {
		if !dues[i].deadline.Equal(dues[j].deadline) {
			return dues[i].deadline.Before(dues[j].deadline)
		}
		return dues[i].id < dues[j].id
	})

	ids := make([]string, len(dues))
	for i, d := range dues {
		ids[i] = d.id
	}
	return ids
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Get returns a task by id.
func (s *Service) Get(id string) (domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.getLocked(id)
	if err != nil {
		return domain.Task{}, err
	}
	return *t, nil
}

// List returns tasks, newest first, optionally filtered by status.
func (s *Service) List(status domain.TaskStatus, limit int) []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if status != "" && t.Status != status {
			continue
		}
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// SubmissionsOf returns a task's submissions in arrival order.
func (s *Service) SubmissionsOf(id string) ([]domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.getLocked(id); err != nil {
		return nil, err
	}
	return copySubs(s.subs[id]), nil
}

// CountByStatus returns the number of tasks per status, for metrics and
// status surfaces.
func (s *Service) CountByStatus() map[domain.TaskStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.TaskStatus]int)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts
}

func (s *Service) getLocked(id string) (*domain.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return t, nil
}

func copySubs(subs []domain.Submission) []domain.Submission {
	out := make([]domain.Submission, len(subs))
	copy(out, subs)
	return out
}

// validateSpec checks the requester-supplied parameters against governance
// limits before any money moves.
func validateSpec(spec domain.TaskSpec, params domain.Params) error {
	if !spec.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidTaskSpec, spec.Kind)
	}
	if spec.MinProviders < 1 || spec.MinProviders > params.MaxProvidersPerTask {
		return fmt.Errorf("%w: min_providers %d outside [1,%d]",
			domain.ErrInvalidTaskSpec, spec.MinProviders, params.MaxProvidersPerTask)
	}
	if spec.RewardPerProvider <= 0 {
		return fmt.Errorf("%w: reward_per_provider must be positive", domain.ErrInvalidTaskSpec)
	}
	if spec.RequiredProviderStake < 0 {
		return fmt.Errorf("%w: required_provider_stake must not be negative", domain.ErrInvalidTaskSpec)
	}
	if spec.SubmissionWindow <= 0 || spec.SubmissionWindow > params.MaxSubmissionWindow {
		return fmt.Errorf("%w: submission_window %s outside (0,%s]",
			domain.ErrInvalidTaskSpec, spec.SubmissionWindow, params.MaxSubmissionWindow)
	}
	if spec.NumericToleranceBps != nil {
		if v := *spec.NumericToleranceBps; v < 0 || v > domain.BpsDenominator {
			return fmt.Errorf("%w: numeric_tolerance_bps %d outside [0,%d]",
				domain.ErrInvalidTaskSpec, v, domain.BpsDenominator)
		}
	}
	if spec.CategoricalMajorityBps != nil {
		if v := *spec.CategoricalMajorityBps; v < domain.BpsDenominator/2 || v > domain.BpsDenominator {
			return fmt.Errorf("%w: categorical_majority_bps %d outside [%d,%d]",
				domain.ErrInvalidTaskSpec, v, domain.BpsDenominator/2, domain.BpsDenominator)
		}
	}
	return nil
}
