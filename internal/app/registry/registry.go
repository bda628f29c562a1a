// Package registry implements the provider registry: registration with
// staked collateral, top-ups, cooldown-gated withdrawals, activity toggles
// and reputation bookkeeping.
//
// The registry is the in-memory authority for provider records and writes
// through to sqlite in the same transaction as its ledger movements, so a
// snapshot can never disagree with the money. Collateral itself is never
// stored on the record; it is the balance of the provider's collateral
// account.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tally-network/tally/internal/domain"
	"github.com/tally-network/tally/internal/infra/sqlite"
)

// Service manages provider records.
type Service struct {
	mu        sync.RWMutex
	db        *sqlite.DB
	providers map[string]*domain.Provider

	// Injectable clock
	now func() time.Time
}

// NewService creates a provider registry, rebuilding its in-memory state
// from the store.
func NewService(db *sqlite.DB) (*Service, error) {
	s := &Service{
		db:        db,
		providers: make(map[string]*domain.Provider),
		now:       time.Now,
	}
	loaded, err := db.LoadProviders()
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	for i := range loaded {
		p := loaded[i]
		s.providers[p.ID] = &p
	}
	return s, nil
}

// SetClock overrides the service clock. Used by tests and by the daemon to
// share one clock across services.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// ─── Staking Lifecycle ──────────────────────────────────────────────────────

// Register creates a provider with an initial collateral stake moved from
// the provider's user account. A fully-exited record (status Unregistered)
// may register again; reputation starts over.
func (s *Service) Register(id string, initialStake int64, params domain.Params) (domain.Provider, error) {
	if id == "" {
		return domain.Provider{}, fmt.Errorf("%w: empty provider id", domain.ErrInvalidTaskSpec)
	}
	if initialStake < params.MinimumProviderStake {
		return domain.Provider{}, fmt.Errorf("%w: %d < minimum %d",
			domain.ErrStakeTooLow, initialStake, params.MinimumProviderStake)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.providers[id]; ok && existing.Status != domain.ProviderUnregistered {
		return domain.Provider{}, fmt.Errorf("%w: %s", domain.ErrAlreadyRegistered, id)
	}

	p := domain.Provider{
		ID:           id,
		Status:       domain.ProviderActive,
		RegisteredAt: s.now(),
	}
	err := s.db.SaveProviderTx(p, s.now(), domain.Transfer{
		From:   domain.UserAccount(id),
		To:     domain.CollateralAccount(id),
		Amount: initialStake,
		Kind:   domain.TransferStake,
		Memo:   "register",
	})
	if err != nil {
		return domain.Provider{}, fmt.Errorf("register %s: %w", id, err)
	}

	s.providers[id] = &p
	return p, nil
}

// TopUp adds collateral to an existing provider.
func (s *Service) TopUp(id string, amount int64) (domain.Provider, error) {
	if amount <= 0 {
		return domain.Provider{}, fmt.Errorf("%w: top-up must be positive, got %d", domain.ErrInvalidAmount, amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getLocked(id)
	if err != nil {
		return domain.Provider{}, err
	}

	err = s.db.SaveProviderTx(*p, s.now(), domain.Transfer{
		From:   domain.UserAccount(id),
		To:     domain.CollateralAccount(id),
		Amount: amount,
		Kind:   domain.TransferStake,
		Memo:   "top-up",
	})
	if err != nil {
		return domain.Provider{}, fmt.Errorf("top up %s: %w", id, err)
	}
	return *p, nil
}

// InitiateWithdrawal parks part of the collateral behind the safety
// period. Only one withdrawal may be pending at a time, and the remaining
// collateral must be either zero (full exit) or still above the minimum
// stake.
func (s *Service) InitiateWithdrawal(id string, amount int64, params domain.Params) (domain.Provider, error) {
	if amount <= 0 {
		return domain.Provider{}, fmt.Errorf("%w: withdrawal must be positive, got %d", domain.ErrInvalidAmount, amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getLocked(id)
	if err != nil {
		return domain.Provider{}, err
	}
	if p.WithdrawalPending() {
		return domain.Provider{}, fmt.Errorf("%w: %s", domain.ErrWithdrawalPending, id)
	}

	collateral, err := s.db.Balance(domain.CollateralAccount(id))
	if err != nil {
		return domain.Provider{}, fmt.Errorf("read collateral of %s: %w", id, err)
	}
	if amount > collateral {
		return domain.Provider{}, fmt.Errorf("%w: collateral %d, requested %d",
			domain.ErrInsufficientFunds, collateral, amount)
	}
	remaining := collateral - amount
	if remaining != 0 && remaining < params.MinimumProviderStake {
		return domain.Provider{}, fmt.Errorf("%w: %d left after withdrawing %d, minimum %d",
			domain.ErrStakeRemainderTooLow, remaining, amount, params.MinimumProviderStake)
	}

	now := s.now()
	updated := *p
	updated.Status = domain.ProviderPendingWithdrawal
	updated.PendingWithdrawalAmount = amount
	updated.WithdrawalReadyAt = now.Add(params.WithdrawalSafetyPeriod)

	err = s.db.SaveProviderTx(updated, now, domain.Transfer{
		From:   domain.CollateralAccount(id),
		To:     domain.PendingAccount(id),
		Amount: amount,
		Kind:   domain.TransferWithdrawHold,
		Memo:   "withdrawal hold",
	})
	if err != nil {
		return domain.Provider{}, fmt.Errorf("initiate withdrawal for %s: %w", id, err)
	}

	*p = updated
	return updated, nil
}

// CompleteWithdrawal releases parked collateral to the provider's user
// account once the safety period has elapsed. Returns the released amount.
// A provider whose collateral reaches zero leaves the registry
// (status Unregistered); otherwise it returns to Active.
func (s *Service) CompleteWithdrawal(id string) (domain.Provider, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getLocked(id)
	if err != nil {
		return domain.Provider{}, 0, err
	}
	if !p.WithdrawalPending() {
		return domain.Provider{}, 0, fmt.Errorf("%w: %s", domain.ErrNoPendingWithdrawal, id)
	}
	now := s.now()
	if now.Before(p.WithdrawalReadyAt) {
		return domain.Provider{}, 0, fmt.Errorf("%w: ready at %s",
			domain.ErrWithdrawalLocked, p.WithdrawalReadyAt.UTC().Format(time.RFC3339))
	}

	amount := p.PendingWithdrawalAmount
	collateral, err := s.db.Balance(domain.CollateralAccount(id))
	if err != nil {
		return domain.Provider{}, 0, fmt.Errorf("read collateral of %s: %w", id, err)
	}

	updated := *p
	updated.PendingWithdrawalAmount = 0
	updated.WithdrawalReadyAt = time.Time{}
	if collateral == 0 {
		updated.Status = domain.ProviderUnregistered
	} else {
		updated.Status = domain.ProviderActive
	}

	err = s.db.SaveProviderTx(updated, now, domain.Transfer{
		From:   domain.PendingAccount(id),
		To:     domain.UserAccount(id),
		Amount: amount,
		Kind:   domain.TransferWithdrawRelease,
		Memo:   "withdrawal release",
	})
	if err != nil {
		return domain.Provider{}, 0, fmt.Errorf("complete withdrawal for %s: %w", id, err)
	}

	*p = updated
	return updated, amount, nil
}

// SetActive toggles a provider between Active and Deactivated.
// Deactivated providers keep their collateral and obligations but are
// ineligible for new tasks. Not allowed while a withdrawal is pending.
func (s *Service) SetActive(id string, active bool) (domain.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getLocked(id)
	if err != nil {
		return domain.Provider{}, err
	}
	if p.Status == domain.ProviderPendingWithdrawal {
		return domain.Provider{}, fmt.Errorf("%w: %s", domain.ErrWithdrawalPending, id)
	}

	updated := *p
	if active {
		updated.Status = domain.ProviderActive
	} else {
		updated.Status = domain.ProviderDeactivated
	}
	if err := s.db.SaveProvider(updated); err != nil {
		return domain.Provider{}, fmt.Errorf("set active for %s: %w", id, err)
	}

	*p = updated
	return updated, nil
}

// ─── Eligibility & Settlement Support ───────────────────────────────────────

// CheckEligible reports whether a provider may participate in a task
// demanding requiredStake collateral: it must be Active with no pending
// withdrawal and sufficiently staked.
func (s *Service) CheckEligible(id string, requiredStake int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[id]
	if !ok || p.Status == domain.ProviderUnregistered {
		return fmt.Errorf("%w: %s", domain.ErrProviderNotFound, id)
	}
	if p.Status != domain.ProviderActive || p.WithdrawalPending() {
		return fmt.Errorf("%w: %s is %s", domain.ErrProviderNotEligible, id, p.Status)
	}
	collateral, err := s.db.Balance(domain.CollateralAccount(id))
	if err != nil {
		return fmt.Errorf("read collateral of %s: %w", id, err)
	}
	if collateral < requiredStake {
		return fmt.Errorf("%w: %s has %d staked, task requires %d",
			domain.ErrProviderNotEligible, id, collateral, requiredStake)
	}
	return nil
}

// ApplySettlement replaces provider records in memory after a settlement
// transaction has committed. The snapshots were written to the store inside
// that transaction; this step cannot fail.
func (s *Service) ApplySettlement(updated []domain.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range updated {
		p := updated[i]
		s.providers[p.ID] = &p
	}
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Get returns a provider record.
func (s *Service) Get(id string) (domain.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[id]
	if !ok || p.Status == domain.ProviderUnregistered {
		return domain.Provider{}, fmt.Errorf("%w: %s", domain.ErrProviderNotFound, id)
	}
	return *p, nil
}

// List returns all registered providers sorted by id.
func (s *Service) List() []domain.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		if p.Status == domain.ProviderUnregistered {
			continue
		}
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// IDs returns the ids of all registered providers sorted ascending.
func (s *Service) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.providers))
	for id, p := range s.providers {
		if p.Status == domain.ProviderUnregistered {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CountActive returns how many providers are currently Active.
func (s *Service) CountActive() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.providers {
		if p.Status == domain.ProviderActive {
			n++
		}
	}
	return n
}

// getLocked resolves an id to a live provider record. Callers hold mu.
func (s *Service) getLocked(id string) (*domain.Provider, error) {
	p, ok := s.providers[id]
	if !ok || p.Status == domain.ProviderUnregistered {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotFound, id)
	}
	return p, nil
}
