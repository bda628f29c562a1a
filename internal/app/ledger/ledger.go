// Package ledger implements the double-entry account ledger.
// Every transfer creates matched DEBIT/CREDIT entries with running
// balances; SUM(debits) == SUM(credits) is an invariant. Balances are
// never stored anywhere else: collateral, escrow and pool amounts are all
// readback of this ledger.
package ledger

import (
	"fmt"
	"time"

	"github.com/tally-network/tally/internal/domain"
	"github.com/tally-network/tally/internal/infra/sqlite"
)

// Service manages account balances.
type Service struct {
	db *sqlite.DB

	// Injectable clock
	now func() time.Time
}

// NewService creates a ledger service.
func NewService(db *sqlite.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// SetClock overrides the service clock. Used by tests and by the daemon to
// share one clock across services.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Apply commits a batch of transfers atomically. Either every transfer
// lands or none do; overdrafting any non-reserve source account fails the
// whole batch with ErrInsufficientFunds.
func (s *Service) Apply(transfers ...domain.Transfer) error {
	return s.db.ApplyTransfers(s.now(), transfers...)
}

// Balance returns the current balance of an account (0 for unknown).
func (s *Service) Balance(account string) (int64, error) {
	return s.db.Balance(account)
}

// CollateralOf returns a provider's staked collateral.
func (s *Service) CollateralOf(providerID string) (int64, error) {
	return s.db.Balance(domain.CollateralAccount(providerID))
}

// Deposit mints amount into a user account from the reserve.
// This is the operator faucet; the reserve account absorbs the mint and
// may go negative.
func (s *Service) Deposit(userID string, amount int64, memo string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty account id", domain.ErrInvalidAmount)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: deposit must be positive, got %d", domain.ErrInvalidAmount, amount)
	}
	return s.Apply(domain.Transfer{
		From:   domain.ReserveAccount,
		To:     domain.UserAccount(userID),
		Amount: amount,
		Kind:   domain.TransferDeposit,
		Memo:   memo,
	})
}

// History returns recent ledger entries for an account, newest first.
func (s *Service) History(account string, limit int) ([]domain.LedgerEntry, error) {
	return s.db.AccountHistory(account, limit)
}

// VerifyBalanced checks the double-entry invariants across the whole
// ledger. Used by the health checker.
func (s *Service) VerifyBalanced() error {
	return s.db.VerifyBalanced()
}

// TotalStaked returns the sum of all provider collateral and pending
// withdrawal accounts, for metrics and status surfaces.
func (s *Service) TotalStaked(providerIDs []string) (int64, error) {
	var total int64
	for _, id := range providerIDs {
		c, err := s.db.Balance(domain.CollateralAccount(id))
		if err != nil {
			return 0, err
		}
		p, err := s.db.Balance(domain.PendingAccount(id))
		if err != nil {
			return 0, err
		}
		total += c + p
	}
	return total, nil
}
