package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tally-network/tally/internal/domain"
)

// ─── Double-Entry Ledger ────────────────────────────────────────────────────

// ApplyTransfers commits a batch of transfers in one transaction.
// Either every transfer lands or none do. Any non-reserve source account
// that would go negative fails the batch with ErrInsufficientFunds.
func (d *DB) ApplyTransfers(now time.Time, transfers ...domain.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := applyTransfers(tx, now, transfers); err != nil {
		return err
	}
	return tx.Commit()
}

// applyTransfers writes the DEBIT/CREDIT pairs for a batch inside tx.
// Shared by ApplyTransfers and the composite task/provider writes.
func applyTransfers(tx *sql.Tx, now time.Time, transfers []domain.Transfer) error {
	for _, t := range transfers {
		if t.Amount == 0 {
			continue
		}
		if t.Amount < 0 {
			return fmt.Errorf("%w: negative transfer %d from %s", domain.ErrInvalidAmount, t.Amount, t.From)
		}
		if t.From == "" || t.To == "" || t.From == t.To {
			return fmt.Errorf("%w: transfer needs two distinct accounts", domain.ErrInvalidAmount)
		}

		fromBal, err := balanceIn(tx, t.From)
		if err != nil {
			return err
		}
		newFrom := fromBal - t.Amount
		if newFrom < 0 && t.From != domain.ReserveAccount {
			return fmt.Errorf("%w: account %s has %d, needs %d", domain.ErrInsufficientFunds, t.From, fromBal, t.Amount)
		}

		toBal, err := balanceIn(tx, t.To)
		if err != nil {
			return err
		}

		ts := now.Unix()
		if _, err := tx.Exec(
			`INSERT INTO ledger_entries (created_at, kind, direction, account, pair, amount, balance, task_id, memo)
			 VALUES (?, ?, 'DEBIT', ?, ?, ?, ?, ?, ?)`,
			ts, string(t.Kind), t.From, t.To, t.Amount, newFrom, nullStr(t.TaskID), nullStr(t.Memo),
		); err != nil {
			return fmt.Errorf("insert debit: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO ledger_entries (created_at, kind, direction, account, pair, amount, balance, task_id, memo)
			 VALUES (?, ?, 'CREDIT', ?, ?, ?, ?, ?, ?)`,
			ts, string(t.Kind), t.To, t.From, t.Amount, toBal+t.Amount, nullStr(t.TaskID), nullStr(t.Memo),
		); err != nil {
			return fmt.Errorf("insert credit: %w", err)
		}
	}
	return nil
}

// balanceIn reads an account's current balance inside a transaction.
func balanceIn(q execer, account string) (int64, error) {
	var balance int64
	err := q.QueryRow(
		`SELECT balance FROM ledger_entries WHERE account = ? ORDER BY id DESC LIMIT 1`,
		account,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance of %s: %w", account, err)
	}
	return balance, nil
}

// Balance returns the current balance of an account (0 for unknown accounts).
func (d *DB) Balance(account string) (int64, error) {
	return balanceIn(d.db, account)
}

// AccountHistory returns the most recent entries for an account, newest first.
func (d *DB) AccountHistory(account string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(
		`SELECT id, account, direction, amount, balance, kind, pair, task_id, memo, created_at
		 FROM ledger_entries WHERE account = ? ORDER BY id DESC LIMIT ?`,
		account, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SumBalances returns the sum of every account's latest running balance.
// A balanced ledger always sums to zero (the reserve absorbs the mint).
func (d *DB) SumBalances() (int64, error) {
	var sum int64
	err := d.db.QueryRow(
		`SELECT COALESCE(SUM(balance), 0)
		 FROM ledger_entries l
		 WHERE id = (SELECT MAX(id) FROM ledger_entries WHERE account = l.account)`,
	).Scan(&sum)
	return sum, err
}

// VerifyBalanced checks the double-entry invariants: debits equal credits
// overall, and latest running balances sum to zero.
func (d *DB) VerifyBalanced() error {
	var skew int64
	err := d.db.QueryRow(
		`SELECT COALESCE(SUM(CASE WHEN direction = 'CREDIT' THEN amount ELSE -amount END), 0)
		 FROM ledger_entries`,
	).Scan(&skew)
	if err != nil {
		return fmt.Errorf("sum entries: %w", err)
	}
	if skew != 0 {
		return fmt.Errorf("ledger unbalanced: credits minus debits = %d", skew)
	}

	sum, err := d.SumBalances()
	if err != nil {
		return fmt.Errorf("sum balances: %w", err)
	}
	if sum != 0 {
		return fmt.Errorf("ledger unbalanced: account balances sum to %d", sum)
	}
	return nil
}

func scanLedgerEntry(s scanner) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var kind string
	var taskID, memo sql.NullString

	err := s.Scan(&e.ID, &e.Account, &e.Direction, &e.Amount, &e.Balance,
		&kind, &e.Pair, &taskID, &memo, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	e.Kind = domain.TransferKind(kind)
	e.TaskID = taskID.String
	e.Memo = memo.String
	return e, nil
}
