package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tally-network/tally/internal/domain"
)

// ─── Provider Repository ────────────────────────────────────────────────────

// SaveProviderTx upserts a provider snapshot and applies the accompanying
// ledger transfers in one transaction. Registration, top-ups and both
// withdrawal steps all funnel through here.
func (d *DB) SaveProviderTx(p domain.Provider, now time.Time, transfers ...domain.Transfer) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := applyTransfers(tx, now, transfers); err != nil {
		return err
	}
	if err := upsertProvider(tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveProvider upserts a provider snapshot with no ledger movement
// (status toggles).
func (d *DB) SaveProvider(p domain.Provider) error {
	return upsertProvider(d.db, p)
}

func upsertProvider(q execer, p domain.Provider) error {
	_, err := q.Exec(
		`INSERT INTO providers (id, status, reputation, pending_amount, ready_at, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			reputation=excluded.reputation,
			pending_amount=excluded.pending_amount,
			ready_at=excluded.ready_at,
			registered_at=excluded.registered_at`,
		p.ID, string(p.Status), p.ReputationScore, p.PendingWithdrawalAmount,
		nullableUnix(p.WithdrawalReadyAt), p.RegisteredAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert provider %s: %w", p.ID, err)
	}
	return nil
}

// LoadProviders returns every provider snapshot, for the startup rebuild.
func (d *DB) LoadProviders() ([]domain.Provider, error) {
	rows, err := d.db.Query(
		`SELECT id, status, reputation, pending_amount, ready_at, registered_at
		 FROM providers ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []domain.Provider
	for rows.Next() {
		var p domain.Provider
		var status string
		var readyAt sql.NullInt64
		var registeredAt int64
		if err := rows.Scan(&p.ID, &status, &p.ReputationScore,
			&p.PendingWithdrawalAmount, &readyAt, &registeredAt); err != nil {
			return nil, err
		}
		p.Status = domain.ProviderStatus(status)
		if readyAt.Valid {
			p.WithdrawalReadyAt = time.Unix(readyAt.Int64, 0)
		}
		p.RegisteredAt = time.Unix(registeredAt, 0)
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// SlashesFor returns a provider's slash history, newest first.
func (d *DB) SlashesFor(providerID string) ([]domain.SlashRecord, error) {
	rows, err := d.db.Query(
		`SELECT id, provider_id, task_id, amount, reason, slashed_at
		 FROM slashes WHERE provider_id = ? ORDER BY slashed_at DESC, id`,
		providerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.SlashRecord
	for rows.Next() {
		r, err := scanSlash(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func insertSlash(q execer, r domain.SlashRecord) error {
	_, err := q.Exec(
		`INSERT INTO slashes (id, provider_id, task_id, amount, reason, slashed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProviderID, r.TaskID, r.Amount, r.Reason, r.SlashedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert slash for %s: %w", r.ProviderID, err)
	}
	return nil
}

func scanSlash(s scanner) (domain.SlashRecord, error) {
	var r domain.SlashRecord
	var slashedAt int64
	if err := s.Scan(&r.ID, &r.ProviderID, &r.TaskID, &r.Amount, &r.Reason, &slashedAt); err != nil {
		return r, err
	}
	r.SlashedAt = time.Unix(slashedAt, 0)
	return r, nil
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
