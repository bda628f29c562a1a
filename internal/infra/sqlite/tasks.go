package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tally-network/tally/internal/domain"
)

// ─── Task Repository ────────────────────────────────────────────────────────

// CreateTaskTx inserts a task and locks its escrow in one transaction.
// If the requester cannot fund the escrow the task is never stored.
func (d *DB) CreateTaskTx(t domain.Task, now time.Time, transfers ...domain.Transfer) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := applyTransfers(tx, now, transfers); err != nil {
		return err
	}
	if err := upsertTask(tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveTaskTx updates a task snapshot together with its ledger movements
// (cancellation refunds).
func (d *DB) SaveTaskTx(t domain.Task, now time.Time, transfers ...domain.Transfer) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := applyTransfers(tx, now, transfers); err != nil {
		return err
	}
	if err := upsertTask(tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

// FinalizeTaskTx commits an entire settlement atomically: escrow payouts,
// slashes, verdict updates, provider snapshots, slash records and the
// terminal task row. A failure anywhere rolls the whole round back and the
// task stays Open.
func (d *DB) FinalizeTaskTx(t domain.Task, subs []domain.Submission,
	transfers []domain.Transfer, slashes []domain.SlashRecord,
	providers []domain.Provider, now time.Time) error {

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := applyTransfers(tx, now, transfers); err != nil {
		return err
	}
	if err := upsertTask(tx, t); err != nil {
		return err
	}
	for _, s := range subs {
		if _, err := tx.Exec(
			`UPDATE submissions SET verdict = ? WHERE task_id = ? AND provider_id = ?`,
			string(s.Verdict), s.TaskID, s.ProviderID,
		); err != nil {
			return fmt.Errorf("update verdict %s/%s: %w", s.TaskID, s.ProviderID, err)
		}
	}
	for _, r := range slashes {
		if err := insertSlash(tx, r); err != nil {
			return err
		}
	}
	for _, p := range providers {
		if err := upsertProvider(tx, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertTask(q execer, t domain.Task) error {
	_, err := q.Exec(
		`INSERT INTO tasks (id, requester, kind, input_ref, input_digest, min_providers,
			required_stake, reward_per_provider, deadline, status, final_result,
			tolerance_bps, majority_bps, fee_bps, slash_bps, total_escrow,
			created_at, finalized_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			final_result=excluded.final_result,
			finalized_at=excluded.finalized_at`,
		t.ID, t.Requester, string(t.Kind), nullStr(t.InputRef), nullStr(t.InputDigest),
		t.MinProviders, t.RequiredProviderStake, t.RewardPerProvider,
		t.SubmissionDeadline.Unix(), string(t.Status), nullStr(t.FinalResult),
		t.NumericToleranceBps, t.CategoricalMajorityBps, t.ProtocolFeeBps,
		t.SlashRateBps, t.TotalEscrow, t.CreatedAt.Unix(), nullableUnix(t.FinalizedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return nil
}

// InsertSubmission stores one provider answer with a Pending verdict.
func (d *DB) InsertSubmission(s domain.Submission) error {
	_, err := d.db.Exec(
		`INSERT INTO submissions (task_id, provider_id, payload, numeric_value, digest, verdict, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.TaskID, s.ProviderID, s.Payload, s.NumericValue, s.Digest,
		string(s.Verdict), s.SubmittedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert submission %s/%s: %w", s.TaskID, s.ProviderID, err)
	}
	return nil
}

// LoadTasks returns every task row, for the startup rebuild.
func (d *DB) LoadTasks() ([]domain.Task, error) {
	rows, err := d.db.Query(
		`SELECT id, requester, kind, input_ref, input_digest, min_providers,
			required_stake, reward_per_provider, deadline, status, final_result,
			tolerance_bps, majority_bps, fee_bps, slash_bps, total_escrow,
			created_at, finalized_at
		 FROM tasks ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// LoadSubmissions returns every submission in arrival order, for the
// startup rebuild.
func (d *DB) LoadSubmissions() ([]domain.Submission, error) {
	rows, err := d.db.Query(
		`SELECT task_id, provider_id, payload, numeric_value, digest, verdict, submitted_at
		 FROM submissions ORDER BY rowid`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Submission
	for rows.Next() {
		var s domain.Submission
		var verdict string
		var numeric sql.NullInt64
		var submittedAt int64
		if err := rows.Scan(&s.TaskID, &s.ProviderID, &s.Payload, &numeric,
			&s.Digest, &verdict, &submittedAt); err != nil {
			return nil, err
		}
		s.NumericValue = numeric.Int64
		s.Verdict = domain.Verdict(verdict)
		s.SubmittedAt = time.Unix(submittedAt, 0)
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func scanTask(s scanner) (domain.Task, error) {
	var t domain.Task
	var kind, status string
	var inputRef, inputDigest, finalResult sql.NullString
	var deadline, createdAt int64
	var finalizedAt sql.NullInt64

	err := s.Scan(&t.ID, &t.Requester, &kind, &inputRef, &inputDigest,
		&t.MinProviders, &t.RequiredProviderStake, &t.RewardPerProvider,
		&deadline, &status, &finalResult, &t.NumericToleranceBps,
		&t.CategoricalMajorityBps, &t.ProtocolFeeBps, &t.SlashRateBps,
		&t.TotalEscrow, &createdAt, &finalizedAt)
	if err != nil {
		return t, err
	}

	t.Kind = domain.TaskKind(kind)
	t.Status = domain.TaskStatus(status)
	t.InputRef = inputRef.String
	t.InputDigest = inputDigest.String
	t.FinalResult = finalResult.String
	t.SubmissionDeadline = time.Unix(deadline, 0)
	t.CreatedAt = time.Unix(createdAt, 0)
	if finalizedAt.Valid {
		t.FinalizedAt = time.Unix(finalizedAt.Int64, 0)
	}
	return t, nil
}
