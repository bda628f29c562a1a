package sqlite

import (
	"database/sql"
	"time"

	"github.com/tally-network/tally/internal/domain"
)

// ─── Audit Log ──────────────────────────────────────────────────────────────

// InsertAudit appends an audit record and returns its sequence number.
func (d *DB) InsertAudit(rec domain.AuditRecord) (int64, error) {
	res, err := d.db.Exec(
		`INSERT INTO audit_log (operation, entity_id, outcome, amount_moved, detail, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Operation, rec.EntityID, rec.Outcome, rec.AmountMoved,
		nullStr(rec.Detail), rec.At.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListAudit returns the newest audit records, most recent first.
func (d *DB) ListAudit(limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.Query(
		`SELECT seq, operation, entity_id, outcome, amount_moved, detail, at
		 FROM audit_log ORDER BY seq DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var r domain.AuditRecord
		var detail sql.NullString
		var at int64
		if err := rows.Scan(&r.Seq, &r.Operation, &r.EntityID, &r.Outcome,
			&r.AmountMoved, &detail, &at); err != nil {
			return nil, err
		}
		r.Detail = detail.String
		r.At = time.Unix(at, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}

// ─── Governance Parameter Overrides ─────────────────────────────────────────

// StoredParam is a parameter override persisted after a governance change.
type StoredParam struct {
	Value     string
	UpdatedAt time.Time
	ChangedBy string
}

// SaveParam persists a governance parameter override.
func (d *DB) SaveParam(key, value, changedBy string, now time.Time) error {
	_, err := d.db.Exec(
		`INSERT INTO params (key, value, updated_at, changed_by) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at,
			changed_by=excluded.changed_by`,
		key, value, now.Unix(), changedBy,
	)
	return err
}

// LoadParams returns all persisted parameter overrides.
func (d *DB) LoadParams() (map[string]StoredParam, error) {
	rows, err := d.db.Query(`SELECT key, value, updated_at, changed_by FROM params`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	params := make(map[string]StoredParam)
	for rows.Next() {
		var key string
		var p StoredParam
		var updatedAt int64
		if err := rows.Scan(&key, &p.Value, &updatedAt, &p.ChangedBy); err != nil {
			return nil, err
		}
		p.UpdatedAt = time.Unix(updatedAt, 0)
		params[key] = p
	}
	return params, rows.Err()
}
