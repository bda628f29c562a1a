// Package audit implements the audit trail: one record per state-changing
// engine operation, success or failure.
//
// Every record lands twice: as a row in sqlite (queryable via API and CLI)
// and as one JSON line appended to the audit log file for external
// observers tailing the trail.
package audit

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/tally-network/tally/internal/domain"
	"github.com/tally-network/tally/internal/infra/sqlite"
)

// Trail persists audit records and mirrors them to a JSON log stream.
// It implements domain.AuditSink.
type Trail struct {
	db  *sqlite.DB
	log zerolog.Logger
}

// New creates an audit trail writing JSON lines to w. Pass io.Discard to
// keep only the sqlite copy.
func New(db *sqlite.DB, w io.Writer) *Trail {
	return &Trail{
		db: db,
		log: zerolog.New(w).With().
			Str("component", "audit").
			Logger(),
	}
}

// Record stores one audit record. Audit failures are logged but never fail
// the operation they describe; the operation's own transaction has already
// committed.
func (t *Trail) Record(rec domain.AuditRecord) {
	seq, err := t.db.InsertAudit(rec)
	if err != nil {
		t.log.Error().Err(err).
			Str("operation", rec.Operation).
			Msg("audit insert failed")
		seq = 0
	}

	evt := t.log.Info()
	if rec.Outcome != domain.AuditOutcomeOK {
		evt = t.log.Warn()
	}
	evt.Int64("seq", seq).
		Str("operation", rec.Operation).
		Str("entity", rec.EntityID).
		Str("outcome", rec.Outcome).
		Int64("amount_moved", rec.AmountMoved).
		Str("detail", rec.Detail).
		Time("at", rec.At).
		Msg("audit")
}

// List returns the newest audit records, most recent first.
func (t *Trail) List(limit int) ([]domain.AuditRecord, error) {
	return t.db.ListAudit(limit)
}
