// Package sqlite provides SQLite-based persistent storage for tally.
// Uses WAL mode for concurrent reads and crash-safe writes.
//
// All multi-table writes go through composite transactional methods here:
// a mutating engine operation commits its ledger entries and its record
// snapshots in one transaction, so the store can never hold a half-settled
// round.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Double-entry ledger. Every transfer writes a DEBIT and a CREDIT
		// row; balance is the running balance of account after the entry.
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			kind       TEXT NOT NULL,
			direction  TEXT NOT NULL,
			account    TEXT NOT NULL,
			pair       TEXT NOT NULL,
			amount     INTEGER NOT NULL,
			balance    INTEGER NOT NULL,
			task_id    TEXT,
			memo       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(account, id)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_task ON ledger_entries(task_id)`,

		// Provider registry snapshots (collateral lives in the ledger)
		`CREATE TABLE IF NOT EXISTS providers (
			id             TEXT PRIMARY KEY,
			status         TEXT NOT NULL,
			reputation     INTEGER NOT NULL DEFAULT 0,
			pending_amount INTEGER NOT NULL DEFAULT 0,
			ready_at       INTEGER,
			registered_at  INTEGER NOT NULL
		)`,

		// Consensus rounds
		`CREATE TABLE IF NOT EXISTS tasks (
			id                  TEXT PRIMARY KEY,
			requester           TEXT NOT NULL,
			kind                TEXT NOT NULL,
			input_ref           TEXT,
			input_digest        TEXT,
			min_providers       INTEGER NOT NULL,
			required_stake      INTEGER NOT NULL,
			reward_per_provider INTEGER NOT NULL,
			deadline            INTEGER NOT NULL,
			status              TEXT NOT NULL,
			final_result        TEXT,
			tolerance_bps       INTEGER NOT NULL,
			majority_bps        INTEGER NOT NULL,
			fee_bps             INTEGER NOT NULL,
			slash_bps           INTEGER NOT NULL,
			total_escrow        INTEGER NOT NULL,
			created_at          INTEGER NOT NULL,
			finalized_at        INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at)`,

		// One row per provider answer; verdicts written at settlement
		`CREATE TABLE IF NOT EXISTS submissions (
			task_id       TEXT NOT NULL,
			provider_id   TEXT NOT NULL,
			payload       TEXT NOT NULL,
			numeric_value INTEGER,
			digest        TEXT NOT NULL,
			verdict       TEXT NOT NULL,
			submitted_at  INTEGER NOT NULL,
			PRIMARY KEY (task_id, provider_id)
		)`,

		// Collateral slashes, indexed for per-provider history
		`CREATE TABLE IF NOT EXISTS slashes (
			id          TEXT PRIMARY KEY,
			provider_id TEXT NOT NULL,
			task_id     TEXT NOT NULL,
			amount      INTEGER NOT NULL,
			reason      TEXT NOT NULL,
			slashed_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_slashes_provider ON slashes(provider_id)`,

		// One audit row per state-changing operation, success or failure
		`CREATE TABLE IF NOT EXISTS audit_log (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			operation    TEXT NOT NULL,
			entity_id    TEXT NOT NULL,
			outcome      TEXT NOT NULL,
			amount_moved INTEGER NOT NULL DEFAULT 0,
			detail       TEXT,
			at           INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_log(at)`,

		// Governance parameter overrides applied after first boot
		`CREATE TABLE IF NOT EXISTS params (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			changed_by TEXT NOT NULL DEFAULT ''
		)`,

		// Node metadata key-value store
		`CREATE TABLE IF NOT EXISTS node_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Node Info ──────────────────────────────────────────────────────────────

// SetNodeInfo stores a key-value pair in node_info.
func (d *DB) SetNodeInfo(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO node_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetNodeInfo retrieves a value from node_info.
func (d *DB) GetNodeInfo(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM node_info WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
