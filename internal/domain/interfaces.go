package domain

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// AccountLedger is the balance authority the engine settles against.
// Implemented by app/ledger over the sqlite double-entry store.
type AccountLedger interface {
	// Apply commits a batch of transfers atomically: either every transfer
	// lands or none do. Overdrafting any non-reserve source account fails
	// the batch with ErrInsufficientFunds.
	Apply(transfers ...Transfer) error

	// Balance returns the current balance of an account. Unknown accounts
	// have balance zero.
	Balance(account string) (int64, error)
}

// AuditSink receives one record per state-changing engine operation.
// Implemented by infra/audit (sqlite row + structured log event).
type AuditSink interface {
	Record(rec AuditRecord)
}
