package domain

// Ledger account naming. Every balance in the system lives in exactly one
// account; account ids are stable strings so the ledger stays queryable
// without joins.
//
//	user:<id>        spendable balance of an external account
//	collateral:<id>  a provider's staked collateral
//	pending:<id>     collateral parked behind a withdrawal cooldown
//	escrow:<taskId>  a task's locked reward pool, drained at settlement
//	pool:protocol    protocol fees, division remainders, slashed collateral
//	pool:reserve     mint source for deposits; the only account allowed to
//	                 go negative, so the sum over all accounts is always zero
const (
	ProtocolPoolAccount = "pool:protocol"
	ReserveAccount      = "pool:reserve"
)

func UserAccount(id string) string       { return "user:" + id }
func CollateralAccount(id string) string { return "collateral:" + id }
func PendingAccount(id string) string    { return "pending:" + id }
func EscrowAccount(taskID string) string { return "escrow:" + taskID }

// TransferKind labels ledger entries by the operation that produced them.
type TransferKind string

const (
	TransferDeposit         TransferKind = "DEPOSIT"
	TransferStake           TransferKind = "STAKE"
	TransferWithdrawHold    TransferKind = "WITHDRAW_HOLD"
	TransferWithdrawRelease TransferKind = "WITHDRAW_RELEASE"
	TransferEscrowLock      TransferKind = "ESCROW_LOCK"
	TransferReward          TransferKind = "REWARD"
	TransferRefund          TransferKind = "REFUND"
	TransferFee             TransferKind = "FEE"
	TransferSlash           TransferKind = "SLASH"
)

// Transfer moves amount micro-units between two accounts. Transfers are
// applied in atomic batches; any overdraft of a non-reserve source account
// fails the whole batch.
type Transfer struct {
	From   string       `json:"from"`
	To     string       `json:"to"`
	Amount int64        `json:"amount"`
	Kind   TransferKind `json:"kind"`
	TaskID string       `json:"task_id,omitempty"`
	Memo   string       `json:"memo,omitempty"`
}

// LedgerEntry is one half of a double-entry pair as stored. Balance is the
// running balance of Account after this entry.
type LedgerEntry struct {
	ID        int64        `json:"id"`
	Account   string       `json:"account"`
	Direction string       `json:"direction"` // "DEBIT" or "CREDIT"
	Amount    int64        `json:"amount"`
	Balance   int64        `json:"balance"`
	Kind      TransferKind `json:"kind"`
	Pair      string       `json:"pair"` // counterparty account
	TaskID    string       `json:"task_id,omitempty"`
	Memo      string       `json:"memo,omitempty"`
	CreatedAt int64        `json:"created_at"` // unix seconds
}
