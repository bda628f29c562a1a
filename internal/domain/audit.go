package domain

import "time"

// Operation names as they appear in audit records and metrics labels.
const (
	OpDeposit             = "deposit"
	OpRegisterProvider    = "register_provider"
	OpTopUpStake          = "topup_stake"
	OpInitiateWithdrawal  = "initiate_withdrawal"
	OpCompleteWithdrawal  = "complete_withdrawal"
	OpSetProviderActive   = "set_provider_active"
	OpRequestTask         = "request_task"
	OpSubmitResult        = "submit_result"
	OpCancelTask          = "cancel_task"
	OpFinalizeTask        = "finalize_task"
)

// AuditOutcomeOK marks a successful operation; failed operations carry
// their error class instead.
const AuditOutcomeOK = "ok"

// AuditRecord is the per-operation audit trail entry. Every state-changing
// engine operation emits exactly one, success or failure.
type AuditRecord struct {
	Seq         int64     `json:"seq"`
	Operation   string    `json:"operation"`
	EntityID    string    `json:"entity_id"`
	Outcome     string    `json:"outcome"`
	AmountMoved int64     `json:"amount_moved"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}
