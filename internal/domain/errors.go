package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. They are grouped
// into five classes (see Classify) which the API maps onto HTTP statuses.

var (
	// Ledger errors
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidID         = errors.New("invalid identifier")

	// Provider registry errors
	ErrProviderNotFound     = errors.New("provider not found")
	ErrAlreadyRegistered    = errors.New("provider already registered")
	ErrStakeTooLow          = errors.New("stake below minimum provider stake")
	ErrStakeRemainderTooLow = errors.New("remaining collateral would fall below minimum stake")
	ErrWithdrawalPending    = errors.New("a withdrawal is already pending")
	ErrNoPendingWithdrawal  = errors.New("no withdrawal pending")
	ErrWithdrawalLocked     = errors.New("withdrawal still inside safety period")
	ErrProviderNotEligible  = errors.New("provider not eligible for this task")

	// Task errors
	ErrTaskNotFound        = errors.New("task not found")
	ErrInvalidTaskSpec     = errors.New("task parameters failed validation")
	ErrTaskNotOpen         = errors.New("task is not open")
	ErrAlreadyFinalized    = errors.New("task already reached a terminal state")
	ErrTooEarly            = errors.New("submission window still open")
	ErrDeadlinePassed      = errors.New("submission deadline has passed")
	ErrDuplicateSubmission = errors.New("provider already submitted for this task")
	ErrNotRequester        = errors.New("only the requester may cancel a task")
	ErrHasSubmissions      = errors.New("task already has submissions")
	ErrInvalidPayload      = errors.New("result payload failed validation")
)

// ErrorClass partitions domain errors for transport mapping and audit
// outcome codes.
type ErrorClass string

const (
	ClassValidation ErrorClass = "validation"
	ClassNotFound   ErrorClass = "not_found"
	ClassState      ErrorClass = "state"
	ClassFunds      ErrorClass = "funds"
	ClassLocked     ErrorClass = "locked"
	ClassInternal   ErrorClass = "internal"
)

// Classify maps an error chain onto its domain class. Unrecognized errors
// classify as internal.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidTaskSpec),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrStakeTooLow),
		errors.Is(err, ErrStakeRemainderTooLow),
		errors.Is(err, ErrNotRequester):
		return ClassValidation
	case errors.Is(err, ErrProviderNotFound),
		errors.Is(err, ErrTaskNotFound):
		return ClassNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return ClassFunds
	case errors.Is(err, ErrWithdrawalLocked):
		return ClassLocked
	case errors.Is(err, ErrAlreadyRegistered),
		errors.Is(err, ErrWithdrawalPending),
		errors.Is(err, ErrNoPendingWithdrawal),
		errors.Is(err, ErrProviderNotEligible),
		errors.Is(err, ErrTaskNotOpen),
		errors.Is(err, ErrAlreadyFinalized),
		errors.Is(err, ErrTooEarly),
		errors.Is(err, ErrDeadlinePassed),
		errors.Is(err, ErrDuplicateSubmission),
		errors.Is(err, ErrHasSubmissions):
		return ClassState
	default:
		return ClassInternal
	}
}
