package domain

import "time"

// ProviderStatus tracks a provider's lifecycle in the registry.
type ProviderStatus string

const (
	ProviderUnregistered      ProviderStatus = "UNREGISTERED"
	ProviderActive            ProviderStatus = "ACTIVE"
	ProviderDeactivated       ProviderStatus = "DEACTIVATED"
	ProviderPendingWithdrawal ProviderStatus = "PENDING_WITHDRAWAL"
)

// Reputation bounds. Scores saturate at both ends; settlement nudges the
// score by one per round in either direction.
const (
	ReputationFloor   int64 = 0
	ReputationCeiling int64 = 10_000
)

// ClampReputation bounds a score into [ReputationFloor, ReputationCeiling].
func ClampReputation(score int64) int64 {
	if score < ReputationFloor {
		return ReputationFloor
	}
	if score > ReputationCeiling {
		return ReputationCeiling
	}
	return score
}

// Provider is a registered result provider. Collateral is not duplicated
// here: the live balance of the provider's collateral account is the single
// source of truth, and surfaces that display it read the ledger.
type Provider struct {
	ID                      string         `json:"id"`
	Status                  ProviderStatus `json:"status"`
	ReputationScore         int64          `json:"reputation_score"`
	PendingWithdrawalAmount int64          `json:"pending_withdrawal_amount,omitempty"`
	WithdrawalReadyAt       time.Time      `json:"withdrawal_ready_at,omitempty"`
	RegisteredAt            time.Time      `json:"registered_at"`
}

// WithdrawalPending reports whether collateral is parked behind a cooldown.
// A provider with a pending withdrawal is ineligible for new tasks.
func (p *Provider) WithdrawalPending() bool {
	return p.PendingWithdrawalAmount > 0
}

// ReputationTier maps a bounded reputation score to a display tier.
// Thresholds follow a rough 4x ladder so early rounds move providers
// through the low tiers quickly.
func ReputationTier(score int64) string {
	switch {
	case score >= 6_400:
		return "veteran"
	case score >= 1_600:
		return "trusted"
	case score >= 400:
		return "established"
	case score >= 100:
		return "proven"
	case score >= 25:
		return "emerging"
	default:
		return "unproven"
	}
}

// SlashRecord is the auditable trace of one collateral slash.
type SlashRecord struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"provider_id"`
	TaskID     string    `json:"task_id"`
	Amount     int64     `json:"amount"`
	Reason     string    `json:"reason"`
	SlashedAt  time.Time `json:"slashed_at"`
}

// Slash reasons recorded on settlement.
const (
	SlashReasonOutsideBand  = "outside_tolerance_band"
	SlashReasonMinorityVote = "outside_majority_group"
)
