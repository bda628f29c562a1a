package domain

import (
	"fmt"
	"time"
)

// Params is the governance-owned economic configuration. The engine reads
// it, never writes it; tasks pin the rates they were created under.
type Params struct {
	MinimumProviderStake          int64         `json:"minimum_provider_stake"`
	WithdrawalSafetyPeriod        time.Duration `json:"withdrawal_safety_period"`
	DefaultNumericToleranceBps    int64         `json:"default_numeric_tolerance_bps"`
	DefaultCategoricalMajorityBps int64         `json:"default_categorical_majority_bps"`
	ProtocolFeeBps                int64         `json:"protocol_fee_bps"`
	SlashRateBps                  int64         `json:"slash_rate_bps"`
	MaxProvidersPerTask           int           `json:"max_providers_per_task"`
	MaxSubmissionWindow           time.Duration `json:"max_submission_window"`
}

// DefaultParams returns the stock economic configuration.
func DefaultParams() Params {
	return Params{
		MinimumProviderStake:          100 * AmountScale, // 100 units
		WithdrawalSafetyPeriod:        72 * time.Hour,
		DefaultNumericToleranceBps:    500,  // 5%
		DefaultCategoricalMajorityBps: 6000, // 60%
		ProtocolFeeBps:                250,  // 2.5%
		SlashRateBps:                  1000, // 10%
		MaxProvidersPerTask:           100,
		MaxSubmissionWindow:           30 * 24 * time.Hour,
	}
}

// Validate checks the parameter set for internal consistency.
func (p Params) Validate() error {
	if p.MinimumProviderStake <= 0 {
		return fmt.Errorf("minimum_provider_stake must be positive, got %d", p.MinimumProviderStake)
	}
	if p.WithdrawalSafetyPeriod <= 0 {
		return fmt.Errorf("withdrawal_safety_period must be positive, got %s", p.WithdrawalSafetyPeriod)
	}
	if p.DefaultNumericToleranceBps < 0 || p.DefaultNumericToleranceBps > BpsDenominator {
		return fmt.Errorf("default_numeric_tolerance_bps out of [0,%d]: %d", BpsDenominator, p.DefaultNumericToleranceBps)
	}
	if p.DefaultCategoricalMajorityBps < BpsDenominator/2 || p.DefaultCategoricalMajorityBps > BpsDenominator {
		return fmt.Errorf("default_categorical_majority_bps out of [%d,%d]: %d", BpsDenominator/2, BpsDenominator, p.DefaultCategoricalMajorityBps)
	}
	if p.ProtocolFeeBps < 0 || p.ProtocolFeeBps > BpsDenominator {
		return fmt.Errorf("protocol_fee_bps out of [0,%d]: %d", BpsDenominator, p.ProtocolFeeBps)
	}
	if p.SlashRateBps < 0 || p.SlashRateBps > BpsDenominator {
		return fmt.Errorf("slash_rate_bps out of [0,%d]: %d", BpsDenominator, p.SlashRateBps)
	}
	if p.MaxProvidersPerTask < 1 {
		return fmt.Errorf("max_providers_per_task must be at least 1, got %d", p.MaxProvidersPerTask)
	}
	if p.MaxSubmissionWindow <= 0 {
		return fmt.Errorf("max_submission_window must be positive, got %s", p.MaxSubmissionWindow)
	}
	return nil
}
