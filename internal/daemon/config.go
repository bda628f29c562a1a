// Package daemon manages the tally daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tally-network/tally/internal/domain"
)

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	API       APIConfig       `toml:"api"`
	Staking   StakingConfig   `toml:"staking"`
	Consensus ConsensusConfig `toml:"consensus"`
	Fees      FeesConfig      `toml:"fees"`
	Limits    LimitsConfig    `toml:"limits"`
	Sweeper   SweeperConfig   `toml:"sweeper"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Logging   LoggingConfig   `toml:"logging"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID string `toml:"id"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	CORS bool   `toml:"cors"`
}

// StakingConfig controls provider collateral rules. Amounts are decimal
// unit strings, durations Go duration strings.
type StakingConfig struct {
	MinimumStake           string `toml:"minimum_stake"`
	WithdrawalSafetyPeriod string `toml:"withdrawal_safety_period"`
}

// ConsensusConfig holds the governance defaults for consensus evaluation.
type ConsensusConfig struct {
	DefaultNumericToleranceBps    int64 `toml:"default_numeric_tolerance_bps"`
	DefaultCategoricalMajorityBps int64 `toml:"default_categorical_majority_bps"`
}

// FeesConfig holds protocol fee and slash rates.
type FeesConfig struct {
	ProtocolFeeBps int64 `toml:"protocol_fee_bps"`
	SlashRateBps   int64 `toml:"slash_rate_bps"`
}

// LimitsConfig bounds requester-supplied task parameters.
type LimitsConfig struct {
	MaxProvidersPerTask int    `toml:"max_providers_per_task"`
	MaxSubmissionWindow string `toml:"max_submission_window"`
}

// SweeperConfig controls the background finalization loop.
type SweeperConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"`
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level     string `toml:"level"`
	JSON      bool   `toml:"json"`
	AuditFile string `toml:"audit_file"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := tallyHome()
	stock := domain.DefaultParams()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 9717,
			CORS: true,
		},
		Staking: StakingConfig{
			MinimumStake:           domain.FormatAmount(stock.MinimumProviderStake),
			WithdrawalSafetyPeriod: stock.WithdrawalSafetyPeriod.String(),
		},
		Consensus: ConsensusConfig{
			DefaultNumericToleranceBps:    stock.DefaultNumericToleranceBps,
			DefaultCategoricalMajorityBps: stock.DefaultCategoricalMajorityBps,
		},
		Fees: FeesConfig{
			ProtocolFeeBps: stock.ProtocolFeeBps,
			SlashRateBps:   stock.SlashRateBps,
		},
		Limits: LimitsConfig{
			MaxProvidersPerTask: stock.MaxProvidersPerTask,
			MaxSubmissionWindow: stock.MaxSubmissionWindow.String(),
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Interval: "5s",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			AuditFile: filepath.Join(homeDir, "audit.log"),
		},
	}
}

// Params converts the economic sections into a validated parameter set.
func (c Config) Params() (domain.Params, error) {
	minStake, err := domain.ParseAmount(c.Staking.MinimumStake)
	if err != nil {
		return domain.Params{}, fmt.Errorf("staking.minimum_stake: %w", err)
	}
	safety, err := time.ParseDuration(c.Staking.WithdrawalSafetyPeriod)
	if err != nil {
		return domain.Params{}, fmt.Errorf("staking.withdrawal_safety_period: %w", err)
	}
	maxWindow, err := time.ParseDuration(c.Limits.MaxSubmissionWindow)
	if err != nil {
		return domain.Params{}, fmt.Errorf("limits.max_submission_window: %w", err)
	}

	p := domain.Params{
		MinimumProviderStake:          minStake,
		WithdrawalSafetyPeriod:        safety,
		DefaultNumericToleranceBps:    c.Consensus.DefaultNumericToleranceBps,
		DefaultCategoricalMajorityBps: c.Consensus.DefaultCategoricalMajorityBps,
		ProtocolFeeBps:                c.Fees.ProtocolFeeBps,
		SlashRateBps:                  c.Fees.SlashRateBps,
		MaxProvidersPerTask:           c.Limits.MaxProvidersPerTask,
		MaxSubmissionWindow:           maxWindow,
	}
	if err := p.Validate(); err != nil {
		return domain.Params{}, fmt.Errorf("invalid parameters: %w", err)
	}
	return p, nil
}

// SweepInterval returns the configured sweep cadence.
func (c Config) SweepInterval() time.Duration {
	d, err := time.ParseDuration(c.Sweeper.Interval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// LoadConfig reads config from ~/.tally/config.toml, falling back to
// defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(tallyHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if _, err := cfg.Params(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.tally/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(tallyHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// tallyHome returns the tally data directory.
func tallyHome() string {
	if env := os.Getenv("TALLY_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tally")
}

// TallyHome is exported for use by other packages.
func TallyHome() string {
	return tallyHome()
}
