package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tally-network/tally/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 9717 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 9717)
	}
	if !cfg.Sweeper.Enabled {
		t.Error("Sweeper.Enabled = false, want true")
	}

	// The defaults round-trip into a valid parameter set matching stock.
	p, err := cfg.Params()
	if err != nil {
		t.Fatalf("Params() error: %v", err)
	}
	if p != domain.DefaultParams() {
		t.Errorf("Params() = %+v, want stock defaults", p)
	}
}

func TestConfigParams_Validation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad stake amount", func(c *Config) { c.Staking.MinimumStake = "lots" }},
		{"zero stake", func(c *Config) { c.Staking.MinimumStake = "0" }},
		{"bad safety period", func(c *Config) { c.Staking.WithdrawalSafetyPeriod = "soon" }},
		{"tolerance above denominator", func(c *Config) { c.Consensus.DefaultNumericToleranceBps = 10_001 }},
		{"majority below half", func(c *Config) { c.Consensus.DefaultCategoricalMajorityBps = 4_999 }},
		{"fee above denominator", func(c *Config) { c.Fees.ProtocolFeeBps = 10_001 }},
		{"zero max providers", func(c *Config) { c.Limits.MaxProvidersPerTask = 0 }},
		{"bad max window", func(c *Config) { c.Limits.MaxSubmissionWindow = "whenever" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if _, err := cfg.Params(); err == nil {
				t.Error("Params() accepted an invalid config")
			}
		})
	}
}

func TestSweepInterval(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.SweepInterval(); got != 5*time.Second {
		t.Errorf("SweepInterval() = %s, want 5s", got)
	}
	cfg.Sweeper.Interval = "30s"
	if got := cfg.SweepInterval(); got != 30*time.Second {
		t.Errorf("SweepInterval() = %s, want 30s", got)
	}
	// Malformed intervals fall back rather than disabling the sweeper.
	cfg.Sweeper.Interval = "often"
	if got := cfg.SweepInterval(); got != 5*time.Second {
		t.Errorf("SweepInterval() fallback = %s, want 5s", got)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	t.Setenv("TALLY_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.API.Port = 9800
	cfg.Staking.MinimumStake = "250"
	cfg.Node.ID = "node-test"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(TallyHome(), "config.toml")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if loaded.API.Port != 9800 || loaded.Node.ID != "node-test" {
		t.Errorf("loaded = port %d node %q, want 9800/node-test", loaded.API.Port, loaded.Node.ID)
	}
	p, err := loaded.Params()
	if err != nil {
		t.Fatalf("Params() error: %v", err)
	}
	if p.MinimumProviderStake != 250*domain.AmountScale {
		t.Errorf("MinimumProviderStake = %d, want %d", p.MinimumProviderStake, 250*domain.AmountScale)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	t.Setenv("TALLY_HOME", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.API.Port != 9717 {
		t.Errorf("missing file should yield defaults, got port %d", cfg.API.Port)
	}
}
