package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/tally-network/tally/internal/daemon"
)

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the daemon configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config.toml to the tally home",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(daemon.TallyHome(), "config.toml")
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := daemon.SaveConfig(daemon.DefaultConfig()); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := daemon.LoadConfig()
		if err != nil {
			return err
		}
		return toml.NewEncoder(os.Stdout).Encode(cfg)
	},
}
