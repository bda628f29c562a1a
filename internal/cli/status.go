package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tally-network/tally/internal/domain"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state, health and economics at a glance",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	stats, err := d.Engine.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("Node:             %s\n", d.NodeID)
	fmt.Printf("Providers:        %d active / %d total\n", stats.ProvidersActive, stats.ProvidersTotal)
	fmt.Printf("Tasks:            %d open, %d completed, %d failed, %d cancelled\n",
		stats.TasksOpen, stats.TasksCompleted, stats.TasksFailed, stats.TasksCancelled)
	fmt.Printf("Total staked:     %s\n", domain.FormatAmount(stats.TotalStaked))
	fmt.Printf("Protocol pool:    %s\n", domain.FormatAmount(stats.ProtocolPool))

	d.Health.RunAll(context.Background())
	fmt.Println("Health:")
	for _, s := range d.Health.Statuses() {
		state := "ok"
		if !s.Healthy {
			state = "FAIL: " + s.Error
		}
		fmt.Printf("  %-16s %s\n", s.Name, state)
	}
	return nil
}
