package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tally-network/tally/internal/domain"
)

func init() {
	providerCmd.AddCommand(providerRegisterCmd)
	providerCmd.AddCommand(providerTopUpCmd)
	providerCmd.AddCommand(providerWithdrawCmd)
	providerCmd.AddCommand(providerCompleteWithdrawalCmd)
	providerCmd.AddCommand(providerActivateCmd)
	providerCmd.AddCommand(providerDeactivateCmd)
	providerCmd.AddCommand(providerShowCmd)
	providerCmd.AddCommand(providerListCmd)
	rootCmd.AddCommand(providerCmd)
}

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Manage registered providers and their stakes",
}

var providerRegisterCmd = &cobra.Command{
	Use:   "register PROVIDER STAKE",
	Short: "Register a provider with an initial collateral stake",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stake, err := parseAmountArg("stake", args[1])
		if err != nil {
			return err
		}

		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		p, err := d.Engine.RegisterProvider(args[0], stake)
		if err != nil {
			return err
		}
		fmt.Printf("Registered %s with %s staked\n", p.ID, domain.FormatAmount(stake))
		return nil
	},
}

var providerTopUpCmd = &cobra.Command{
	Use:   "topup PROVIDER AMOUNT",
	Short: "Add collateral to an existing provider",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmountArg("amount", args[1])
		if err != nil {
			return err
		}

		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		if _, err := d.Engine.TopUpStake(args[0], amount); err != nil {
			return err
		}
		collateral, err := d.Engine.CollateralOf(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Collateral of %s is now %s\n", args[0], domain.FormatAmount(collateral))
		return nil
	},
}

var providerWithdrawCmd = &cobra.Command{
	Use:   "withdraw PROVIDER AMOUNT",
	Short: "Initiate a collateral withdrawal (subject to the safety period)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmountArg("amount", args[1])
		if err != nil {
			return err
		}

		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		p, err := d.Engine.InitiateWithdrawal(args[0], amount)
		if err != nil {
			return err
		}
		fmt.Printf("Withdrawal of %s pending; ready at %s\n",
			domain.FormatAmount(amount), p.WithdrawalReadyAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

var providerCompleteWithdrawalCmd = &cobra.Command{
	Use:   "complete-withdrawal PROVIDER",
	Short: "Release a matured withdrawal to the provider's account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		p, released, err := d.Engine.CompleteWithdrawal(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Released %s to %s (status %s)\n",
			domain.FormatAmount(released), args[0], p.Status)
		return nil
	},
}

var providerActivateCmd = &cobra.Command{
	Use:   "activate PROVIDER",
	Short: "Mark a provider eligible for new tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setProviderActive(args[0], true) },
}

var providerDeactivateCmd = &cobra.Command{
	Use:   "deactivate PROVIDER",
	Short: "Make a provider ineligible for new tasks (collateral stays)",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setProviderActive(args[0], false) },
}

func setProviderActive(id string, active bool) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	p, err := d.Engine.SetProviderActive(id, active)
	if err != nil {
		return err
	}
	fmt.Printf("Provider %s is now %s\n", p.ID, p.Status)
	return nil
}

var providerShowCmd = &cobra.Command{
	Use:   "show PROVIDER",
	Short: "Show a provider's record, balances and slash history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		p, err := d.Engine.GetProvider(args[0])
		if err != nil {
			return err
		}
		collateral, err := d.Engine.CollateralOf(p.ID)
		if err != nil {
			return err
		}
		pending, err := d.Engine.PendingOf(p.ID)
		if err != nil {
			return err
		}

		fmt.Printf("ID:          %s\n", p.ID)
		fmt.Printf("Status:      %s\n", p.Status)
		fmt.Printf("Collateral:  %s\n", domain.FormatAmount(collateral))
		if pending > 0 {
			fmt.Printf("Pending:     %s (ready %s)\n",
				domain.FormatAmount(pending), p.WithdrawalReadyAt.Format("2006-01-02 15:04:05 MST"))
		}
		fmt.Printf("Reputation:  %d (%s)\n", p.ReputationScore, domain.ReputationTier(p.ReputationScore))
		fmt.Printf("Registered:  %s\n", p.RegisteredAt.Format("2006-01-02 15:04:05"))

		slashes, err := d.Engine.SlashesFor(p.ID)
		if err != nil {
			return err
		}
		if len(slashes) == 0 {
			return nil
		}
		fmt.Println("\nSlashes:")
		w := newTable()
		fmt.Fprintln(w, "TASK\tAMOUNT\tREASON\tAT")
		for _, s := range slashes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				s.TaskID, domain.FormatAmount(s.Amount), s.Reason,
				s.SlashedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var providerListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		providers := d.Engine.ListProviders()
		if len(providers) == 0 {
			fmt.Printf("No providers registered. Run '%s provider register <id> <stake>' to start.\n",
				rootCmd.Use)
			return nil
		}

		w := newTable()
		fmt.Fprintln(w, "ID\tSTATUS\tCOLLATERAL\tREPUTATION\tTIER")
		for _, p := range providers {
			collateral, err := d.Engine.CollateralOf(p.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				p.ID, p.Status, domain.FormatAmount(collateral),
				p.ReputationScore, domain.ReputationTier(p.ReputationScore))
		}
		return w.Flush()
	},
}
