package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tally-network/tally/internal/domain"
)

func init() {
	accountCmd.AddCommand(accountDepositCmd)
	accountCmd.AddCommand(accountShowCmd)
	rootCmd.AddCommand(accountCmd)
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage user account balances",
}

var accountDepositCmd = &cobra.Command{
	Use:   "deposit ACCOUNT AMOUNT",
	Short: "Mint funds into a user account (operator faucet)",
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

		if err := d.Engine.Deposit(args[0], amount); err != nil {
			return err
		}
		balance, err := d.Engine.Balance(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Deposited %s; balance of %s is now %s\n",
			domain.FormatAmount(amount), args[0], domain.FormatAmount(balance))
		return nil
	},
}

var accountShowCmd = &cobra.Command{
	Use:   "show ACCOUNT",
	Short: "Show a user account balance and recent ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		balance, err := d.Engine.Balance(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Account: %s\n", args[0])
		fmt.Printf("Balance: %s\n", domain.FormatAmount(balance))

		history, err := d.Engine.History(domain.UserAccount(args[0]), 20)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return nil
		}
		fmt.Println()
		w := newTable()
		fmt.Fprintln(w, "DIRECTION\tAMOUNT\tKIND\tCOUNTERPARTY\tBALANCE")
		for _, e := range history {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.Direction,
				domain.FormatAmount(e.Amount),
				e.Kind,
				e.Pair,
				domain.FormatAmount(e.Balance),
			)
		}
		return w.Flush()
	},
}
