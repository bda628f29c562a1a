package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tally-network/tally/internal/domain"
)

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum number of records shown")
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(paramsCmd)
}

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit trail, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		records, err := d.Trail.List(auditLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No audit records.")
			return nil
		}

		w := newTable()
		fmt.Fprintln(w, "SEQ\tAT\tOPERATION\tENTITY\tOUTCOME\tAMOUNT\tDETAIL")
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.Seq, r.At.Format("2006-01-02 15:04:05"),
				r.Operation, r.EntityID, r.Outcome,
				domain.FormatAmount(r.AmountMoved), r.Detail)
		}
		return w.Flush()
	},
}

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Show the governance parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		w := newTable()
		fmt.Fprintln(w, "KEY\tVALUE\tCATEGORY\tDESCRIPTION")
		for _, p := range d.Params.List() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Key, p.Value, p.Category, p.Description)
		}
		return w.Flush()
	},
}
