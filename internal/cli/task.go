package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tally-network/tally/internal/domain"
)

func init() {
	taskRequestCmd.Flags().StringVar(&taskRequester, "requester", "", "Requester account (required)")
	taskRequestCmd.Flags().StringVar(&taskKind, "kind", "NUMERIC", "Task kind: NUMERIC or CATEGORICAL")
	taskRequestCmd.Flags().StringVar(&taskInputRef, "input", "", "Opaque input reference")
	taskRequestCmd.Flags().IntVar(&taskMinProviders, "min-providers", 3, "Submissions required to evaluate consensus")
	taskRequestCmd.Flags().StringVar(&taskStake, "stake", "", "Collateral a provider must hold to participate")
	taskRequestCmd.Flags().StringVar(&taskReward, "reward", "", "Reward per provider (required)")
	taskRequestCmd.Flags().StringVar(&taskWindow, "window", "1h", "Submission window, e.g. 30m, 2h")
	taskRequestCmd.Flags().Int64Var(&taskToleranceBps, "tolerance-bps", -1, "Numeric tolerance override in bps")
	taskRequestCmd.Flags().Int64Var(&taskMajorityBps, "majority-bps", -1, "Categorical majority override in bps")
	taskRequestCmd.MarkFlagRequired("requester")
	taskRequestCmd.MarkFlagRequired("reward")

	taskCancelCmd.Flags().StringVar(&taskCaller, "caller", "", "Requester cancelling the task (required)")
	taskCancelCmd.MarkFlagRequired("caller")

	taskListCmd.Flags().StringVar(&taskListStatus, "status", "", "Filter by status (OPEN, COMPLETED, FAILED, CANCELLED)")
	taskListCmd.Flags().IntVar(&taskListLimit, "limit", 20, "Maximum number of tasks shown")

	taskCmd.AddCommand(taskRequestCmd)
	taskCmd.AddCommand(taskSubmitCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskFinalizeCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskListCmd)
	rootCmd.AddCommand(taskCmd)
}

var (
	taskRequester    string
	taskKind         string
	taskInputRef     string
	taskMinProviders int
	taskStake        string
	taskReward       string
	taskWindow       string
	taskToleranceBps int64
	taskMajorityBps  int64
	taskCaller       string
	taskListStatus   string
	taskListLimit    int
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Request, answer and settle consensus tasks",
}

var taskRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Create a task, escrowing rewards plus the protocol fee",
	RunE: func(cmd *cobra.Command, args []string) error {
		reward, err := parseAmountArg("reward", taskReward)
		if err != nil {
			return err
		}
		var requiredStake int64
		if taskStake != "" {
			requiredStake, err = parseAmountArg("stake", taskStake)
			if err != nil {
				return err
			}
		}
		window, err := time.ParseDuration(taskWindow)
		if err != nil {
			return fmt.Errorf("window: %w", err)
		}

		spec := domain.TaskSpec{
			Kind:                  domain.TaskKind(taskKind),
			InputRef:              taskInputRef,
			MinProviders:          taskMinProviders,
			RequiredProviderStake: requiredStake,
			RewardPerProvider:     reward,
			SubmissionWindow:      window,
		}
		if taskToleranceBps >= 0 {
			v := taskToleranceBps
			spec.NumericToleranceBps = &v
		}
		if taskMajorityBps >= 0 {
			v := taskMajorityBps
			spec.CategoricalMajorityBps = &v
		}

		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		task, err := d.Engine.RequestTask(taskRequester, spec)
		if err != nil {
			return err
		}
		fmt.Printf("Task %s created\n", task.ID)
		fmt.Printf("Escrow:   %s (%s reward x %d + fee)\n",
			domain.FormatAmount(task.TotalEscrow), domain.FormatAmount(reward), task.MinProviders)
		fmt.Printf("Deadline: %s\n", task.SubmissionDeadline.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit TASK PROVIDER PAYLOAD",
	Short: "Submit a provider's result for an open task",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		sub, err := d.Engine.SubmitResult(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("Submission by %s recorded at %s\n",
			sub.ProviderID, sub.SubmittedAt.Format("15:04:05"))
		return nil
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel TASK",
	Short: "Cancel an open task with no submissions (fee is kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		task, err := d.Engine.CancelTask(args[0], taskCaller)
		if err != nil {
			return err
		}
		fmt.Printf("Task %s cancelled; %s refunded\n",
			task.ID, domain.FormatAmount(task.TotalEscrow-task.ProtocolFee()))
		return nil
	},
}

var taskFinalizeCmd = &cobra.Command{
	Use:   "finalize TASK",
	Short: "Settle a task whose submission deadline has passed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		task, err := d.Engine.FinalizeTask(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Task %s is %s", task.ID, task.Status)
		if task.FinalResult != "" {
			fmt.Printf(", result %s", task.FinalResult)
		}
		fmt.Println()
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show TASK",
	Short: "Show a task and its submissions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		task, err := d.Engine.GetTask(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID:         %s\n", task.ID)
		fmt.Printf("Requester:  %s\n", task.Requester)
		fmt.Printf("Kind:       %s\n", task.Kind)
		if task.InputRef != "" {
			fmt.Printf("Input:      %s\n", task.InputRef)
		}
		fmt.Printf("Status:     %s\n", task.Status)
		fmt.Printf("Escrow:     %s\n", domain.FormatAmount(task.TotalEscrow))
		fmt.Printf("Providers:  %d required, stake %s\n",
			task.MinProviders, domain.FormatAmount(task.RequiredProviderStake))
		fmt.Printf("Deadline:   %s\n", task.SubmissionDeadline.Format("2006-01-02 15:04:05 MST"))
		if task.FinalResult != "" {
			fmt.Printf("Result:     %s\n", task.FinalResult)
		}

		subs, err := d.Engine.Submissions(task.ID)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			return nil
		}
		fmt.Println("\nSubmissions:")
		w := newTable()
		fmt.Fprintln(w, "PROVIDER\tPAYLOAD\tVERDICT\tAT")
		for _, s := range subs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				s.ProviderID, s.Payload, s.Verdict, s.SubmittedAt.Format("15:04:05"))
		}
		return w.Flush()
	},
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		tasks := d.Engine.ListTasks(domain.TaskStatus(taskListStatus), taskListLimit)
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}

		w := newTable()
		fmt.Fprintln(w, "ID\tKIND\tSTATUS\tESCROW\tDEADLINE\tRESULT")
		for _, task := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				task.ID, task.Kind, task.Status,
				domain.FormatAmount(task.TotalEscrow),
				task.SubmissionDeadline.Format("2006-01-02 15:04"),
				task.FinalResult)
		}
		return w.Flush()
	},
}
