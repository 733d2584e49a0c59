package main

import (
	"fmt"
	"os"

	"github.com/aretw0/asyncworker/internal/cli"
	"github.com/aretw0/asyncworker/pkg/lifecycle"
	"github.com/spf13/cobra"
)

var runnerCmd = &cobra.Command{
	Use:   "runner",
	Short: "Inspect and recover runner records",
}

var runnerLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all runners",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		op, closeFn, err := openOperator(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		runners, err := op.List(cmd.Context())
		if err != nil {
			return err
		}
		return cli.PrintRunners(os.Stdout, runners)
	},
}

var runnerInspectCmd = &cobra.Command{
	Use:   "inspect <runner>",
	Short: "Print the record of a runner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, closeFn, err := openOperator(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		r, err := op.Inspect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return cli.PrintJSON(os.Stdout, r)
	},
}

var runnerShutdownCmd = &cobra.Command{
	Use:   "shutdown <runner>...",
	Short: "Ask runners to stop before their next iteration",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, closeFn, err := openOperator(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		for _, id := range args {
			if _, err := op.RequestShutdown(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Shutdown requested for '%s'\n", id)
		}
		return nil
	},
}

var runnerResetCmd = &cobra.Command{
	Use:   "reset <runner>...",
	Short: "Force runners back to idle",
	Long:  `Manual recovery for runners left in the timeout state when autorecover is off.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, closeFn, err := openOperator(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		for _, id := range args {
			if _, err := op.Reset(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset '%s'\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runnerCmd)
	runnerCmd.AddCommand(runnerLsCmd)
	runnerCmd.AddCommand(runnerInspectCmd)
	runnerCmd.AddCommand(runnerShutdownCmd)
	runnerCmd.AddCommand(runnerResetCmd)
}

func openOperator(cmd *cobra.Command) (*lifecycle.Operator, func(), error) {
	w, _, err := cli.OpenWorker(runOptions(cmd))
	if err != nil {
		return nil, nil, err
	}
	return w.Operator, func() { w.Close() }, nil
}
