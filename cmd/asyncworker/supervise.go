package main

import (
	"context"

	"github.com/aretw0/asyncworker/internal/cli"
	"github.com/spf13/cobra"
)

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Keep the configured runners listening",
	Long:  `Starts "listen" for every runner in supervisor.runners on supervisor.schedule, skipping runners still listening in this process.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")

		w, logger, err := cli.OpenWorker(runOptions(cmd))
		if err != nil {
			return err
		}
		defer w.Close()

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		return cli.RunSupervise(sigCtx, w, logger, once)
	},
}

func init() {
	rootCmd.AddCommand(superviseCmd)
	superviseCmd.Flags().Bool("once", false, "Start every runner once and wait for them")
}
