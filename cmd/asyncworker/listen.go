package main

import (
	"context"
	"os"

	"github.com/aretw0/asyncworker/internal/cli"
	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen <runner>",
	Short: "Run one polling window for a runner",
	Long: `Claims the runner, polls the queue until the jittered window ends and releases it.
Exits 0 for every lifecycle outcome, including "already listening" and "timed out".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := runOptions(cmd)
		opts.Passthru, _ = cmd.Flags().GetBool("passthru")

		w, _, err := cli.OpenWorker(opts)
		if err != nil {
			return err
		}
		defer w.Close()

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		return cli.RunListen(sigCtx, w, args[0], os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().BoolP("passthru", "p", false, "Print job output and notices to stdout")
}
