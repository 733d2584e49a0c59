package main

import (
	"context"
	"os"

	"github.com/aretw0/asyncworker/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status HTTP server",
	Long:  `Exposes runner records, queue statistics, Prometheus metrics and a transition stream over HTTP.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		supervise, _ := cmd.Flags().GetBool("supervise")

		w, logger, err := cli.OpenWorker(runOptions(cmd))
		if err != nil {
			return err
		}
		defer w.Close()

		addr := w.Config.HTTP.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		return cli.RunServe(sigCtx, w, logger, addr, supervise, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", ":8080", "Address to listen on (overrides http.addr)")
	serveCmd.Flags().Bool("supervise", false, "Also keep the configured runners listening")
}
