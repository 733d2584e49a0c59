package main

import (
	"fmt"
	"os"

	"github.com/aretw0/asyncworker/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "asyncworker",
	Short: "asyncworker keeps a fleet of job runners alive",
	Long: `asyncworker runs bounded polling windows for named runners and recovers
runners abandoned by crashed processes. Schedule "asyncworker listen <runner>"
from cron, or let "asyncworker supervise" do it.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

func runOptions(cmd *cobra.Command) cli.RunOptions {
	configPath, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")
	return cli.RunOptions{
		ConfigPath: configPath,
		Debug:      debug,
	}
}
