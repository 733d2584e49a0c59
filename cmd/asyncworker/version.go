package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/asyncworker"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of asyncworker",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("asyncworker version %s\n", strings.TrimSpace(asyncworker.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
