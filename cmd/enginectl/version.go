package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("enginectl %s (commit: %s, built: %s)\n", version, gitCommit, buildTime)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
