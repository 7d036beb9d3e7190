// Command enginectl is the Engine's operator CLI: it starts the long-running
// process (serve), applies schema migrations (migrate), and inspects ticket
// state (status, ticket). It replaces cmd/factory/main.go's single flag.Parse
// entrypoint with the cobra subcommand tree the broader corpus converges on
// (grounded in tim-coutinho-agentops/cli/cmd/ao's root.go).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "enginectl",
	Short: "Operate the ticket-orchestration engine",
	Long: `enginectl starts and inspects the ticket-orchestration engine: the
dispatcher, heartbeat/reaper, cascade, and sentinel review passes that take
tickets from draft to merged.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to engine config YAML (defaults layered with ENGINE_* env vars)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
