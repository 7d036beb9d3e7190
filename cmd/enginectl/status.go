package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forgelabs/engine/internal/config"
	"github.com/forgelabs/engine/internal/store/postgres"
	"github.com/forgelabs/engine/internal/ticket"
)

var allStates = []ticket.State{
	ticket.StateDraft,
	ticket.StateReady,
	ticket.StateBlocked,
	ticket.StateInProgress,
	ticket.StateVerifying,
	ticket.StateInReview,
	ticket.StateReviewing,
	ticket.StateNeedsReview,
	ticket.StateMerged,
	ticket.StateDone,
	ticket.StateCancelled,
	ticket.StateSentinelFailed,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ticket counts by lifecycle state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("enginectl: load config: %w", err)
		}

		store, err := postgres.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("enginectl: connect to database: %w", err)
		}
		defer store.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "STATE\tCOUNT")
		total := 0
		for _, state := range allStates {
			tickets, err := store.GetTicketsByState(cmd.Context(), state)
			if err != nil {
				return fmt.Errorf("enginectl: query state %s: %w", state, err)
			}
			fmt.Fprintf(w, "%s\t%d\n", state, len(tickets))
			total += len(tickets)
		}
		fmt.Fprintf(w, "total\t%d\n", total)
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
