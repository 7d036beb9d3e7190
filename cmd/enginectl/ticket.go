package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forgelabs/engine/internal/config"
	"github.com/forgelabs/engine/internal/store/postgres"
	"github.com/forgelabs/engine/internal/ticket"
)

var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Inspect individual tickets",
}

var ticketListState string
var ticketListSession string

var ticketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets, filtered by --state or --session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ticketListState == "" && ticketListSession == "" {
			return fmt.Errorf("enginectl: ticket list requires --state or --session")
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("enginectl: load config: %w", err)
		}
		store, err := postgres.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("enginectl: connect to database: %w", err)
		}
		defer store.Close()

		var tickets []ticket.Ticket
		if ticketListSession != "" {
			tickets, err = store.GetTicketsBySession(cmd.Context(), ticketListSession)
		} else {
			tickets, err = store.GetTicketsByState(cmd.Context(), ticket.State(ticketListState))
		}
		if err != nil {
			return fmt.Errorf("enginectl: list tickets: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tASSIGNEE\tTITLE")
		for _, t := range tickets {
			if ticketListSession != "" && ticketListState != "" && t.State != ticket.State(ticketListState) {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.State, t.AssigneeID, t.Title)
		}
		return w.Flush()
	},
}

var ticketShowCmd = &cobra.Command{
	Use:   "show <ticket-id>",
	Short: "Print one ticket's full record and event history as JSON",
	Args:  cobra.ExactArgs(1),
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

		t, err := store.GetTicket(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("enginectl: get ticket: %w", err)
		}
		events, err := store.GetEvents(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("enginectl: get events: %w", err)
		}

		out := struct {
			Ticket *ticket.Ticket `json:"ticket"`
			Events []ticket.Event `json:"events"`
		}{Ticket: t, Events: events}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	ticketListCmd.Flags().StringVar(&ticketListState, "state", "", "filter by lifecycle state")
	ticketListCmd.Flags().StringVar(&ticketListSession, "session", "", "filter by design session id")
	ticketCmd.AddCommand(ticketListCmd, ticketShowCmd)
	rootCmd.AddCommand(ticketCmd)
}
