package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/forgelabs/engine/internal/config"
	"github.com/forgelabs/engine/internal/engine"
	"github.com/forgelabs/engine/internal/logging"
)

var serveDev bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine (dispatcher, heartbeat, cascade, sentinel) until interrupted",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "use human-readable console logging instead of JSON")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("enginectl: load config: %w", err)
	}

	log, err := logging.New(serveDev)
	if err != nil {
		return fmt.Errorf("enginectl: build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("enginectl: construct engine: %w", err)
	}

	log.Info("enginectl: starting", zap.String("http_addr", cfg.HTTPAddr))
	err = eng.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ReaperInterval)
	defer cancel()
	eng.Stop(shutdownCtx)

	if err != nil {
		return fmt.Errorf("enginectl: engine stopped: %w", err)
	}
	return nil
}
