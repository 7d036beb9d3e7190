package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgelabs/engine/internal/config"
	"github.com/forgelabs/engine/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations to database_url",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("enginectl: load config: %w", err)
		}
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("enginectl: migrate: %w", err)
		}
		fmt.Println("enginectl: migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
