package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/db"
)

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long:  "Runs schema migrations for sessions, usage, adjustments and jobs. Safe to run multiple times.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

func runMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(out, configPath)
	if err != nil {
		return err
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Database.Driver, err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	fmt.Fprintf(out, "Migrated %d tables on %s\n", len(db.AllModels()), cfg.Database.Driver)
	return nil
}
