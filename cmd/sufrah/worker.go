package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run dispatch workers without the API server",
		Long:  "Runs only the worker pool and sweepers against the shared database. Use this to scale delivery horizontally behind one API instance: per-tenant concurrency caps are enforced in the database and hold across processes. The rate_per_second ceiling applies per worker process; divide it accordingly when running several.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

func runWorker(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(out, configPath)
	if err != nil {
		return err
	}

	st, err := buildStack(out, cfg)
	if err != nil {
		return err
	}
	defer st.bus.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := st.sweeper.Start(); err != nil {
		return err
	}
	defer st.sweeper.Stop()

	fmt.Fprintf(out, "Dispatch pool: %d workers, %d/s\n", cfg.Queue.GlobalConcurrency, cfg.Queue.RatePerSecond)

	if err := st.pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Fprintln(out, "Shutdown complete")
	return nil
}
