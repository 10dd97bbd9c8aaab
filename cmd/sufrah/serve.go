package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/config"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/db"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/dispatch"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/events"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/httpapi"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/notify"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/queue"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/quota"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/session"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/sweep"
)

const defaultConfigPath = "sufrah.yaml"

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, dispatch workers and sweepers",
		Long:  "Starts the full process: HTTP API, worker pool, stall sweeper and quota scanner. Stops cleanly on SIGINT/SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

// loadConfig reads the config file, or falls back to built-in defaults when
// the default path does not exist (local mode).
func loadConfig(out io.Writer, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if path == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(out, "No %s found, using defaults (sqlite local mode)\n", defaultConfigPath)
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// stack is everything a running process shares, wired once at startup.
type stack struct {
	cfg      *config.Config
	db       *gorm.DB
	tracker  *session.Tracker
	ledger   *quota.Ledger
	store    *queue.Store
	bus      *events.Bus
	service  *dispatch.Service
	pool     *dispatch.Pool
	sweeper  *sweep.Sweeper
	notifier notify.Notifier
}

func buildStack(out io.Writer, cfg *config.Config) (*stack, error) {
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Database.Driver, err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	resolver := quota.NewStaticResolver(cfg.Quota.PlanLimits, cfg.Quota.DefaultPlan)
	ledger := quota.NewLedger(gormDB, resolver, cfg.Quota.NearingPercent)
	tracker := session.NewTracker(gormDB)
	store := queue.NewStore(gormDB, cfg.Queue)
	bus := events.NewBus(64)

	var transport dispatch.Transport
	if cfg.Provider.URL != "" {
		transport, err = dispatch.NewWebhookTransport(cfg.Provider)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "Provider: %s\n", cfg.Provider.URL)
	} else {
		transport = dispatch.LogTransport{}
		fmt.Fprintln(out, "Provider: none configured, sends are dry-run")
	}

	notifier, err := buildNotifier(out, cfg.Alerts)
	if err != nil {
		return nil, err
	}

	service := dispatch.NewService(tracker, ledger, quota.NewGate(ledger), store, transport, bus)
	pool := dispatch.NewPool(store, tracker, ledger, transport, bus, cfg.Queue)
	sweeper := sweep.New(store, ledger, notifier)

	return &stack{
		cfg:      cfg,
		db:       gormDB,
		tracker:  tracker,
		ledger:   ledger,
		store:    store,
		bus:      bus,
		service:  service,
		pool:     pool,
		sweeper:  sweeper,
		notifier: notifier,
	}, nil
}

// buildNotifier assembles the alert fan-out from whichever adapters have
// credentials, preferring environment variables over the config file.
func buildNotifier(out io.Writer, cfg config.AlertsConfig) (notify.Notifier, error) {
	var targets notify.Multi

	slackToken := envOr("SLACK_BOT_TOKEN", cfg.Slack.BotToken)
	if slackToken != "" && cfg.Slack.ChannelID != "" {
		s, err := notify.NewSlack(notify.SlackOpts{BotToken: slackToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		targets = append(targets, s)
		fmt.Fprintf(out, "Alerts: Slack channel %s\n", cfg.Slack.ChannelID)
	}

	discordToken := envOr("DISCORD_BOT_TOKEN", cfg.Discord.BotToken)
	if discordToken != "" && cfg.Discord.ChannelID != "" {
		d, err := notify.NewDiscord(notify.DiscordOpts{BotToken: discordToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		targets = append(targets, d)
		fmt.Fprintf(out, "Alerts: Discord channel %s\n", cfg.Discord.ChannelID)
	}

	if len(targets) == 0 {
		return nil, nil
	}
	return targets, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runServe(cmd *cobra.Command, configPath string) error {
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

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpapi.Start(ctx, httpapi.StartOpts{
			Service: st.service,
			Ledger:  st.ledger,
			Store:   st.store,
			Bus:     st.bus,
			Port:    cfg.HTTP.Port,
			Out:     out,
		})
	})
	g.Go(func() error {
		return st.pool.Run(ctx)
	})

	fmt.Fprintf(out, "Dispatch pool: %d workers, %d/s\n", cfg.Queue.GlobalConcurrency, cfg.Queue.RatePerSecond)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Fprintln(out, "Shutdown complete")
	return nil
}
