// Package config provides YAML-based configuration loading for the Sufrah
// messaging core.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration, loaded from config.yaml.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Provider ProviderConfig `yaml:"provider"`
	Queue    QueueConfig    `yaml:"queue"`
	Quota    QuotaConfig    `yaml:"quota"`
	Alerts   AlertsConfig   `yaml:"alerts"`
}

// HTTPConfig holds settings for the API server.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig selects the durable store. Driver is "mysql" in production
// and "sqlite" for local mode.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ProviderConfig points at the messaging provider endpoint that outbound
// jobs are delivered to. With an empty URL the process runs in dry-run mode
// and logs sends instead of delivering them.
type ProviderConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// QueueConfig tunes the dispatch queue and worker pool.
type QueueConfig struct {
	TenantConcurrency int           `yaml:"tenant_concurrency"`
	GlobalConcurrency int           `yaml:"global_concurrency"`
	RatePerSecond     int           `yaml:"rate_per_second"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseBackoff       time.Duration `yaml:"base_backoff"`
	ConcurrencyDelay  time.Duration `yaml:"concurrency_delay"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
	StallLease        time.Duration `yaml:"stall_lease"`
}

// QuotaConfig tunes admission behavior. PlanLimits maps plan names to monthly
// conversation allowances; -1 means unlimited.
type QuotaConfig struct {
	NearingPercent int            `yaml:"nearing_percent"`
	DefaultPlan    string         `yaml:"default_plan"`
	PlanLimits     map[string]int `yaml:"plan_limits"`
}

// AlertsConfig holds notifier credentials. Adapters with empty tokens are
// skipped at startup.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig configures the Slack alert adapter.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig configures the Discord alert adapter.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with every field at its default, suitable for
// local mode without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = "sufrah.db"
	}
	if c.Queue.TenantConcurrency == 0 {
		c.Queue.TenantConcurrency = 5
	}
	if c.Queue.GlobalConcurrency == 0 {
		c.Queue.GlobalConcurrency = 20
	}
	if c.Queue.RatePerSecond == 0 {
		c.Queue.RatePerSecond = 80
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.BaseBackoff == 0 {
		c.Queue.BaseBackoff = 2 * time.Second
	}
	if c.Queue.ConcurrencyDelay == 0 {
		c.Queue.ConcurrencyDelay = 500 * time.Millisecond
	}
	if c.Queue.AttemptTimeout == 0 {
		c.Queue.AttemptTimeout = 30 * time.Second
	}
	if c.Queue.StallLease == 0 {
		c.Queue.StallLease = 90 * time.Second
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 15 * time.Second
	}
	if c.Quota.NearingPercent == 0 {
		c.Quota.NearingPercent = 90
	}
	if c.Quota.DefaultPlan == "" {
		c.Quota.DefaultPlan = "FREE"
	}
	if c.Quota.PlanLimits == nil {
		c.Quota.PlanLimits = map[string]int{
			"FREE":    1000,
			"STARTER": 5000,
			"PRO":     -1,
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Database.Driver != "mysql" && c.Database.Driver != "sqlite" {
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql or sqlite", c.Database.Driver))
	}
	if c.Database.Driver == "mysql" && c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required for mysql")
	}
	if c.Queue.TenantConcurrency < 1 {
		errs = append(errs, "queue.tenant_concurrency must be at least 1")
	}
	if c.Queue.GlobalConcurrency < c.Queue.TenantConcurrency {
		errs = append(errs, "queue.global_concurrency must be at least queue.tenant_concurrency")
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, "queue.max_attempts must be at least 1")
	}
	if c.Quota.NearingPercent < 1 || c.Quota.NearingPercent > 100 {
		errs = append(errs, "quota.nearing_percent must be between 1 and 100")
	}
	if _, ok := c.Quota.PlanLimits[c.Quota.DefaultPlan]; !ok {
		errs = append(errs, fmt.Sprintf("quota.default_plan %q has no entry in quota.plan_limits", c.Quota.DefaultPlan))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
