package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Timeline TimelineConfig `yaml:"timeline"`
	Digest   DigestConfig   `yaml:"digest"`
	LLM      LLMConfig      `yaml:"llm"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures the recurring daily run.
type ScheduleConfig struct {
	Enabled     bool   `yaml:"enabled"`
	RunInterval string `yaml:"run_interval"`
	RunOnStart  bool   `yaml:"run_on_start"`
	DryRun      bool   `yaml:"dry_run"`
}

// ParseRunInterval returns the run interval as time.Duration.
func (s ScheduleConfig) ParseRunInterval() time.Duration {
	d, err := time.ParseDuration(s.RunInterval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// TimelineConfig configures where and how the timeline is harvested.
type TimelineConfig struct {
	Driver         string `yaml:"driver"` // "browser" or "nitter"
	URL            string `yaml:"url"`    // page url, or the RSS feed url for nitter
	View           string `yaml:"view"`
	SessionCookies string `yaml:"session_cookies"`
	ChromePath     string `yaml:"chrome_path"`
	Headless       bool   `yaml:"headless"`
	UserAgent      string `yaml:"user_agent"`
	NitterURL      string `yaml:"nitter_url"`

	LoadTimeout    string `yaml:"load_timeout"`
	AdvanceEvery   string `yaml:"advance_every"`
	SettleInterval string `yaml:"settle_interval"`
	SettlePolls    int    `yaml:"settle_polls"`
	HydrationPause string `yaml:"hydration_pause"`

	TargetCount         int `yaml:"target_count"`
	MaxPasses           int `yaml:"max_passes"`
	BackfillTargetCount int `yaml:"backfill_target_count"`
	BackfillMaxPasses   int `yaml:"backfill_max_passes"`
}

// DigestConfig configures day digests.
type DigestConfig struct {
	Topics             []string `yaml:"topics"`
	Timezone           string   `yaml:"timezone"`
	MaxItemsPerDay     int      `yaml:"max_items_per_day"`
	PersistDryRun      bool     `yaml:"persist_dry_run"`
	IsolateDayFailures bool     `yaml:"isolate_day_failures"`
	LockTTL            string   `yaml:"lock_ttl"`
	LockStore          string   `yaml:"lock_store"` // "sqlite" or "memory"
}

// Location resolves the configured timezone.
func (d DigestConfig) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", d.Timezone, err)
	}
	return loc, nil
}

// LLMConfig configures the day-digest generator.
type LLMConfig struct {
	Provider string `yaml:"provider"` // "openai" or "anthropic"
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"` // custom endpoint (optional)
}

// AlertsConfig configures digest delivery destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook delivery.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook delivery.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook delivery.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port       int    `yaml:"port"`
	AdminToken string `yaml:"admin_token"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultTimelineURL is the home timeline read by the browser driver.
const DefaultTimelineURL = "https://x.com/home"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./tldigest.db"},
		Schedule: ScheduleConfig{
			Enabled:     true,
			RunInterval: "24h",
		},
		Timeline: TimelineConfig{
			Driver:              "browser",
			URL:                 DefaultTimelineURL,
			View:                "Following",
			Headless:            true,
			NitterURL:           "https://nitter.net",
			LoadTimeout:         "30s",
			AdvanceEvery:        "1200ms",
			SettleInterval:      "250ms",
			SettlePolls:         12,
			HydrationPause:      "400ms",
			TargetCount:         70,
			MaxPasses:           7,
			BackfillTargetCount: 300,
			BackfillMaxPasses:   30,
		},
		Digest: DigestConfig{
			Timezone:       "UTC",
			MaxItemsPerDay: 120,
			LockTTL:        "15m",
			LockStore:      "sqlite",
		},
		LLM: LLMConfig{
			Provider: "openai",
		},
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	// Missing .env is fine; variables may come from the environment.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.Digest.Topics = normalizeTopics(cfg.Digest.Topics)
	return cfg, nil
}

// Validate reports configuration errors that make a run impossible.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Digest.Topics) == 0 {
		errs = append(errs, errors.New("digest topics are empty: set DIGEST_TOPICS or digest.topics"))
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unsupported llm provider %q", c.LLM.Provider))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm api key is missing: set OPENAI_API_KEY or ANTHROPIC_API_KEY"))
	}
	if _, err := c.Digest.Location(); err != nil {
		errs = append(errs, err)
	}
	switch c.Digest.LockStore {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported lock store %q", c.Digest.LockStore))
	}
	switch c.Timeline.Driver {
	case "browser":
	case "nitter":
		if c.Timeline.URL == DefaultTimelineURL {
			errs = append(errs, errors.New("nitter driver needs timeline.url set to a feed url such as https://nitter.net/<user>/rss"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported timeline driver %q", c.Timeline.Driver))
	}
	return errors.Join(errs...)
}

// ParseTopics splits a comma-separated topic list, trimming and
// lower-casing each entry and dropping empties.
func ParseTopics(raw string) []string {
	return normalizeTopics(strings.Split(raw, ","))
}

func normalizeTopics(in []string) []string {
	var out []string
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ParseDuration parses s, falling back to def when s is empty or invalid.
func ParseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TLDIGEST_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DIGEST_TOPICS"); v != "" {
		cfg.Digest.Topics = ParseTopics(v)
	}
	if v := os.Getenv("DIGEST_TIMEZONE"); v != "" {
		cfg.Digest.Timezone = v
	}
	if v := os.Getenv("X_SESSION_COOKIES"); v != "" {
		cfg.Timeline.SessionCookies = v
	}
	positiveInt("TARGET_ITEM_COUNT", &cfg.Timeline.TargetCount)
	positiveInt("SCROLL_PASSES", &cfg.Timeline.MaxPasses)
	positiveInt("BACKFILL_TARGET_ITEM_COUNT", &cfg.Timeline.BackfillTargetCount)
	positiveInt("BACKFILL_SCROLL_PASSES", &cfg.Timeline.BackfillMaxPasses)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
		cfg.LLM.Provider = "openai"
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
		cfg.LLM.Provider = "anthropic"
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" && cfg.LLM.Provider == "openai" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("SCHEDULED_DRY_RUN"); v != "" {
		cfg.Schedule.DryRun = v == "1"
	}
	if v := os.Getenv("PERSIST_DRY_RUN"); v != "" {
		cfg.Digest.PersistDryRun = v == "1"
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// positiveInt overrides *dst with env var key when it holds a positive
// integer; anything else keeps the current value.
func positiveInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return
	}
	*dst = n
}
