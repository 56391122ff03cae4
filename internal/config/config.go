package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Judge    JudgeConfig    `yaml:"judge"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Lottery  LotteryConfig  `yaml:"lottery"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
	Tunnel   TunnelConfig   `yaml:"tunnel"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects the ledger backend. Driver is "sqlite" or "pgx".
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ScheduleConfig configures the crawl interval.
type ScheduleConfig struct {
	CrawlInterval string `yaml:"crawl_interval"`
}

// ParseCrawlInterval returns the crawl interval as time.Duration.
func (s ScheduleConfig) ParseCrawlInterval() time.Duration {
	d, err := time.ParseDuration(s.CrawlInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// JudgeConfig points at the online judge and the tier API.
type JudgeConfig struct {
	GroupID        string `yaml:"group_id"`
	BaseURL        string `yaml:"base_url"`
	SolvedACURL    string `yaml:"solvedac_url"`
	UserAgent      string `yaml:"user_agent"`
	Timeout        string `yaml:"timeout"`
	MaxStatusPages int    `yaml:"max_status_pages"`
	TierCacheSize  int    `yaml:"tier_cache_size"`
}

// ParseTimeout returns the per-request timeout.
func (j JudgeConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(j.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ScoringConfig holds the point rules.
type ScoringConfig struct {
	LevelFloor int    `yaml:"level_floor"`
	Timezone   string `yaml:"timezone"`
}

// Location loads the configured time zone, falling back to UTC.
func (s ScoringConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LotteryConfig configures the weighted draw.
type LotteryConfig struct {
	Seed        string  `yaml:"seed"`
	Exponent    float64 `yaml:"exponent"`
	AnnounceTop int     `yaml:"announce_top"`
}

// AlertsConfig configures announcement destinations. DiscordWebhooks are
// registered into the hooks table at startup; Slack and Webhook are static.
type AlertsConfig struct {
	SiteURL         string        `yaml:"site_url"`
	DiscordWebhooks []string      `yaml:"discord_webhooks"`
	Slack           SlackConfig   `yaml:"slack"`
	Webhook         WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// TunnelConfig configures the SSH port forward to the database host.
type TunnelConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	KeyBase64  string `yaml:"key_base64"`
	KnownHosts string `yaml:"known_hosts"`
	LocalPort  int    `yaml:"local_port"`
	RemoteHost string `yaml:"remote_host"`
	RemotePort int    `yaml:"remote_port"`
}

// LogConfig selects the zap preset.
type LogConfig struct {
	Mode string `yaml:"mode"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "./biaslotto.db"},
		Schedule: ScheduleConfig{CrawlInterval: "5m"},
		Judge: JudgeConfig{
			BaseURL:        "https://www.acmicpc.net",
			SolvedACURL:    "https://solved.ac/api/v3",
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36",
			Timeout:        "30s",
			MaxStatusPages: 10,
			TierCacheSize:  8192,
		},
		Scoring: ScoringConfig{
			LevelFloor: -5,
			Timezone:   "Asia/Seoul",
		},
		Lottery: LotteryConfig{
			Exponent:    1.05,
			AnnounceTop: 10,
		},
		Server: ServerConfig{Port: 8080},
		Tunnel: TunnelConfig{
			Port:       22,
			RemoteHost: "127.0.0.1",
		},
		Log: LogConfig{Mode: "development"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
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

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("BIASLOTTO_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("BIASLOTTO_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("RANDOM_SEED"); v != "" {
		cfg.Lottery.Seed = v
	}
	if v := os.Getenv("BOJ_GROUP_ID"); v != "" {
		cfg.Judge.GroupID = v
	}
	if v := os.Getenv("SOLVEDAC_URL"); v != "" {
		cfg.Judge.SolvedACURL = v
	}
	if v := os.Getenv("SITE_URL"); v != "" {
		cfg.Alerts.SiteURL = v
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.DiscordWebhooks = append(cfg.Alerts.DiscordWebhooks, v)
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("LOG_MODE"); v != "" {
		cfg.Log.Mode = v
	}
	if v := os.Getenv("SSH_HOST"); v != "" {
		cfg.Tunnel.Host = v
		cfg.Tunnel.Enabled = true
	}
	if v := os.Getenv("SSH_USER"); v != "" {
		cfg.Tunnel.User = v
	}
	if v := os.Getenv("SSH_KEY_BASE64"); v != "" {
		cfg.Tunnel.KeyBase64 = v
	}

	ports := []struct {
		env string
		dst *int
	}{
		{"SSH_PORT", &cfg.Tunnel.Port},
		{"SSH_LOCAL_PORT", &cfg.Tunnel.LocalPort},
		{"SSH_REMOTE_PORT", &cfg.Tunnel.RemotePort},
	}
	for _, p := range ports {
		v := os.Getenv(p.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s=%q: %w", p.env, v, err)
		}
		*p.dst = n
	}
	return nil
}
