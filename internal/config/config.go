package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models playline.yml.
type Config struct {
	Tenant struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"tenant"`
	Sessions struct {
		Defaults         SessionDefaults `yaml:"defaults"`
		CodeMaxRetries   int             `yaml:"code_max_retries"`
		ArchiveAfterDays int             `yaml:"archive_after_days"`
		SweepInterval    string          `yaml:"sweep_interval"`
	} `yaml:"sessions"`
	Quota struct {
		NoExpiryTokensLimit int `yaml:"no_expiry_tokens_limit"`
	} `yaml:"quota"`
	Board struct {
		PollInterval   string `yaml:"poll_interval"`
		DegradedAfter  string `yaml:"degraded_after"`
		OfflineAfter   string `yaml:"offline_after"`
		StreamInterval string `yaml:"stream_interval"`
	} `yaml:"board"`
	Signals struct {
		AllowCustomChannels bool `yaml:"allow_custom_channels"`
	} `yaml:"signals"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// SessionDefaults are applied to new sessions when the host leaves a setting unset.
type SessionDefaults struct {
	AllowRejoin            bool `yaml:"allow_rejoin"`
	MaxParticipants        int  `yaml:"max_participants"`
	RequireApproval        bool `yaml:"require_approval"`
	AllowAnonymous         bool `yaml:"allow_anonymous"`
	TokenExpiryHours       int  `yaml:"token_expiry_hours"`
	EnableChat             bool `yaml:"enable_chat"`
	EnableProgressTracking bool `yaml:"enable_progress_tracking"`
}

// WebhookConfig describes an outbound session event subscription.
type WebhookConfig struct {
	URL        string   `yaml:"url"`
	Events     []string `yaml:"events"`
	Secret     string   `yaml:"secret"`
	Enabled    *bool    `yaml:"enabled"`
	TimeoutSec int      `yaml:"timeout_sec"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Tenant.ID == "" {
		return fmt.Errorf("config.tenant.id is required")
	}
	d := c.Sessions.Defaults
	if d.MaxParticipants <= 0 {
		return fmt.Errorf("config.sessions.defaults.max_participants must be positive")
	}
	if d.TokenExpiryHours <= 0 {
		return fmt.Errorf("config.sessions.defaults.token_expiry_hours must be positive")
	}
	if c.Sessions.CodeMaxRetries < 0 {
		return fmt.Errorf("config.sessions.code_max_retries must not be negative")
	}
	if c.Sessions.ArchiveAfterDays < 0 {
		return fmt.Errorf("config.sessions.archive_after_days must not be negative")
	}
	if c.Quota.NoExpiryTokensLimit < 0 {
		return fmt.Errorf("config.quota.no_expiry_tokens_limit must not be negative")
	}
	for name, raw := range map[string]string{
		"sessions.sweep_interval": c.Sessions.SweepInterval,
		"board.poll_interval":     c.Board.PollInterval,
		"board.degraded_after":    c.Board.DegradedAfter,
		"board.offline_after":     c.Board.OfflineAfter,
		"board.stream_interval":   c.Board.StreamInterval,
	} {
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return fmt.Errorf("config.%s must be a positive duration, got %q", name, raw)
		}
	}
	if c.BoardDegradedAfter() >= c.BoardOfflineAfter() {
		return fmt.Errorf("config.board.degraded_after must be shorter than offline_after")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSec < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_sec must not be negative", i)
		}
	}
	return nil
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// BoardPollInterval is the spectator poll period.
func (c *Config) BoardPollInterval() time.Duration {
	return durationOr(c.Board.PollInterval, 5*time.Second)
}

func (c *Config) BoardDegradedAfter() time.Duration {
	return durationOr(c.Board.DegradedAfter, 15*time.Second)
}

func (c *Config) BoardOfflineAfter() time.Duration {
	return durationOr(c.Board.OfflineAfter, 60*time.Second)
}

func (c *Config) BoardStreamInterval() time.Duration {
	return durationOr(c.Board.StreamInterval, time.Second)
}

func (c *Config) SweepInterval() time.Duration {
	return durationOr(c.Sessions.SweepInterval, time.Hour)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "playline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(tenantID string) string {
	return fmt.Sprintf(defaultTemplate, tenantID)
}

// Default returns the default Config struct for a tenant.
func Default(tenantID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, tenantID))).Decode(&cfg)
	cfg.Tenant.ID = tenantID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `tenant:
  id: %s

sessions:
  defaults:
    allow_rejoin: true
    max_participants: 100
    require_approval: false
    allow_anonymous: true
    token_expiry_hours: 24
    enable_chat: false
    enable_progress_tracking: true
  code_max_retries: 5
  archive_after_days: 30
  sweep_interval: 1h

quota:
  no_expiry_tokens_limit: 2

board:
  poll_interval: 5s
  degraded_after: 15s
  offline_after: 60s
  stream_interval: 1s

signals:
  allow_custom_channels: true
`
