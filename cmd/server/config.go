// Package main provides the FlarePage server CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/flarepage/internal/notifier"
)

// Config represents the server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Escalation EscalationConfig `yaml:"escalation"`
	Notifiers  NotifiersConfig  `yaml:"notifiers"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Verbose    bool             `yaml:"-"` // set via CLI flag
}

// ServerConfig contains server settings.
type ServerConfig struct {
	OpsAddress string `yaml:"ops_address"` // metrics/health listen address (default: :9090)
}

// DatabaseConfig contains incident store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite database path (default: data/flarepage.db)
}

// ArchiveConfig contains optional ClickHouse alert archive settings.
type ArchiveConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Addresses     []string `yaml:"addresses"` // host:port list
	Database      string   `yaml:"database"`  // database name (default: flarepage)
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	RetentionDays int      `yaml:"retention_days"` // alert TTL (default: 90)
}

// EscalationConfig contains escalation engine settings.
type EscalationConfig struct {
	PoliciesFile  string `yaml:"policies_file"`  // escalation policy YAML (required)
	SchedulesFile string `yaml:"schedules_file"` // on-call schedule YAML (required)
	TimerWorkers  int    `yaml:"timer_workers"`  // timer queue workers (default: 4)
	EventBuffer   int    `yaml:"event_buffer"`   // engine event channel buffer (default: 256)
	WatchFiles    bool   `yaml:"watch_files"`    // reload policy/schedule files on change
}

// NotifiersConfig configures the channel adapters. An adapter is
// enabled by giving it a config block; a nil block leaves the channel
// unregistered.
type NotifiersConfig struct {
	RateLimit RateLimitConfig       `yaml:"rate_limit"`
	Email     *notifier.EmailConfig `yaml:"email"`
	Slack     *notifier.SlackConfig `yaml:"slack"`
	SMS       *notifier.SMSConfig   `yaml:"sms"`
	Push      *notifier.PushConfig  `yaml:"push"`
}

// RateLimitConfig contains the global notification send budget.
type RateLimitConfig struct {
	Disabled     bool `yaml:"disabled"`
	MaxPerMinute int  `yaml:"max_per_minute"` // sends per minute across all channels (default: 60)
}

// DispatchConfig contains notification delivery settings.
type DispatchConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`    // delivery tries before giving up (default: 5)
	AdapterTimeout time.Duration `yaml:"adapter_timeout"` // per-send timeout (default: 30s)
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.OpsAddress == "" {
		c.Server.OpsAddress = ":9090"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/flarepage.db"
	}
	if c.Archive.Database == "" {
		c.Archive.Database = "flarepage"
	}
	if c.Archive.RetentionDays <= 0 {
		c.Archive.RetentionDays = 90
	}
	if c.Escalation.TimerWorkers <= 0 {
		c.Escalation.TimerWorkers = 4
	}
	if c.Escalation.EventBuffer <= 0 {
		c.Escalation.EventBuffer = 256
	}
	if c.Notifiers.RateLimit.MaxPerMinute <= 0 {
		c.Notifiers.RateLimit.MaxPerMinute = 60
	}
	if c.Dispatch.MaxAttempts <= 0 {
		c.Dispatch.MaxAttempts = 5
	}
	if c.Dispatch.AdapterTimeout <= 0 {
		c.Dispatch.AdapterTimeout = 30 * time.Second
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Escalation.PoliciesFile == "" {
		return fmt.Errorf("escalation.policies_file is required")
	}
	if c.Escalation.SchedulesFile == "" {
		return fmt.Errorf("escalation.schedules_file is required")
	}
	if c.Archive.Enabled && len(c.Archive.Addresses) == 0 {
		return fmt.Errorf("archive.addresses is required when the archive is enabled")
	}
	if c.Notifiers.Email == nil && c.Notifiers.Slack == nil &&
		c.Notifiers.SMS == nil && c.Notifiers.Push == nil {
		return fmt.Errorf("at least one notifier must be configured")
	}
	if c.Notifiers.Email != nil {
		if err := c.Notifiers.Email.Validate(); err != nil {
			return fmt.Errorf("notifiers.email: %w", err)
		}
	}
	if c.Notifiers.SMS != nil {
		if err := c.Notifiers.SMS.Validate(); err != nil {
			return fmt.Errorf("notifiers.sms: %w", err)
		}
	}
	if c.Notifiers.Push != nil {
		if err := c.Notifiers.Push.Validate(); err != nil {
			return fmt.Errorf("notifiers.push: %w", err)
		}
	}
	return nil
}
