package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/good-yellow-bee/flarepage/internal/notifier"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Escalation.PoliciesFile = "policies.yaml"
	cfg.Escalation.SchedulesFile = "schedules.yaml"
	cfg.Notifiers.Email = &notifier.EmailConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "paging@example.com",
	}
	return cfg
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.OpsAddress != ":9090" {
		t.Errorf("ops address = %q, want :9090", cfg.Server.OpsAddress)
	}
	if cfg.Database.Path != "data/flarepage.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Escalation.TimerWorkers != 4 {
		t.Errorf("timer workers = %d, want 4", cfg.Escalation.TimerWorkers)
	}
	if cfg.Dispatch.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", cfg.Dispatch.MaxAttempts)
	}
	if cfg.Dispatch.AdapterTimeout != 30*time.Second {
		t.Errorf("adapter timeout = %v, want 30s", cfg.Dispatch.AdapterTimeout)
	}
	if cfg.Notifiers.RateLimit.MaxPerMinute != 60 {
		t.Errorf("rate limit = %d, want 60", cfg.Notifiers.RateLimit.MaxPerMinute)
	}
}

func TestConfigValidate_RequiresPolicyFiles(t *testing.T) {
	cfg := validConfig()
	cfg.Escalation.PoliciesFile = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing policies_file")
	}

	cfg = validConfig()
	cfg.Escalation.SchedulesFile = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing schedules_file")
	}
}

func TestConfigValidate_RequiresANotifier(t *testing.T) {
	cfg := validConfig()
	cfg.Notifiers.Email = nil

	if err := cfg.Validate(); err == nil {
		t.Error("expected error when no notifier is configured")
	}
}

func TestConfigValidate_RejectsIncompleteEmail(t *testing.T) {
	cfg := validConfig()
	cfg.Notifiers.Email.Host = ""

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for email notifier without host")
	}
}

func TestConfigValidate_ArchiveNeedsAddresses(t *testing.T) {
	cfg := validConfig()
	cfg.Archive.Enabled = true

	if err := cfg.Validate(); err == nil {
		t.Error("expected error for enabled archive without addresses")
	}
}

func TestLoadConfig(t *testing.T) {
	yaml := `
server:
  ops_address: ":9191"
database:
  path: /var/lib/flarepage/incidents.db
escalation:
  policies_file: /etc/flarepage/policies.yaml
  schedules_file: /etc/flarepage/schedules.yaml
  timer_workers: 8
  watch_files: true
notifiers:
  rate_limit:
    max_per_minute: 120
  slack: {}
dispatch:
  max_attempts: 3
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.OpsAddress != ":9191" {
		t.Errorf("ops address = %q", cfg.Server.OpsAddress)
	}
	if cfg.Escalation.TimerWorkers != 8 {
		t.Errorf("timer workers = %d, want 8", cfg.Escalation.TimerWorkers)
	}
	if !cfg.Escalation.WatchFiles {
		t.Error("watch_files should be true")
	}
	if cfg.Notifiers.Slack == nil {
		t.Error("slack notifier should be configured")
	}
	if cfg.Notifiers.Email != nil {
		t.Error("email notifier should not be configured")
	}
	if cfg.Notifiers.RateLimit.MaxPerMinute != 120 {
		t.Errorf("rate limit = %d, want 120", cfg.Notifiers.RateLimit.MaxPerMinute)
	}
	if cfg.Dispatch.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", cfg.Dispatch.MaxAttempts)
	}
	// Unset fields still get defaults.
	if cfg.Dispatch.AdapterTimeout != 30*time.Second {
		t.Errorf("adapter timeout = %v, want 30s", cfg.Dispatch.AdapterTimeout)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
