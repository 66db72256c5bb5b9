package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Incidents table
			CREATE TABLE IF NOT EXISTS incidents (
				id TEXT PRIMARY KEY,
				number INTEGER NOT NULL,
				title TEXT NOT NULL,
				severity TEXT NOT NULL,
				status TEXT NOT NULL,
				service_id TEXT NOT NULL,
				dedup_key TEXT NOT NULL,
				acknowledged_by TEXT,
				triggered_at DATETIME NOT NULL,
				acknowledged_at DATETIME,
				resolved_at DATETIME,
				escalation_level INTEGER NOT NULL DEFAULT 0,
				open_alert_ids_json TEXT NOT NULL,
				policy_json TEXT NOT NULL,
				flagged INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Alerts table (constituent alerts of incidents)
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				incident_id TEXT NOT NULL,
				dedup_key TEXT NOT NULL,
				service_id TEXT NOT NULL,
				name TEXT NOT NULL,
				severity TEXT NOT NULL,
				status TEXT NOT NULL,
				source TEXT,
				starts_at DATETIME NOT NULL,
				ends_at DATETIME,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (incident_id) REFERENCES incidents(id) ON DELETE CASCADE
			);

			-- Notification attempts table
			CREATE TABLE IF NOT EXISTS notification_attempts (
				id TEXT PRIMARY KEY,
				incident_id TEXT NOT NULL,
				level INTEGER NOT NULL,
				user_id TEXT NOT NULL,
				channel TEXT NOT NULL,
				address TEXT NOT NULL,
				status TEXT NOT NULL,
				attempt_count INTEGER NOT NULL DEFAULT 0,
				send_at DATETIME NOT NULL,
				last_attempt_at DATETIME,
				next_retry_at DATETIME,
				last_error TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY (incident_id) REFERENCES incidents(id) ON DELETE CASCADE
			);

			-- Notification preferences table
			CREATE TABLE IF NOT EXISTS notification_preferences (
				user_id TEXT PRIMARY KEY,
				channels_json TEXT NOT NULL,
				addresses_json TEXT NOT NULL,
				quiet_hours_start TEXT,
				quiet_hours_end TEXT,
				notification_delay_ns INTEGER NOT NULL DEFAULT 0,
				updated_at DATETIME NOT NULL
			);

			-- Monotonic counters
			CREATE TABLE IF NOT EXISTS counters (
				name TEXT PRIMARY KEY,
				value INTEGER NOT NULL
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_incidents_dedup ON incidents(service_id, dedup_key, status);
			CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);
			CREATE INDEX IF NOT EXISTS idx_alerts_incident ON alerts(incident_id);
			CREATE INDEX IF NOT EXISTS idx_attempts_incident ON notification_attempts(incident_id);
			CREATE INDEX IF NOT EXISTS idx_attempts_status ON notification_attempts(status);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
