package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/good-yellow-bee/flarepage/internal/models"
)

type sqlitePreferenceRepo struct {
	db *sql.DB
}

func (r *sqlitePreferenceRepo) Upsert(ctx context.Context, pref *models.NotificationPreference) error {
	channelsJSON, err := json.Marshal(pref.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}
	addressesJSON, err := json.Marshal(pref.Addresses)
	if err != nil {
		return fmt.Errorf("marshal addresses: %w", err)
	}

	query := `
		INSERT INTO notification_preferences
			(user_id, channels_json, addresses_json, quiet_hours_start, quiet_hours_end, notification_delay_ns, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			channels_json = excluded.channels_json,
			addresses_json = excluded.addresses_json,
			quiet_hours_start = excluded.quiet_hours_start,
			quiet_hours_end = excluded.quiet_hours_end,
			notification_delay_ns = excluded.notification_delay_ns,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		pref.UserID, string(channelsJSON), string(addressesJSON),
		nullString(pref.QuietHoursStart), nullString(pref.QuietHoursEnd),
		pref.NotificationDelay.Nanoseconds(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (r *sqlitePreferenceRepo) GetByUserID(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	query := `
		SELECT user_id, channels_json, addresses_json, quiet_hours_start, quiet_hours_end, notification_delay_ns
		FROM notification_preferences WHERE user_id = ?
	`
	return r.scanPreference(r.db.QueryRowContext(ctx, query, userID))
}

func (r *sqlitePreferenceRepo) List(ctx context.Context) ([]*models.NotificationPreference, error) {
	query := `
		SELECT user_id, channels_json, addresses_json, quiet_hours_start, quiet_hours_end, notification_delay_ns
		FROM notification_preferences ORDER BY user_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	var prefs []*models.NotificationPreference
	for rows.Next() {
		pref, err := r.scanPreference(rows)
		if err != nil {
			return nil, err
		}
		prefs = append(prefs, pref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preferences: %w", err)
	}
	return prefs, nil
}

func (r *sqlitePreferenceRepo) scanPreference(row rowScanner) (*models.NotificationPreference, error) {
	var pref models.NotificationPreference
	var channelsJSON, addressesJSON string
	var start, end sql.NullString
	var delayNs int64

	err := row.Scan(&pref.UserID, &channelsJSON, &addressesJSON, &start, &end, &delayNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan preference: %w", err)
	}

	if err := json.Unmarshal([]byte(channelsJSON), &pref.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal channels: %w", err)
	}
	if err := json.Unmarshal([]byte(addressesJSON), &pref.Addresses); err != nil {
		return nil, fmt.Errorf("unmarshal addresses: %w", err)
	}
	pref.QuietHoursStart = start.String
	pref.QuietHoursEnd = end.String
	pref.NotificationDelay = time.Duration(delayNs)
	return &pref, nil
}
