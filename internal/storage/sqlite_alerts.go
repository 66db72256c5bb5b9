package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/flarepage/internal/models"
)

type sqliteAlertRepo struct {
	db *sql.DB
}

func (r *sqliteAlertRepo) Create(ctx context.Context, alert *models.Alert, incidentID string) error {
	query := `
		INSERT INTO alerts (id, incident_id, dedup_key, service_id, name, severity,
			status, source, starts_at, ends_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		alert.ID, incidentID, alert.DedupKey, alert.ServiceID, alert.Name, alert.Severity,
		alert.Status, nullString(alert.Source), alert.StartsAt, nullTime(alert.EndsAt),
		alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) ListByIncident(ctx context.Context, incidentID string) ([]*models.Alert, error) {
	query := `
		SELECT id, dedup_key, service_id, name, severity, status, source, starts_at, ends_at, created_at
		FROM alerts WHERE incident_id = ?
		ORDER BY starts_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		var alert models.Alert
		var source sql.NullString
		var endsAt sql.NullTime
		if err := rows.Scan(
			&alert.ID, &alert.DedupKey, &alert.ServiceID, &alert.Name, &alert.Severity,
			&alert.Status, &source, &alert.StartsAt, &endsAt, &alert.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alert.Source = source.String
		alert.EndsAt = timePtr(endsAt)
		alerts = append(alerts, &alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

func (r *sqliteAlertRepo) ResolveByIncident(ctx context.Context, incidentID string, endsAt time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET status = ?, ends_at = ? WHERE incident_id = ? AND status = ?",
		models.AlertResolved, endsAt, incidentID, models.AlertFiring,
	)
	if err != nil {
		return 0, fmt.Errorf("resolve alerts: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
