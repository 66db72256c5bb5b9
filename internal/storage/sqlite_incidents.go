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

type sqliteIncidentRepo struct {
	db *sql.DB
}

const incidentColumns = `id, number, title, severity, status, service_id, dedup_key,
	acknowledged_by, triggered_at, acknowledged_at, resolved_at,
	escalation_level, open_alert_ids_json, policy_json, flagged, created_at, updated_at`

func (r *sqliteIncidentRepo) Create(ctx context.Context, incident *models.Incident) error {
	openJSON, err := json.Marshal(incident.OpenAlertIDs)
	if err != nil {
		return fmt.Errorf("marshal open alert ids: %w", err)
	}
	policyJSON, err := json.Marshal(incident.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	query := `
		INSERT INTO incidents (` + incidentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		incident.ID, incident.Number, incident.Title, incident.Severity, incident.Status,
		incident.ServiceID, incident.DedupKey, nullString(incident.AcknowledgedBy),
		incident.TriggeredAt, nullTime(incident.AcknowledgedAt), nullTime(incident.ResolvedAt),
		incident.EscalationLevel, string(openJSON), string(policyJSON),
		boolToInt(incident.Flagged), incident.CreatedAt, incident.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (r *sqliteIncidentRepo) GetByID(ctx context.Context, id string) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = ?`
	return r.scanIncident(r.db.QueryRowContext(ctx, query, id))
}

func (r *sqliteIncidentRepo) GetOpenByDedupKey(ctx context.Context, serviceID, dedupKey string) (*models.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE service_id = ? AND dedup_key = ? AND status != ?
		ORDER BY triggered_at DESC
		LIMIT 1
	`
	return r.scanIncident(r.db.QueryRowContext(ctx, query, serviceID, dedupKey, models.IncidentResolved))
}

func (r *sqliteIncidentRepo) GetLatestByDedupKey(ctx context.Context, serviceID, dedupKey string) (*models.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE service_id = ? AND dedup_key = ?
		ORDER BY triggered_at DESC
		LIMIT 1
	`
	return r.scanIncident(r.db.QueryRowContext(ctx, query, serviceID, dedupKey))
}

func (r *sqliteIncidentRepo) Update(ctx context.Context, incident *models.Incident) error {
	openJSON, err := json.Marshal(incident.OpenAlertIDs)
	if err != nil {
		return fmt.Errorf("marshal open alert ids: %w", err)
	}
	policyJSON, err := json.Marshal(incident.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	query := `
		UPDATE incidents SET title = ?, severity = ?, status = ?, acknowledged_by = ?,
			acknowledged_at = ?, resolved_at = ?, escalation_level = ?,
			open_alert_ids_json = ?, policy_json = ?, flagged = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		incident.Title, incident.Severity, incident.Status, nullString(incident.AcknowledgedBy),
		nullTime(incident.AcknowledgedAt), nullTime(incident.ResolvedAt), incident.EscalationLevel,
		string(openJSON), string(policyJSON), boolToInt(incident.Flagged), incident.UpdatedAt,
		incident.ID,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("incident not found: %s", incident.ID)
	}
	return nil
}

func (r *sqliteIncidentRepo) List(ctx context.Context, limit, offset int) ([]*models.Incident, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM incidents").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count incidents: %w", err)
	}

	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		ORDER BY triggered_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	incidents, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return incidents, total, nil
}

func (r *sqliteIncidentRepo) ListOpen(ctx context.Context) ([]*models.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE status != ?
		ORDER BY triggered_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, models.IncidentResolved)
	if err != nil {
		return nil, fmt.Errorf("list open incidents: %w", err)
	}
	defer rows.Close()

	return r.collect(rows)
}

func (r *sqliteIncidentRepo) NextNumber(ctx context.Context) (int64, error) {
	var number int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO counters (name, value) VALUES ('incident_number', 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value
	`).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("next incident number: %w", err)
	}
	return number, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *sqliteIncidentRepo) scanIncident(row rowScanner) (*models.Incident, error) {
	var incident models.Incident
	var ackBy sql.NullString
	var ackAt, resolvedAt sql.NullTime
	var openJSON, policyJSON string
	var flagged int

	err := row.Scan(
		&incident.ID, &incident.Number, &incident.Title, &incident.Severity, &incident.Status,
		&incident.ServiceID, &incident.DedupKey, &ackBy, &incident.TriggeredAt,
		&ackAt, &resolvedAt, &incident.EscalationLevel, &openJSON, &policyJSON,
		&flagged, &incident.CreatedAt, &incident.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan incident: %w", err)
	}

	incident.AcknowledgedBy = ackBy.String
	incident.AcknowledgedAt = timePtr(ackAt)
	incident.ResolvedAt = timePtr(resolvedAt)
	incident.Flagged = flagged != 0

	if err := json.Unmarshal([]byte(openJSON), &incident.OpenAlertIDs); err != nil {
		return nil, fmt.Errorf("unmarshal open alert ids: %w", err)
	}
	if err := json.Unmarshal([]byte(policyJSON), &incident.Policy); err != nil {
		return nil, fmt.Errorf("unmarshal policy: %w", err)
	}

	return &incident, nil
}

func (r *sqliteIncidentRepo) collect(rows *sql.Rows) ([]*models.Incident, error) {
	var incidents []*models.Incident
	for rows.Next() {
		incident, err := r.scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return incidents, nil
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// timePtr converts a sql.NullTime to *time.Time.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time
	return &tt
}
