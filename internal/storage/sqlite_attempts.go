package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/good-yellow-bee/flarepage/internal/models"
)

type sqliteAttemptRepo struct {
	db *sql.DB
}

const attemptColumns = `id, incident_id, level, user_id, channel, address, status,
	attempt_count, send_at, last_attempt_at, next_retry_at, last_error, created_at, updated_at`

func (r *sqliteAttemptRepo) Create(ctx context.Context, attempt *models.NotificationAttempt) error {
	query := `
		INSERT INTO notification_attempts (` + attemptColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		attempt.ID, attempt.IncidentID, attempt.Level, attempt.UserID, attempt.Channel,
		attempt.Address, attempt.Status, attempt.AttemptCount, attempt.SendAt,
		nullTime(attempt.LastAttemptAt), nullTime(attempt.NextRetryAt),
		nullString(attempt.LastError), attempt.CreatedAt, attempt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (r *sqliteAttemptRepo) Update(ctx context.Context, attempt *models.NotificationAttempt) error {
	query := `
		UPDATE notification_attempts SET status = ?, attempt_count = ?,
			last_attempt_at = ?, next_retry_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		attempt.Status, attempt.AttemptCount, nullTime(attempt.LastAttemptAt),
		nullTime(attempt.NextRetryAt), nullString(attempt.LastError), attempt.UpdatedAt,
		attempt.ID,
	)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("attempt not found: %s", attempt.ID)
	}
	return nil
}

func (r *sqliteAttemptRepo) GetByID(ctx context.Context, id string) (*models.NotificationAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM notification_attempts WHERE id = ?`
	return r.scanAttempt(r.db.QueryRowContext(ctx, query, id))
}

func (r *sqliteAttemptRepo) ListByIncident(ctx context.Context, incidentID string) ([]*models.NotificationAttempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM notification_attempts
		WHERE incident_id = ?
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.NotificationAttempt
	for rows.Next() {
		attempt, err := r.scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

func (r *sqliteAttemptRepo) scanAttempt(row rowScanner) (*models.NotificationAttempt, error) {
	var attempt models.NotificationAttempt
	var lastAt, retryAt sql.NullTime
	var lastErr sql.NullString

	err := row.Scan(
		&attempt.ID, &attempt.IncidentID, &attempt.Level, &attempt.UserID, &attempt.Channel,
		&attempt.Address, &attempt.Status, &attempt.AttemptCount, &attempt.SendAt,
		&lastAt, &retryAt, &lastErr, &attempt.CreatedAt, &attempt.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan attempt: %w", err)
	}

	attempt.LastAttemptAt = timePtr(lastAt)
	attempt.NextRetryAt = timePtr(retryAt)
	attempt.LastError = lastErr.String
	return &attempt, nil
}
