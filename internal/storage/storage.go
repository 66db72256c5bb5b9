// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/good-yellow-bee/flarepage/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = fmt.Errorf("record not found")

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Incidents() IncidentRepository
	Alerts() AlertRepository
	Attempts() AttemptRepository
	Preferences() PreferenceRepository
}

// IncidentRepository defines operations for incident records.
type IncidentRepository interface {
	Create(ctx context.Context, incident *models.Incident) error
	GetByID(ctx context.Context, id string) (*models.Incident, error)
	// GetOpenByDedupKey returns the open (not resolved) incident for a
	// service/dedup-key pair, or ErrNotFound.
	GetOpenByDedupKey(ctx context.Context, serviceID, dedupKey string) (*models.Incident, error)
	// GetLatestByDedupKey returns the most recently triggered incident
	// for the pair regardless of status, or ErrNotFound.
	GetLatestByDedupKey(ctx context.Context, serviceID, dedupKey string) (*models.Incident, error)
	Update(ctx context.Context, incident *models.Incident) error
	List(ctx context.Context, limit, offset int) ([]*models.Incident, int64, error)
	ListOpen(ctx context.Context) ([]*models.Incident, error)
	// NextNumber atomically allocates the next monotonic incident number.
	NextNumber(ctx context.Context) (int64, error)
}

// AlertRepository defines operations for the alerts constituting incidents.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert, incidentID string) error
	ListByIncident(ctx context.Context, incidentID string) ([]*models.Alert, error)
	// ResolveByIncident marks every firing alert of an incident resolved.
	ResolveByIncident(ctx context.Context, incidentID string, endsAt time.Time) (int64, error)
}

// AttemptRepository defines operations for notification attempts.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.NotificationAttempt) error
	Update(ctx context.Context, attempt *models.NotificationAttempt) error
	GetByID(ctx context.Context, id string) (*models.NotificationAttempt, error)
	ListByIncident(ctx context.Context, incidentID string) ([]*models.NotificationAttempt, error)
}

// PreferenceRepository defines operations for notification preferences.
// The engine only reads; writes belong to the preference-management layer.
type PreferenceRepository interface {
	Upsert(ctx context.Context, pref *models.NotificationPreference) error
	GetByUserID(ctx context.Context, userID string) (*models.NotificationPreference, error)
	List(ctx context.Context) ([]*models.NotificationPreference, error)
}
