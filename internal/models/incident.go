package models

import (
	"time"

	"github.com/google/uuid"
)

// IncidentStatus represents the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentTriggered    IncidentStatus = "triggered"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentResolved     IncidentStatus = "resolved"
)

// Incident aggregates one or more alerts sharing a dedup key within an
// open window. Severity is the max severity of constituent alerts.
type Incident struct {
	ID              string           `json:"id"`
	Number          int64            `json:"number"`
	Title           string           `json:"title"`
	Severity        Severity         `json:"severity"`
	Status          IncidentStatus   `json:"status"`
	ServiceID       string           `json:"service_id"`
	DedupKey        string           `json:"dedup_key"`
	AcknowledgedBy  string           `json:"acknowledged_by,omitempty"`
	TriggeredAt     time.Time        `json:"triggered_at"`
	AcknowledgedAt  *time.Time       `json:"acknowledged_at,omitempty"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
	EscalationLevel int              `json:"escalation_level"`
	OpenAlertIDs    []string         `json:"open_alert_ids"`
	Policy          EscalationPolicy `json:"policy"`
	Flagged         bool             `json:"flagged"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewIncident creates a triggered incident from its first alert.
// The escalation policy is captured by value so later policy edits
// cannot affect an in-progress escalation.
func NewIncident(alert *Alert, policy EscalationPolicy, number int64) *Incident {
	now := time.Now().UTC()
	return &Incident{
		ID:           uuid.NewString(),
		Number:       number,
		Title:        alert.Name,
		Severity:     alert.Severity,
		Status:       IncidentTriggered,
		ServiceID:    alert.ServiceID,
		DedupKey:     alert.DedupKey,
		TriggeredAt:  now,
		OpenAlertIDs: []string{alert.ID},
		Policy:       policy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsOpen reports whether the incident is triggered or acknowledged.
func (i *Incident) IsOpen() bool {
	return i.Status == IncidentTriggered || i.Status == IncidentAcknowledged
}

// HasOpenAlert reports whether the given alert ID is in the open set.
func (i *Incident) HasOpenAlert(alertID string) bool {
	for _, id := range i.OpenAlertIDs {
		if id == alertID {
			return true
		}
	}
	return false
}

// AddOpenAlert adds an alert ID to the open set if not already present.
func (i *Incident) AddOpenAlert(alertID string) {
	if i.HasOpenAlert(alertID) {
		return
	}
	i.OpenAlertIDs = append(i.OpenAlertIDs, alertID)
}

// RemoveOpenAlert removes an alert ID from the open set.
// Returns true if the set is empty afterwards.
func (i *Incident) RemoveOpenAlert(alertID string) bool {
	for idx, id := range i.OpenAlertIDs {
		if id == alertID {
			i.OpenAlertIDs = append(i.OpenAlertIDs[:idx], i.OpenAlertIDs[idx+1:]...)
			break
		}
	}
	return len(i.OpenAlertIDs) == 0
}
