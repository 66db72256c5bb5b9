package engine

import (
	"time"

	"github.com/good-yellow-bee/flarepage/internal/models"
)

// EventType classifies incident lifecycle events.
type EventType string

const (
	EventIncidentTriggered    EventType = "incident_triggered"
	EventAlertMerged          EventType = "alert_merged"
	EventIncidentAcknowledged EventType = "incident_acknowledged"
	EventIncidentResolved     EventType = "incident_resolved"
	EventIncidentEscalated    EventType = "incident_escalated"
	EventIncidentFlagged      EventType = "incident_flagged"
	EventNotification         EventType = "notification"
)

// Event is one lifecycle change, published on the engine's event
// channel for boundary layers (API, audit log) to consume. Incident
// and Attempt are snapshots: consumers may hold them freely.
type Event struct {
	Type     EventType
	Incident *models.Incident
	Attempt  *models.NotificationAttempt
	At       time.Time
}
