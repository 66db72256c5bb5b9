package models

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus represents the state of a notification attempt.
type AttemptStatus string

const (
	AttemptPending    AttemptStatus = "pending"
	AttemptSent       AttemptStatus = "sent"
	AttemptFailed     AttemptStatus = "failed"
	AttemptSuppressed AttemptStatus = "suppressed"
	AttemptCancelled  AttemptStatus = "cancelled"
)

// NotificationAttempt records delivery of one notification: one per
// (incident, escalation level, target, channel). Created and mutated
// only by the dispatcher.
type NotificationAttempt struct {
	ID            string        `json:"id"`
	IncidentID    string        `json:"incident_id"`
	Level         int           `json:"level"`
	UserID        string        `json:"user_id"`
	Channel       ChannelKind   `json:"channel"`
	Address       string        `json:"address"`
	Status        AttemptStatus `json:"status"`
	AttemptCount  int           `json:"attempt_count"`
	SendAt        time.Time     `json:"send_at"`
	LastAttemptAt *time.Time    `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time    `json:"next_retry_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewNotificationAttempt creates a pending attempt scheduled for sendAt.
func NewNotificationAttempt(incidentID string, level int, userID string, channel ChannelKind, address string, sendAt time.Time) *NotificationAttempt {
	now := time.Now().UTC()
	return &NotificationAttempt{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		Level:      level,
		UserID:     userID,
		Channel:    channel,
		Address:    address,
		Status:     AttemptPending,
		SendAt:     sendAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Terminal reports whether the attempt has reached a final state.
func (a *NotificationAttempt) Terminal() bool {
	switch a.Status {
	case AttemptSent, AttemptFailed, AttemptSuppressed, AttemptCancelled:
		return true
	}
	return false
}

// Key returns the coalescing identity of the attempt. At most one
// non-terminal attempt exists per key at any time.
func (a *NotificationAttempt) Key() AttemptKey {
	return AttemptKey{IncidentID: a.IncidentID, Level: a.Level, UserID: a.UserID, Channel: a.Channel}
}

// AttemptKey identifies the (incident, level, target, channel) tuple.
type AttemptKey struct {
	IncidentID string
	Level      int
	UserID     string
	Channel    ChannelKind
}
