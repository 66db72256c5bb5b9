// Package escalation drives incidents through their policy levels and
// gates notifications on responder quiet hours.
package escalation

import (
	"time"

	"github.com/good-yellow-bee/flarepage/internal/models"
)

// Action is the outcome of a quiet-hours evaluation.
type Action string

const (
	ActionSend     Action = "send"
	ActionDelay    Action = "delay"
	ActionSuppress Action = "suppress"
)

// Decision says when (or whether) a notification may go out.
// For Send and Delay, At is the earliest send instant.
type Decision struct {
	Action Action
	At     time.Time
}

// Decide evaluates a user's quiet hours for a notification at severity
// level sev at instant now. Deterministic and side-effect-free.
//
// Critical severity overrides quiet hours entirely. A disabled channel
// is not this function's concern; the dispatcher suppresses those.
func Decide(pref *models.NotificationPreference, sev models.Severity, now time.Time) Decision {
	sendAt := now.Add(pref.NotificationDelay)

	if sev == models.SeverityCritical {
		return Decision{Action: ActionSend, At: sendAt}
	}
	if !pref.HasQuietHours() {
		return Decision{Action: ActionSend, At: sendAt}
	}

	start, err := models.ParseTimeOfDay(pref.QuietHoursStart)
	if err != nil {
		return Decision{Action: ActionSend, At: sendAt}
	}
	end, err := models.ParseTimeOfDay(pref.QuietHoursEnd)
	if err != nil {
		return Decision{Action: ActionSend, At: sendAt}
	}

	minute := now.Hour()*60 + now.Minute()
	if !inWindow(minute, start, end) {
		return Decision{Action: ActionSend, At: sendAt}
	}

	return Decision{Action: ActionDelay, At: nextOccurrence(now, end)}
}

// inWindow reports whether minute falls in [start, end), wrapping past
// midnight when start > end. A zero-length window never matches.
func inWindow(minute, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// nextOccurrence returns the next instant at endMinute-of-day strictly
// after now's minute.
func nextOccurrence(now time.Time, endMinute int) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), endMinute/60, endMinute%60, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}
