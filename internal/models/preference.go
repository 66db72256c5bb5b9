package models

import (
	"fmt"
	"time"
)

// ChannelKind identifies a notification delivery medium.
type ChannelKind string

const (
	ChannelEmail ChannelKind = "email"
	ChannelSMS   ChannelKind = "sms"
	ChannelPush  ChannelKind = "push"
	ChannelChat  ChannelKind = "chat"
)

// ParseChannelKind converts a string to ChannelKind.
func ParseChannelKind(s string) (ChannelKind, error) {
	switch ChannelKind(s) {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelChat:
		return ChannelKind(s), nil
	default:
		return "", fmt.Errorf("unknown channel kind: %q", s)
	}
}

// NotificationPreference holds a user's delivery settings. Read-only
// input to the engine; mutated only by the preference-management layer.
type NotificationPreference struct {
	UserID string `json:"user_id" yaml:"user_id"`

	// Channels is the set of enabled delivery channels.
	Channels []ChannelKind `json:"channels" yaml:"channels"`

	// Addresses maps each channel to the user's contact address
	// (email address, phone number, device token, chat handle).
	Addresses map[ChannelKind]string `json:"addresses" yaml:"addresses"`

	// QuietHoursStart/End are times of day ("22:00"). Empty means no
	// quiet hours. The window may wrap past midnight.
	QuietHoursStart string `json:"quiet_hours_start,omitempty" yaml:"quiet_hours_start,omitempty"`
	QuietHoursEnd   string `json:"quiet_hours_end,omitempty" yaml:"quiet_hours_end,omitempty"`

	// NotificationDelay postpones every send to this user, quiet hours
	// or not (e.g. "30s" of grace before paging).
	NotificationDelay time.Duration `json:"notification_delay" yaml:"notification_delay"`
}

// HasQuietHours reports whether a quiet-hours window is configured.
func (p *NotificationPreference) HasQuietHours() bool {
	return p.QuietHoursStart != "" && p.QuietHoursEnd != ""
}

// ChannelEnabled reports whether the given channel is enabled.
func (p *NotificationPreference) ChannelEnabled(kind ChannelKind) bool {
	for _, c := range p.Channels {
		if c == kind {
			return true
		}
	}
	return false
}

// Validate checks the preference for errors.
func (p *NotificationPreference) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	for _, c := range p.Channels {
		if _, err := ParseChannelKind(string(c)); err != nil {
			return err
		}
		if p.Addresses[c] == "" {
			return fmt.Errorf("user %q: no address for enabled channel %q", p.UserID, c)
		}
	}
	if (p.QuietHoursStart == "") != (p.QuietHoursEnd == "") {
		return fmt.Errorf("user %q: quiet hours need both start and end", p.UserID)
	}
	if p.HasQuietHours() {
		if _, err := ParseTimeOfDay(p.QuietHoursStart); err != nil {
			return fmt.Errorf("user %q: invalid quiet_hours_start: %w", p.UserID, err)
		}
		if _, err := ParseTimeOfDay(p.QuietHoursEnd); err != nil {
			return fmt.Errorf("user %q: invalid quiet_hours_end: %w", p.UserID, err)
		}
	}
	return nil
}

// ParseTimeOfDay parses an "HH:MM" string into minutes since midnight.
func ParseTimeOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
