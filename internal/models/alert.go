// Package models defines domain models for FlarePage.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity represents alert and incident severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for max-severity merging.
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric ordering of a severity. Unknown severities rank lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseSeverity converts a string to Severity, defaulting to medium.
func ParseSeverity(s string) Severity {
	switch s {
	case "info":
		return SeverityInfo
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// AlertStatus represents the state of a raw alert.
type AlertStatus string

const (
	AlertFiring   AlertStatus = "firing"
	AlertResolved AlertStatus = "resolved"
)

// Alert is a single raw event pushed by a monitoring integration.
// Immutable once recorded, except Status/EndsAt on a resolving follow-up.
type Alert struct {
	ID        string      `json:"id"`
	DedupKey  string      `json:"dedup_key"`
	ServiceID string      `json:"service_id"`
	Name      string      `json:"name"`
	Severity  Severity    `json:"severity"`
	Status    AlertStatus `json:"status"`
	Source    string      `json:"source,omitempty"`
	StartsAt  time.Time   `json:"starts_at"`
	EndsAt    *time.Time  `json:"ends_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewAlert creates a firing alert with a generated ID and initialized timestamps.
func NewAlert(dedupKey, serviceID, name string, severity Severity) *Alert {
	now := time.Now().UTC()
	return &Alert{
		ID:        uuid.NewString(),
		DedupKey:  dedupKey,
		ServiceID: serviceID,
		Name:      name,
		Severity:  severity,
		Status:    AlertFiring,
		StartsAt:  now,
		CreatedAt: now,
	}
}

// Validate checks that the alert is well-formed for ingestion.
func (a *Alert) Validate() error {
	if a.DedupKey == "" {
		return fmt.Errorf("dedup key is required")
	}
	if a.ServiceID == "" {
		return fmt.Errorf("service id is required")
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("invalid severity: %q", a.Severity)
	}
	if a.Status != AlertFiring && a.Status != AlertResolved {
		return fmt.Errorf("invalid status: %q", a.Status)
	}
	return nil
}
