// Package metrics provides Prometheus metrics for FlarePage.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "flarepage"
)

// Ingestion metrics
var (
	// AlertsIngested counts accepted alert events by status.
	AlertsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "alerts_total",
			Help:      "Total alert events accepted for correlation",
		},
		[]string{"status"},
	)

	// AlertsRejected counts alerts that failed validation.
	AlertsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "alerts_rejected_total",
			Help:      "Total alert events rejected by validation",
		},
	)
)

// Incident metrics
var (
	// IncidentsCreated counts incidents opened from a new dedup key.
	IncidentsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "created_total",
			Help:      "Total incidents created",
		},
	)

	// AlertsMerged counts alerts deduplicated into an open incident.
	AlertsMerged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "alerts_merged_total",
			Help:      "Total alerts merged into existing open incidents",
		},
	)

	// IncidentsAcknowledged counts transitions into acknowledged.
	IncidentsAcknowledged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "acknowledged_total",
			Help:      "Total incidents acknowledged",
		},
	)

	// IncidentsResolved counts transitions into resolved by origin.
	IncidentsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "resolved_total",
			Help:      "Total incidents resolved",
		},
		[]string{"origin"},
	)

	// IncidentsFlagged counts incidents flagged for manual attention.
	IncidentsFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "flagged_total",
			Help:      "Total incidents flagged for manual attention",
		},
	)
)

// Escalation metrics
var (
	// EscalationsFired counts escalation timers that fired and advanced.
	EscalationsFired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "fired_total",
			Help:      "Total escalation levels fired",
		},
	)

	// EscalationsStale counts fired timers discarded by the stale guard.
	EscalationsStale = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "stale_total",
			Help:      "Total escalation fires discarded as stale",
		},
	)

	// EscalationsUnstaffed counts levels skipped because no target resolved.
	EscalationsUnstaffed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "unstaffed_total",
			Help:      "Total escalation levels skipped with no resolvable targets",
		},
	)

	// TimerQueueDepth tracks pending timers in the shared queue.
	TimerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "timer_queue_depth",
			Help:      "Number of pending timers in the escalation timer queue",
		},
	)
)

// Notification metrics
var (
	// NotificationsTotal counts attempt outcomes by channel and status.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "attempts_total",
			Help:      "Total notification attempt outcomes",
		},
		[]string{"channel", "status"},
	)

	// NotificationsDelayed counts sends deferred by quiet hours.
	NotificationsDelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "delayed_total",
			Help:      "Total notifications deferred to the end of quiet hours",
		},
	)

	// NotificationRetries counts scheduled delivery retries.
	NotificationRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "retries_total",
			Help:      "Total notification delivery retries scheduled",
		},
	)

	// NotificationSendDuration tracks adapter send latency by channel.
	NotificationSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "send_duration_seconds",
			Help:      "Notification adapter send latency in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel"},
	)

	// NotificationsRateLimited counts attempts suppressed by rate limiting.
	NotificationsRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "rate_limited_total",
			Help:      "Total notification attempts suppressed by the rate limiter",
		},
	)
)

// Archive metrics
var (
	// ArchiveAlertsWritten counts alerts flushed to the ClickHouse archive.
	ArchiveAlertsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "alerts_written_total",
			Help:      "Total alerts written to the alert archive",
		},
	)

	// ArchiveAlertsDropped counts alerts dropped when the archive lagged.
	ArchiveAlertsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "alerts_dropped_total",
			Help:      "Total alerts dropped before reaching the alert archive",
		},
	)
)
