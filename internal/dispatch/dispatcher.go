// Package dispatch owns the notification attempt lifecycle: creation,
// scheduled delivery, retries, and cancellation.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/good-yellow-bee/flarepage/internal/metrics"
	"github.com/good-yellow-bee/flarepage/internal/models"
	"github.com/good-yellow-bee/flarepage/internal/notifier"
	"github.com/good-yellow-bee/flarepage/internal/storage"
	"github.com/good-yellow-bee/flarepage/internal/timerq"
)

// Config holds dispatcher tuning.
type Config struct {
	MaxAttempts    int           // delivery tries before an attempt fails (default: 5)
	AdapterTimeout time.Duration // per-send adapter timeout (default: 30s)
}

// DefaultConfig returns the default dispatcher tuning.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		AdapterTimeout: 30 * time.Second,
	}
}

// inflight is a non-terminal attempt the dispatcher is tracking: either
// waiting for its send time, mid-delivery, or waiting for a retry.
type inflight struct {
	attempt   *models.NotificationAttempt
	msg       *notifier.Message
	token     timerq.Token
	cancelled bool
	sending   bool
}

// Dispatcher delivers notifications through channel adapters. At most
// one non-terminal attempt exists per (incident, level, target,
// channel); a second dispatch for the same tuple coalesces into the
// first.
type Dispatcher struct {
	cfg      Config
	backoff  *Backoff
	timers   *timerq.Queue
	attempts storage.AttemptRepository
	registry *notifier.Registry

	mu   sync.Mutex
	open map[models.AttemptKey]*inflight

	// observer, when set, sees every persisted attempt state change.
	observer func(attempt *models.NotificationAttempt)
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg Config, timers *timerq.Queue, attempts storage.AttemptRepository, registry *notifier.Registry) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = 30 * time.Second
	}
	return &Dispatcher{
		cfg:      cfg,
		backoff:  NewBackoff(),
		timers:   timers,
		attempts: attempts,
		registry: registry,
		open:     make(map[models.AttemptKey]*inflight),
	}
}

// SetObserver registers a callback for attempt state changes. Must be
// called before the first Dispatch.
func (d *Dispatcher) SetObserver(fn func(attempt *models.NotificationAttempt)) {
	d.observer = fn
}

// Dispatch records a notification intent and schedules its delivery at
// sendAt. A non-terminal attempt for the same (incident, level, target,
// channel) absorbs the call.
func (d *Dispatcher) Dispatch(ctx context.Context, incident *models.Incident, level int, userID string, channel models.ChannelKind, address string, sendAt time.Time) error {
	key := models.AttemptKey{IncidentID: incident.ID, Level: level, UserID: userID, Channel: channel}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.open[key]; exists {
		log.Printf("coalescing duplicate dispatch for incident %s level %d user %s channel %s",
			incident.ID, level, userID, channel)
		return nil
	}

	attempt := models.NewNotificationAttempt(incident.ID, level, userID, channel, address, sendAt)
	if err := d.attempts.Create(ctx, attempt); err != nil {
		return fmt.Errorf("failed to record notification attempt: %w", err)
	}

	inf := &inflight{
		attempt: attempt,
		msg: &notifier.Message{
			IncidentID:  incident.ID,
			Number:      incident.Number,
			Title:       incident.Title,
			Severity:    incident.Severity,
			ServiceID:   incident.ServiceID,
			Level:       level,
			TriggeredAt: incident.TriggeredAt,
		},
	}
	d.open[key] = inf
	inf.token = d.timers.ScheduleAt(sendAt, func(ctx context.Context, _ timerq.Token) {
		d.deliver(ctx, key)
	})

	d.notifyObserver(attempt)
	return nil
}

// CancelIncident cancels every pending attempt for the incident. By the
// time it returns, no new adapter call for the incident will start.
// Deliveries already mid-flight record their outcome but never retry.
func (d *Dispatcher) CancelIncident(ctx context.Context, incidentID string) {
	d.mu.Lock()
	var done []models.NotificationAttempt
	for key, inf := range d.open {
		if key.IncidentID != incidentID || inf.cancelled {
			continue
		}
		inf.cancelled = true
		if !inf.sending {
			d.timers.Cancel(inf.token)
			delete(d.open, key)
		}
		inf.attempt.Status = models.AttemptCancelled
		inf.attempt.UpdatedAt = time.Now().UTC()
		done = append(done, *inf.attempt)
	}
	d.mu.Unlock()

	for i := range done {
		attempt := &done[i]
		if err := d.attempts.Update(ctx, attempt); err != nil {
			log.Printf("failed to persist cancelled attempt %s: %v", attempt.ID, err)
		}
		metrics.NotificationsTotal.WithLabelValues(string(attempt.Channel), string(models.AttemptCancelled)).Inc()
		d.notifyObserver(attempt)
	}
}

// OpenCount returns the number of non-terminal attempts being tracked.
func (d *Dispatcher) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.open)
}

// deliver runs when an attempt's send or retry timer fires.
func (d *Dispatcher) deliver(ctx context.Context, key models.AttemptKey) {
	d.mu.Lock()
	inf, ok := d.open[key]
	if !ok || inf.cancelled {
		d.mu.Unlock()
		return
	}
	inf.sending = true
	now := time.Now().UTC()
	inf.attempt.AttemptCount++
	inf.attempt.LastAttemptAt = &now
	inf.attempt.NextRetryAt = nil
	attempt := inf.attempt
	channel := attempt.Channel
	address := attempt.Address
	msg := inf.msg
	d.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.AdapterTimeout)
	start := time.Now()
	err := d.registry.Send(sendCtx, channel, address, msg)
	cancel()
	metrics.NotificationSendDuration.WithLabelValues(string(channel)).Observe(time.Since(start).Seconds())

	d.mu.Lock()
	inf.sending = false
	switch {
	case err == nil:
		// A delivery that raced a cancellation still counts as sent.
		attempt.Status = models.AttemptSent
		attempt.LastError = ""
		delete(d.open, key)

	case errors.Is(err, notifier.ErrRateLimited):
		attempt.Status = models.AttemptSuppressed
		attempt.LastError = err.Error()
		delete(d.open, key)
		metrics.NotificationsRateLimited.Inc()
		log.Printf("attempt %s suppressed by rate limiter", attempt.ID)

	case inf.cancelled:
		// The incident closed while the adapter call was in flight.
		// Keep the cancelled status, just record what happened.
		attempt.Status = models.AttemptCancelled
		attempt.LastError = err.Error()
		delete(d.open, key)

	case attempt.AttemptCount >= d.cfg.MaxAttempts:
		attempt.Status = models.AttemptFailed
		attempt.LastError = err.Error()
		delete(d.open, key)
		log.Printf("attempt %s failed permanently after %d tries: %v", attempt.ID, attempt.AttemptCount, err)

	default:
		attempt.LastError = err.Error()
		retryAt := time.Now().UTC().Add(d.backoff.ForAttempt(attempt.AttemptCount))
		attempt.NextRetryAt = &retryAt
		inf.token = d.timers.ScheduleAt(retryAt, func(ctx context.Context, _ timerq.Token) {
			d.deliver(ctx, key)
		})
		metrics.NotificationRetries.Inc()
		log.Printf("attempt %s delivery failed (try %d/%d), retrying at %s: %v",
			attempt.ID, attempt.AttemptCount, d.cfg.MaxAttempts, retryAt.Format(time.RFC3339), err)
	}
	attempt.UpdatedAt = time.Now().UTC()
	snapshot := *attempt
	d.mu.Unlock()

	if snapshot.Terminal() {
		metrics.NotificationsTotal.WithLabelValues(string(snapshot.Channel), string(snapshot.Status)).Inc()
	}
	if uerr := d.attempts.Update(ctx, &snapshot); uerr != nil {
		log.Printf("failed to persist attempt %s: %v", snapshot.ID, uerr)
	}
	d.notifyObserver(&snapshot)
}

func (d *Dispatcher) notifyObserver(attempt *models.NotificationAttempt) {
	if d.observer != nil {
		copied := *attempt
		d.observer(&copied)
	}
}
