// Package engine correlates alert events into incidents and drives
// their lifecycle: deduplication, state transitions, and the handoff
// into escalation.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/good-yellow-bee/flarepage/internal/dispatch"
	"github.com/good-yellow-bee/flarepage/internal/escalation"
	"github.com/good-yellow-bee/flarepage/internal/metrics"
	"github.com/good-yellow-bee/flarepage/internal/models"
	"github.com/good-yellow-bee/flarepage/internal/storage"
)

// ErrIncidentResolved is returned for transitions out of resolved,
// which are forbidden: a recurrence is a new incident.
var ErrIncidentResolved = fmt.Errorf("incident is resolved")

// Stats tracks engine counters using atomic operations for lock-free access.
type Stats struct {
	AlertsIngested        atomic.Int64
	AlertsRejected        atomic.Int64
	IncidentsCreated      atomic.Int64
	AlertsMerged          atomic.Int64
	IncidentsAcknowledged atomic.Int64
	IncidentsResolved     atomic.Int64
	EventsDropped         atomic.Int64
}

// Options configures the engine.
type Options struct {
	// EventBufferSize is the size of the event channel buffer.
	EventBufferSize int
}

// DefaultOptions returns default engine options.
func DefaultOptions() *Options {
	return &Options{
		EventBufferSize: 256,
	}
}

// Engine is the incident correlation engine.
type Engine struct {
	store      storage.Storage
	policies   *escalation.PolicySet
	scheduler  *escalation.Scheduler
	dispatcher *dispatch.Dispatcher
	archive    *storage.AlertArchive // nil when archiving is disabled

	locks *lockTable

	events chan *Event
	closed atomic.Bool

	stats *Stats
}

// New creates the engine and wires it to the scheduler and dispatcher.
func New(store storage.Storage, policies *escalation.PolicySet, scheduler *escalation.Scheduler, dispatcher *dispatch.Dispatcher, archive *storage.AlertArchive, opts *Options) *Engine {
	if opts == nil {
		opts = DefaultOptions()
	}

	e := &Engine{
		store:      store,
		policies:   policies,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		archive:    archive,
		locks:      newLockTable(),
		events:     make(chan *Event, opts.EventBufferSize),
		stats:      &Stats{},
	}

	scheduler.Bind(e)
	dispatcher.SetObserver(e.onAttemptChange)
	return e
}

// Events returns the channel carrying incident lifecycle events.
func (e *Engine) Events() <-chan *Event {
	return e.events
}

// Stats returns the engine counters.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// Start re-arms escalation for incidents that were open at the last
// shutdown.
func (e *Engine) Start(ctx context.Context) error {
	open, err := e.store.Incidents().ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open incidents: %w", err)
	}
	resumed := 0
	for _, incident := range open {
		if incident.Status != models.IncidentTriggered {
			continue
		}
		e.scheduler.Resume(incident)
		resumed++
	}
	if len(open) > 0 {
		log.Printf("recovered %d open incidents, re-armed escalation for %d", len(open), resumed)
	}
	return nil
}

// Close stops event publication. Pending escalation timers belong to
// the timer queue and are shut down with it.
func (e *Engine) Close() {
	if e.closed.CompareAndSwap(false, true) {
		close(e.events)
	}
}

// IngestAlert correlates one alert event. It returns the affected
// incident and whether it was newly created. A resolving alert with no
// open incident is a recorded no-op: both return values are nil/false.
func (e *Engine) IngestAlert(ctx context.Context, alert *models.Alert) (*models.Incident, bool, error) {
	if err := alert.Validate(); err != nil {
		e.stats.AlertsRejected.Add(1)
		metrics.AlertsRejected.Inc()
		return nil, false, fmt.Errorf("invalid alert: %w", err)
	}
	e.stats.AlertsIngested.Add(1)
	metrics.AlertsIngested.WithLabelValues(string(alert.Status)).Inc()

	// Serialize per correlation key so concurrent duplicates cannot
	// both observe "no open incident" and create two.
	dedupLock := e.locks.get("dedup/" + alert.ServiceID + "/" + alert.DedupKey)
	dedupLock.Lock()
	defer dedupLock.Unlock()

	open, err := e.store.Incidents().GetOpenByDedupKey(ctx, alert.ServiceID, alert.DedupKey)
	switch {
	case err == nil:
		return e.mergeAlert(ctx, open.ID, alert)
	case err == storage.ErrNotFound:
		if alert.Status == models.AlertResolved {
			// Nothing open to resolve. Forbidden to reopen a resolved
			// incident, so this is a recorded no-op.
			log.Printf("dropping resolving alert %s for service %s: no open incident", alert.DedupKey, alert.ServiceID)
			return nil, false, nil
		}
		return e.createIncident(ctx, alert)
	default:
		return nil, false, fmt.Errorf("failed to look up open incident: %w", err)
	}
}

// mergeAlert folds an alert into an existing open incident.
func (e *Engine) mergeAlert(ctx context.Context, incidentID string, alert *models.Alert) (*models.Incident, bool, error) {
	lock := e.locks.get("incident/" + incidentID)
	lock.Lock()
	defer lock.Unlock()

	incident, err := e.store.Incidents().GetByID(ctx, incidentID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load incident %s: %w", incidentID, err)
	}
	if !incident.IsOpen() {
		// Resolved between lookup and lock. Recurrence is a new incident.
		if alert.Status == models.AlertResolved {
			return nil, false, nil
		}
		return e.createIncident(ctx, alert)
	}

	if err := e.store.Alerts().Create(ctx, alert, incident.ID); err != nil {
		return nil, false, fmt.Errorf("failed to record alert: %w", err)
	}
	e.appendToArchive(alert, incident.ID)

	now := time.Now().UTC()
	if alert.Status == models.AlertFiring {
		incident.AddOpenAlert(alert.ID)
		incident.Severity = models.MaxSeverity(incident.Severity, alert.Severity)
		incident.UpdatedAt = now
		if err := e.store.Incidents().Update(ctx, incident); err != nil {
			return nil, false, fmt.Errorf("failed to update incident %s: %w", incident.ID, err)
		}
		e.stats.AlertsMerged.Add(1)
		metrics.AlertsMerged.Inc()
		e.publish(&Event{Type: EventAlertMerged, Incident: snapshot(incident), At: now})
		return snapshot(incident), false, nil
	}

	// A resolving alert closes every firing alert sharing the dedup
	// key, which empties the open set and auto-resolves the incident.
	if _, err := e.store.Alerts().ResolveByIncident(ctx, incident.ID, now); err != nil {
		return nil, false, fmt.Errorf("failed to resolve alerts for incident %s: %w", incident.ID, err)
	}
	incident.OpenAlertIDs = nil
	if err := e.resolveLocked(ctx, incident, "auto"); err != nil {
		return nil, false, err
	}
	return snapshot(incident), false, nil
}

// createIncident opens a new incident for a firing alert. Caller holds
// the dedup lock for the alert's correlation key.
func (e *Engine) createIncident(ctx context.Context, alert *models.Alert) (*models.Incident, bool, error) {
	policy, perr := e.policies.ForService(alert.ServiceID)
	if perr != nil {
		// The incident must still exist; it just cannot escalate.
		log.Printf("no escalation policy for service %s, flagging incident: %v", alert.ServiceID, perr)
	}

	// Recurrence after resolution is always a fresh incident; note the
	// prior one so responders can find the history.
	if prev, err := e.store.Incidents().GetLatestByDedupKey(ctx, alert.ServiceID, alert.DedupKey); err == nil && prev.Status == models.IncidentResolved {
		log.Printf("dedup key %s/%s recurring after resolved incident #%d", alert.ServiceID, alert.DedupKey, prev.Number)
	}

	number, err := e.store.Incidents().NextNumber(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to allocate incident number: %w", err)
	}

	incident := models.NewIncident(alert, policy, number)
	if perr != nil {
		incident.Flagged = true
	}

	if err := e.store.Incidents().Create(ctx, incident); err != nil {
		return nil, false, fmt.Errorf("failed to create incident: %w", err)
	}
	if err := e.store.Alerts().Create(ctx, alert, incident.ID); err != nil {
		return nil, false, fmt.Errorf("failed to record alert: %w", err)
	}
	e.appendToArchive(alert, incident.ID)

	e.stats.IncidentsCreated.Add(1)
	metrics.IncidentsCreated.Inc()
	if incident.Flagged {
		metrics.IncidentsFlagged.Inc()
	}
	log.Printf("incident #%d created for service %s (severity %s)", incident.Number, incident.ServiceID, incident.Severity)
	e.publish(&Event{Type: EventIncidentTriggered, Incident: snapshot(incident), At: incident.TriggeredAt})

	e.scheduler.OnTrigger(incident)
	return snapshot(incident), true, nil
}

// Acknowledge transitions a triggered incident to acknowledged and
// cancels its escalation. Acknowledging twice is a no-op; acknowledging
// a resolved incident is rejected.
func (e *Engine) Acknowledge(ctx context.Context, incidentID, byUser string) (*models.Incident, error) {
	lock := e.locks.get("incident/" + incidentID)
	lock.Lock()
	defer lock.Unlock()

	incident, err := e.store.Incidents().GetByID(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	switch incident.Status {
	case models.IncidentResolved:
		return nil, ErrIncidentResolved
	case models.IncidentAcknowledged:
		return snapshot(incident), nil
	}

	now := time.Now().UTC()
	incident.Status = models.IncidentAcknowledged
	incident.AcknowledgedBy = byUser
	incident.AcknowledgedAt = &now
	incident.UpdatedAt = now
	if err := e.store.Incidents().Update(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to persist acknowledgement: %w", err)
	}

	// Cancellation completes before this method returns: a timer that
	// races us blocks on the incident lock and then sees the new state.
	e.scheduler.Cancel(incident.ID)
	e.dispatcher.CancelIncident(ctx, incident.ID)

	e.stats.IncidentsAcknowledged.Add(1)
	metrics.IncidentsAcknowledged.Inc()
	log.Printf("incident #%d acknowledged by %s", incident.Number, byUser)
	e.publish(&Event{Type: EventIncidentAcknowledged, Incident: snapshot(incident), At: now})
	return snapshot(incident), nil
}

// Resolve transitions an open incident to resolved. Resolving an
// already resolved incident is a no-op.
func (e *Engine) Resolve(ctx context.Context, incidentID, byUser string) (*models.Incident, error) {
	lock := e.locks.get("incident/" + incidentID)
	lock.Lock()
	defer lock.Unlock()

	incident, err := e.store.Incidents().GetByID(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status == models.IncidentResolved {
		return snapshot(incident), nil
	}

	now := time.Now().UTC()
	if _, err := e.store.Alerts().ResolveByIncident(ctx, incident.ID, now); err != nil {
		return nil, fmt.Errorf("failed to resolve alerts for incident %s: %w", incident.ID, err)
	}
	incident.OpenAlertIDs = nil
	if err := e.resolveLocked(ctx, incident, "manual"); err != nil {
		return nil, err
	}
	if byUser != "" {
		log.Printf("incident #%d resolved by %s", incident.Number, byUser)
	}
	return snapshot(incident), nil
}

// resolveLocked applies the resolved transition. Caller holds the
// incident lock and has already emptied the open alert set.
func (e *Engine) resolveLocked(ctx context.Context, incident *models.Incident, origin string) error {
	now := time.Now().UTC()
	incident.Status = models.IncidentResolved
	incident.ResolvedAt = &now
	incident.UpdatedAt = now
	if err := e.store.Incidents().Update(ctx, incident); err != nil {
		return fmt.Errorf("failed to persist resolution: %w", err)
	}

	e.scheduler.Cancel(incident.ID)
	e.dispatcher.CancelIncident(ctx, incident.ID)

	e.stats.IncidentsResolved.Add(1)
	metrics.IncidentsResolved.WithLabelValues(origin).Inc()
	log.Printf("incident #%d resolved (%s)", incident.Number, origin)
	e.publish(&Event{Type: EventIncidentResolved, Incident: snapshot(incident), At: now})
	return nil
}

// AdvanceEscalation implements escalation.IncidentAPI. It moves a
// still-triggered incident to the given level, or reports the fire as
// stale when acknowledgement, resolution, or a later level won the race.
func (e *Engine) AdvanceEscalation(ctx context.Context, incidentID string, level int) (*models.Incident, error) {
	lock := e.locks.get("incident/" + incidentID)
	lock.Lock()
	defer lock.Unlock()

	incident, err := e.store.Incidents().GetByID(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status != models.IncidentTriggered || incident.EscalationLevel > level {
		return nil, escalation.ErrStaleEscalation
	}

	if incident.EscalationLevel != level {
		now := time.Now().UTC()
		incident.EscalationLevel = level
		incident.UpdatedAt = now
		if err := e.store.Incidents().Update(ctx, incident); err != nil {
			return nil, fmt.Errorf("failed to persist escalation level: %w", err)
		}
		e.publish(&Event{Type: EventIncidentEscalated, Incident: snapshot(incident), At: now})
	}
	return snapshot(incident), nil
}

// FlagForManualAttention implements escalation.IncidentAPI.
func (e *Engine) FlagForManualAttention(ctx context.Context, incidentID string) error {
	lock := e.locks.get("incident/" + incidentID)
	lock.Lock()
	defer lock.Unlock()

	incident, err := e.store.Incidents().GetByID(ctx, incidentID)
	if err != nil {
		return err
	}
	if incident.Flagged || !incident.IsOpen() {
		return nil
	}

	now := time.Now().UTC()
	incident.Flagged = true
	incident.UpdatedAt = now
	if err := e.store.Incidents().Update(ctx, incident); err != nil {
		return fmt.Errorf("failed to persist flag: %w", err)
	}
	metrics.IncidentsFlagged.Inc()
	log.Printf("incident #%d flagged for manual attention", incident.Number)
	e.publish(&Event{Type: EventIncidentFlagged, Incident: snapshot(incident), At: now})
	return nil
}

// GetIncident returns one incident by ID.
func (e *Engine) GetIncident(ctx context.Context, incidentID string) (*models.Incident, error) {
	return e.store.Incidents().GetByID(ctx, incidentID)
}

// ListIncidents returns a page of incidents and the total count.
func (e *Engine) ListIncidents(ctx context.Context, limit, offset int) ([]*models.Incident, int64, error) {
	return e.store.Incidents().List(ctx, limit, offset)
}

// onAttemptChange republishes dispatcher attempt changes as events.
func (e *Engine) onAttemptChange(attempt *models.NotificationAttempt) {
	e.publish(&Event{Type: EventNotification, Attempt: attempt, At: time.Now().UTC()})
}

// publish sends an event without blocking. A full channel drops the
// event and counts the drop.
func (e *Engine) publish(event *Event) {
	if e.closed.Load() {
		return
	}
	select {
	case e.events <- event:
	default:
		dropped := e.stats.EventsDropped.Add(1)
		if dropped == 1 || dropped%100 == 0 {
			log.Printf("warning: event channel full, dropped %d events total", dropped)
		}
	}
}

// appendToArchive forwards the alert to the ClickHouse archive when
// one is configured.
func (e *Engine) appendToArchive(alert *models.Alert, incidentID string) {
	if e.archive != nil {
		e.archive.Append(alert, incidentID)
	}
}

// snapshot returns a copy callers may hold without racing the engine.
func snapshot(incident *models.Incident) *models.Incident {
	copied := *incident
	copied.OpenAlertIDs = append([]string(nil), incident.OpenAlertIDs...)
	return &copied
}
