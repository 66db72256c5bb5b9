package escalation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/good-yellow-bee/flarepage/internal/metrics"
	"github.com/good-yellow-bee/flarepage/internal/models"
	"github.com/good-yellow-bee/flarepage/internal/oncall"
	"github.com/good-yellow-bee/flarepage/internal/timerq"
)

// ErrStaleEscalation is returned by the incident API when a fired timer
// observes the incident has moved past its level or closed. Stale fires
// are logged and discarded, never surfaced as faults.
var ErrStaleEscalation = fmt.Errorf("stale escalation timer")

// IncidentAPI is the state machine surface the scheduler escalates
// through. The scheduler never writes escalation level directly.
type IncidentAPI interface {
	// AdvanceEscalation moves the incident to the given level and
	// returns a snapshot, or ErrStaleEscalation if the incident is no
	// longer triggered (acknowledged or resolved) or already past the
	// level.
	AdvanceEscalation(ctx context.Context, incidentID string, level int) (*models.Incident, error)
	// FlagForManualAttention marks an incident whose policy is
	// exhausted or unstaffed.
	FlagForManualAttention(ctx context.Context, incidentID string) error
}

// PreferenceReader looks up a responder's notification preference.
type PreferenceReader interface {
	GetByUserID(ctx context.Context, userID string) (*models.NotificationPreference, error)
}

// NotificationDispatcher accepts gated notification intents.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, incident *models.Incident, level int, userID string, channel models.ChannelKind, address string, sendAt time.Time) error
}

// Scheduler maintains, per open incident, exactly one pending timer:
// "advance to the next level if still unacknowledged".
type Scheduler struct {
	timers     *timerq.Queue
	resolver   oncall.Resolver
	prefs      PreferenceReader
	dispatcher NotificationDispatcher
	incidents  IncidentAPI

	mu      sync.Mutex
	pending map[string]timerq.Token // incident ID -> armed timer
}

// NewScheduler creates an escalation scheduler. Bind must be called
// with the incident API before any incident triggers.
func NewScheduler(timers *timerq.Queue, resolver oncall.Resolver, prefs PreferenceReader, dispatcher NotificationDispatcher) *Scheduler {
	return &Scheduler{
		timers:     timers,
		resolver:   resolver,
		prefs:      prefs,
		dispatcher: dispatcher,
		pending:    make(map[string]timerq.Token),
	}
}

// Bind wires the incident state machine. Separate from the constructor
// because the engine and scheduler reference each other.
func (s *Scheduler) Bind(incidents IncidentAPI) {
	s.incidents = incidents
}

// OnTrigger schedules the level-0 fire for a freshly triggered
// incident, immediately unless the policy has an initial delay.
func (s *Scheduler) OnTrigger(incident *models.Incident) {
	if len(incident.Policy.Levels) == 0 {
		log.Printf("incident %s has no escalation levels, leaving for manual attention", incident.ID)
		return
	}
	s.arm(incident.ID, 0, incident.Policy.GetInitialDelayDuration())
}

// Resume re-arms escalation for an open incident after a restart: the
// next level is scheduled after the current level's full delay.
func (s *Scheduler) Resume(incident *models.Incident) {
	level := incident.EscalationLevel
	if level+1 >= len(incident.Policy.Levels) {
		return
	}
	s.arm(incident.ID, level+1, incident.Policy.Levels[level].GetDelayDuration())
}

// Cancel removes the incident's pending escalation timer. Safe to call
// when no timer is pending and safe to call repeatedly.
func (s *Scheduler) Cancel(incidentID string) {
	s.mu.Lock()
	token, ok := s.pending[incidentID]
	delete(s.pending, incidentID)
	s.mu.Unlock()

	if ok {
		s.timers.Cancel(token)
	}
}

// PendingCount returns the number of incidents with an armed timer.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// arm replaces the incident's pending timer with one for the given
// level. The pending entry is recorded while s.mu is held; a zero-delay
// fire blocks on the same lock in onLevelFire, so the fire path never
// observes the map without its own token in it.
func (s *Scheduler) arm(incidentID string, level int, delay time.Duration) {
	s.mu.Lock()
	old, had := s.pending[incidentID]
	token := s.timers.ScheduleAfter(delay, func(ctx context.Context, tok timerq.Token) {
		s.onLevelFire(ctx, incidentID, level, tok)
	})
	s.pending[incidentID] = token
	s.mu.Unlock()

	if had {
		s.timers.Cancel(old)
	}
}

// onLevelFire runs when an escalation timer fires. Cancellation that
// completes first removes the timer entirely; the AdvanceEscalation
// stale check is the guard against a fired-but-stale timer that raced
// the cancellation.
func (s *Scheduler) onLevelFire(ctx context.Context, incidentID string, level int, token timerq.Token) {
	s.mu.Lock()
	if s.pending[incidentID] == token {
		delete(s.pending, incidentID)
	}
	s.mu.Unlock()

	incident, err := s.incidents.AdvanceEscalation(ctx, incidentID, level)
	if err == ErrStaleEscalation {
		log.Printf("discarding stale escalation fire for incident %s level %d", incidentID, level)
		metrics.EscalationsStale.Inc()
		return
	}
	if err != nil {
		// Storage failure: the transition was not applied. Retry the
		// same level shortly rather than dropping the escalation.
		log.Printf("escalation advance failed for incident %s level %d: %v", incidentID, level, err)
		s.arm(incidentID, level, 15*time.Second)
		return
	}

	metrics.EscalationsFired.Inc()
	log.Printf("escalation timer fired for incident %s level %d", incidentID, level)

	now := time.Now()
	targets, err := s.resolver.ResolveTargets(incident.Policy.Levels[level], incident.ServiceID, now)
	if err != nil || len(targets) == 0 {
		// Nobody was notified, so don't wait out the level delay.
		if err != nil {
			log.Printf("target resolution failed for incident %s level %d: %v", incidentID, level, err)
		} else {
			log.Printf("no targets on call for incident %s level %d", incidentID, level)
		}
		metrics.EscalationsUnstaffed.Inc()
		s.advanceOrFlag(ctx, incident, level, 0, true)
		return
	}

	for _, userID := range targets {
		s.notifyTarget(ctx, incident, level, userID, now)
	}

	s.advanceOrFlag(ctx, incident, level, incident.Policy.Levels[level].GetDelayDuration(), false)
}

// advanceOrFlag schedules the next level after delay. An exhausted
// policy ends automatic escalation; if the final level was unstaffed
// the incident is flagged, since nobody was ever notified of it.
func (s *Scheduler) advanceOrFlag(ctx context.Context, incident *models.Incident, level int, delay time.Duration, unstaffed bool) {
	if level+1 < len(incident.Policy.Levels) {
		s.arm(incident.ID, level+1, delay)
		return
	}
	if unstaffed {
		if err := s.incidents.FlagForManualAttention(ctx, incident.ID); err != nil {
			log.Printf("flag incident %s: %v", incident.ID, err)
		}
	}
}

// notifyTarget gates one responder through quiet hours and hands each
// enabled channel to the dispatcher.
func (s *Scheduler) notifyTarget(ctx context.Context, incident *models.Incident, level int, userID string, now time.Time) {
	pref, err := s.prefs.GetByUserID(ctx, userID)
	if err != nil {
		log.Printf("no notification preference for user %s, skipping: %v", userID, err)
		return
	}

	decision := Decide(pref, incident.Severity, now)
	if decision.Action == ActionSuppress {
		return
	}
	if decision.Action == ActionDelay {
		metrics.NotificationsDelayed.Inc()
	}

	for _, channel := range pref.Channels {
		address := pref.Addresses[channel]
		if address == "" {
			continue
		}
		if err := s.dispatcher.Dispatch(ctx, incident, level, userID, channel, address, decision.At); err != nil {
			log.Printf("dispatch %s/%s for incident %s failed: %v", userID, channel, incident.ID, err)
		}
	}
}
