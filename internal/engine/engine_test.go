package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/flarepage/internal/dispatch"
	"github.com/good-yellow-bee/flarepage/internal/escalation"
	"github.com/good-yellow-bee/flarepage/internal/models"
	"github.com/good-yellow-bee/flarepage/internal/notifier"
	"github.com/good-yellow-bee/flarepage/internal/storage"
	"github.com/good-yellow-bee/flarepage/internal/timerq"
)

// userResolver resolves user selectors to themselves, like the on-call
// directory does, without needing schedule fixtures.
type userResolver struct{}

func (userResolver) ResolveTargets(level models.PolicyLevel, _ string, _ time.Time) ([]string, error) {
	var users []string
	for _, target := range level.Targets {
		if target.Type == models.TargetUser {
			users = append(users, target.ID)
		}
	}
	return users, nil
}

// recordingNotifier captures deliveries instead of sending them.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []string // addresses in delivery order
}

func (r *recordingNotifier) Name() string             { return "recording" }
func (r *recordingNotifier) Kind() models.ChannelKind { return models.ChannelEmail }
func (r *recordingNotifier) Close() error             { return nil }

func (r *recordingNotifier) Send(_ context.Context, address string, _ *notifier.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, address)
	return nil
}

func (r *recordingNotifier) deliveries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	copy(out, r.sent)
	return out
}

type testRig struct {
	engine  *Engine
	store   *storage.SQLiteStorage
	adapter *recordingNotifier
}

const testPoliciesYAML = `
policies:
  - id: test-policy
    name: Test escalation
    services: [svc-1]
    levels:
      - delay: 400ms
        targets:
          - type: user
            id: user-0
      - delay: 1h
        targets:
          - type: user
            id: user-1
`

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "flarepage.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	queue := timerq.New(&timerq.Options{Workers: 2})
	queue.Start(ctx)
	t.Cleanup(func() {
		cancel()
		queue.Close()
	})

	for _, userID := range []string{"user-0", "user-1"} {
		pref := &models.NotificationPreference{
			UserID:    userID,
			Channels:  []models.ChannelKind{models.ChannelEmail},
			Addresses: map[models.ChannelKind]string{models.ChannelEmail: userID + "@example.com"},
		}
		if err := store.Preferences().Upsert(ctx, pref); err != nil {
			t.Fatalf("seed preference: %v", err)
		}
	}

	policies, err := escalation.LoadPolicies(strings.NewReader(testPoliciesYAML))
	if err != nil {
		t.Fatalf("load policies: %v", err)
	}

	adapter := &recordingNotifier{}
	registry := notifier.NewRegistryWithRateLimit(notifier.RateLimitConfig{Enabled: false})
	registry.Register(adapter)

	dispatcher := dispatch.NewDispatcher(dispatch.DefaultConfig(), queue, store.Attempts(), registry)
	scheduler := escalation.NewScheduler(queue, userResolver{}, store.Preferences(), dispatcher)

	eng := New(store, policies, scheduler, dispatcher, nil, nil)
	t.Cleanup(eng.Close)

	return &testRig{engine: eng, store: store, adapter: adapter}
}

func firingAlert(dedupKey string, severity models.Severity) *models.Alert {
	return models.NewAlert(dedupKey, "svc-1", "Disk full on db-1", severity)
}

func resolvedAlert(dedupKey string) *models.Alert {
	alert := models.NewAlert(dedupKey, "svc-1", "Disk full on db-1", models.SeverityHigh)
	alert.Status = models.AlertResolved
	now := time.Now().UTC()
	alert.EndsAt = &now
	return alert
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestIngestCreatesIncident(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	incident, created, err := rig.engine.IngestAlert(ctx, firingAlert("disk-full", models.SeverityHigh))
	if err != nil {
		t.Fatalf("IngestAlert: %v", err)
	}
	if !created {
		t.Error("expected a new incident")
	}
	if incident.Status != models.IncidentTriggered {
		t.Errorf("status = %s, want triggered", incident.Status)
	}
	if incident.Number != 1 {
		t.Errorf("number = %d, want 1", incident.Number)
	}
	if incident.Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want high", incident.Severity)
	}
	if len(incident.OpenAlertIDs) != 1 {
		t.Errorf("open alerts = %d, want 1", len(incident.OpenAlertIDs))
	}
	if incident.EscalationLevel != 0 {
		t.Errorf("escalation level = %d, want 0", incident.EscalationLevel)
	}
}

func TestIngestDeduplicatesIntoOpenIncident(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	first, _, err := rig.engine.IngestAlert(ctx, firingAlert("disk-full", models.SeverityMedium))
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	second, created, err := rig.engine.IngestAlert(ctx, firingAlert("disk-full", models.SeverityCritical))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if created {
		t.Error("duplicate alert must merge, not create")
	}
	if second.ID != first.ID {
		t.Errorf("merged into %s, want %s", second.ID, first.ID)
	}
	if len(second.OpenAlertIDs) != 2 {
		t.Errorf("open alerts = %d, want 2", len(second.OpenAlertIDs))
	}
	if second.Severity != models.SeverityCritical {
		t.Errorf("severity = %s, want critical after merge", second.Severity)
	}
	if got := rig.engine.Stats().AlertsMerged.Load(); got != 1 {
		t.Errorf("merged stat = %d, want 1", got)
	}
}

func TestIngestSeparateKeysCreateSeparateIncidents(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	a, _, err := rig.engine.IngestAlert(ctx, firingAlert("disk-full", models.SeverityHigh))
	if err != nil {
		t.Fatalf("ingest a: %v", err)
	}
	b, created, err := rig.engine.IngestAlert(ctx, firingAlert("cpu-high", models.SeverityHigh))
	if err != nil {
		t.Fatalf("ingest b: %v", err)
	}
	if !created || a.ID == b.ID {
		t.Error("different dedup keys must open different incidents")
	}
	if b.Number != a.Number+1 {
		t.Errorf("numbers not monotonic: %d then %d", a.Number, b.Number)
	}
}

func TestResolvingAlertAutoResolvesIncident(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	incident, _, err := rig.engine.IngestAlert(ctx, firingAlert("disk-full", models.SeverityHigh))
	if err != nil {
		t.Fatalf("ingest firing: %v", err)
	}

	resolved, created, err := rig.engine.IngestAlert(ctx, resolvedAlert("disk-full"))
	if err != nil {
		t.Fatalf("ingest resolved: %v", err)
	}
	if created {
		t.Error("resolving alert must not create an incident")
	}
	if resolved.Status != models.IncidentResolved {
		t.Errorf("status = %s, want resolved", resolved.Status)
	}
	if resolved.ResolvedAt == nil {
		t.Error("resolvedAt not set")
	}
	if len(resolved.OpenAlertIDs) != 0 {
		t.Errorf("open alerts = %d, want 0", len(resolved.OpenAlertIDs))
	}

	stored, err := rig.store.Incidents().GetByID(ctx, incident.ID)
	if err != nil {
		t.Fatalf("reload incident: %v", err)
	}
	if stored.Status != models.IncidentResolved {
		t.Errorf("stored status = %s, want resolved", stored.Status)
	}
}

func TestResolvedIncidentIsNeverReopened(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	first, _, err := rig.engine.IngestAlert(ctx, firingAlert("disk-full", models.SeverityHigh))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, _, err := rig.engine.IngestAlert(ctx, resolvedAlert("disk-full")); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	recurrence, created, err := rig.engine.IngestAlert(ctx, firingAlert("disk-full", models.SeverityHigh))
	if err != nil {
		t.Fatalf("recurrence: %v", err)
	}
	if !created {
		t.Error("recurrence after resolution must create a fresh incident")
	}
	if recurrence.ID == first.ID {
		t.Error("resolved incident was reopened")
	}
	if recurrence.Number <= first.Number {
		t.Errorf("recurrence number %d not after %d", recurrence.Number, first.Number)
	}
}

func TestResolvingAlertWithNoOpenIncidentIsNoop(t *testing.T) {
	rig := newTestRig(t)

	incident, created, err := rig.engine.IngestAlert(context.Background(), resolvedAlert("never-seen"))
	if err != nil {
		t.Fatalf("IngestAlert: %v", err)
	}
	if incident != nil || created {
		t.Error("resolving alert with no open incident must be a no-op")
	}
}

func TestInvalidAlertRejected(t *testing.T) {
	rig := newTestRig(t)

	alert := firingAlert("disk-full", models.SeverityHigh)
	alert.DedupKey = ""
	if _, _, err := rig.engine.IngestAlert(context.Background(), alert); err == nil {
		t.Fatal("expected validation error")
	}
	if got := rig.engine.Stats().AlertsRejected.Load(); got != 1 {
		t.Errorf("rejected stat = %d, want 1", got)
	}
}

func TestAcknowledgeStopsEscalation(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	incident, _, err := rig.engine.IngestAlert(ctx, firingAlert("disk-full", models.SeverityHigh))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// Level 0 fires immediately and pages user-0.
	if !waitFor(t, 2*time.Second, func() bool { return len(rig.adapter.deliveries()) >= 1 }) {
		t.Fatal("level 0 notification never delivered")
	}

	acked, err := rig.engine.Acknowledge(ctx, incident.ID, "alice")
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if acked.Status != models.IncidentAcknowledged {
		t.Errorf("status = %s, want acknowledged", acked.Status)
	}
	if acked.AcknowledgedBy != "alice" || acked.AcknowledgedAt == nil {
		t.Error("acknowledgement metadata not recorded")
	}

	// The level-1 timer (400ms after level 0) must never fire now.
	time.Sleep(700 * time.Millisecond)
	if got := rig.adapter.deliveries(); len(got) != 1 {
		t.Errorf("deliveries after ack = %v, want only the level-0 page", got)
	}

	stored, err := rig.store.Incidents().GetByID(ctx, incident.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.EscalationLevel != 0 {
		t.Errorf("escalation level = %d, want 0", stored.EscalationLevel)
	}

	// Acknowledging again is a no-op.
	again, err := rig.engine.Acknowledge(ctx, incident.ID, "bob")
	if err != nil {
		t.Fatalf("second Acknowledge: %v", err)
	}
	if again.AcknowledgedBy != "alice" {
		t.Errorf("acknowledgedBy = %s, want alice", again.AcknowledgedBy)
	}
}

func TestAcknowledgeResolvedIncidentRejected(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	incident, _, err := rig.engine.IngestAlert(ctx, firingAlert("disk-full", models.SeverityHigh))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := rig.engine.Resolve(ctx, incident.ID, "alice"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if _, err := rig.engine.Acknowledge(ctx, incident.ID, "bob"); !errors.Is(err, ErrIncidentResolved) {
		t.Errorf("expected ErrIncidentResolved, got %v", err)
	}
}

func TestManualResolveIsIdempotent(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	incident, _, err := rig.engine.IngestAlert(ctx, firingAlert("disk-full", models.SeverityHigh))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	first, err := rig.engine.Resolve(ctx, incident.ID, "alice")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := rig.engine.Resolve(ctx, incident.ID, "bob")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if !first.ResolvedAt.Equal(*second.ResolvedAt) {
		t.Error("second resolve must not move resolvedAt")
	}
	if got := rig.engine.Stats().IncidentsResolved.Load(); got != 1 {
		t.Errorf("resolved stat = %d, want 1", got)
	}
}

// Unacknowledged incidents walk every policy level in order and then
// stay open at the final level.
func TestEscalationWalksAllLevels(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	incident, _, err := rig.engine.IngestAlert(ctx, firingAlert("disk-full", models.SeverityHigh))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return len(rig.adapter.deliveries()) >= 2 }) {
		t.Fatalf("deliveries = %v, want both levels paged", rig.adapter.deliveries())
	}

	got := rig.adapter.deliveries()
	if got[0] != "user-0@example.com" || got[1] != "user-1@example.com" {
		t.Errorf("delivery order = %v, want level 0 then level 1", got)
	}

	stored, err := rig.store.Incidents().GetByID(ctx, incident.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != models.IncidentTriggered {
		t.Errorf("status = %s, want still triggered", stored.Status)
	}
	if stored.EscalationLevel != 1 {
		t.Errorf("escalation level = %d, want 1", stored.EscalationLevel)
	}

	attempts, err := rig.store.Attempts().ListByIncident(ctx, incident.ID)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(attempts))
	}
	for _, attempt := range attempts {
		if attempt.Status != models.AttemptSent {
			t.Errorf("attempt %s status = %s, want sent", attempt.ID, attempt.Status)
		}
	}
}

func TestUnknownServiceIncidentIsFlagged(t *testing.T) {
	rig := newTestRig(t)

	alert := models.NewAlert("disk-full", "unclaimed-svc", "Disk full", models.SeverityHigh)
	incident, created, err := rig.engine.IngestAlert(context.Background(), alert)
	if err != nil {
		t.Fatalf("IngestAlert: %v", err)
	}
	if !created {
		t.Fatal("incident must still be created without a policy")
	}
	if !incident.Flagged {
		t.Error("incident without a policy must be flagged for manual attention")
	}

	time.Sleep(100 * time.Millisecond)
	if got := rig.adapter.deliveries(); len(got) != 0 {
		t.Errorf("deliveries = %v, want none without a policy", got)
	}
}

func TestEventsPublished(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	incident, _, err := rig.engine.IngestAlert(ctx, firingAlert("disk-full", models.SeverityHigh))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := rig.engine.Acknowledge(ctx, incident.ID, "alice"); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	seen := make(map[EventType]bool)
	deadline := time.After(2 * time.Second)
	for !seen[EventIncidentTriggered] || !seen[EventIncidentAcknowledged] {
		select {
		case event := <-rig.engine.Events():
			seen[event.Type] = true
		case <-deadline:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
}

func TestConcurrentDuplicateIngest(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	createdCount := make([]bool, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := rig.engine.IngestAlert(ctx, firingAlert("disk-full", models.SeverityHigh))
			createdCount[i] = created
			errs[i] = err
		}(i)
	}
	wg.Wait()

	creations := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if createdCount[i] {
			creations++
		}
	}
	if creations != 1 {
		t.Errorf("creations = %d, want exactly 1", creations)
	}

	open, err := rig.store.Incidents().ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open incidents = %d, want 1", len(open))
	}
	if len(open[0].OpenAlertIDs) != workers {
		t.Errorf("open alerts = %d, want %d", len(open[0].OpenAlertIDs), workers)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	incident, _, err := rig.engine.IngestAlert(ctx, firingAlert("disk-full", models.SeverityHigh))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	incident.Status = models.IncidentResolved
	incident.OpenAlertIDs = nil

	stored, err := rig.store.Incidents().GetByID(ctx, incident.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != models.IncidentTriggered || len(stored.OpenAlertIDs) != 1 {
		t.Error("caller mutation of a returned incident leaked into the engine")
	}
}

func TestAcknowledgeUnknownIncident(t *testing.T) {
	rig := newTestRig(t)

	_, err := rig.engine.Acknowledge(context.Background(), fmt.Sprintf("no-such-%d", time.Now().UnixNano()), "alice")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
