package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/flarepage/internal/models"
	"github.com/good-yellow-bee/flarepage/internal/notifier"
	"github.com/good-yellow-bee/flarepage/internal/storage"
	"github.com/good-yellow-bee/flarepage/internal/timerq"
)

// memAttempts is an in-memory AttemptRepository.
type memAttempts struct {
	mu   sync.Mutex
	rows map[string]models.NotificationAttempt
}

func newMemAttempts() *memAttempts {
	return &memAttempts{rows: make(map[string]models.NotificationAttempt)}
}

func (m *memAttempts) Create(_ context.Context, attempt *models.NotificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[attempt.ID] = *attempt
	return nil
}

func (m *memAttempts) Update(_ context.Context, attempt *models.NotificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[attempt.ID]; !ok {
		return storage.ErrNotFound
	}
	m.rows[attempt.ID] = *attempt
	return nil
}

func (m *memAttempts) GetByID(_ context.Context, id string) (*models.NotificationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &row, nil
}

func (m *memAttempts) ListByIncident(_ context.Context, incidentID string) ([]*models.NotificationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.NotificationAttempt
	for _, row := range m.rows {
		if row.IncidentID == incidentID {
			copied := row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memAttempts) byStatus(status models.AttemptStatus) []models.NotificationAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.NotificationAttempt
	for _, row := range m.rows {
		if row.Status == status {
			out = append(out, row)
		}
	}
	return out
}

// flakyNotifier fails the first failures sends, then succeeds.
type flakyNotifier struct {
	mu       sync.Mutex
	failures int
	sent     []string
}

func (f *flakyNotifier) Name() string { return "flaky" }

func (f *flakyNotifier) Kind() models.ChannelKind { return models.ChannelEmail }

func (f *flakyNotifier) Close() error { return nil }
func (f *flakyNotifier) Send(_ context.Context, address string, _ *notifier.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("transient delivery failure")
	}
	f.sent = append(f.sent, address)
	return nil
}

func (f *flakyNotifier) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testIncident() *models.Incident {
	policy := models.EscalationPolicy{
		ID:   "p1",
		Name: "Test",
		Levels: []models.PolicyLevel{
			{Delay: "5m", Targets: []models.TargetSelector{{Type: models.TargetUser, ID: "alice"}}},
		},
	}
	alert := models.NewAlert("disk-full", "svc-1", "Disk full on db-1", models.SeverityHigh)
	return models.NewIncident(alert, policy, 7)
}

func newTestDispatcher(t *testing.T, adapter notifier.Notifier, cfg Config) (*Dispatcher, *memAttempts) {
	t.Helper()
	queue := timerq.New(&timerq.Options{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	queue.Start(ctx)
	t.Cleanup(func() {
		cancel()
		queue.Close()
	})

	reg := notifier.NewRegistryWithRateLimit(notifier.RateLimitConfig{Enabled: false})
	reg.Register(adapter)

	repo := newMemAttempts()
	d := NewDispatcher(cfg, queue, repo, reg)
	d.backoff = &Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2}
	return d, repo
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

func TestDispatchDelivers(t *testing.T) {
	adapter := &flakyNotifier{}
	d, repo := newTestDispatcher(t, adapter, DefaultConfig())
	incident := testIncident()

	err := d.Dispatch(context.Background(), incident, 0, "alice", models.ChannelEmail, "alice@example.com", time.Now())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return adapter.sentCount() == 1 }) {
		t.Fatal("notification never delivered")
	}

	sent := repo.byStatus(models.AttemptSent)
	if len(sent) != 1 {
		t.Fatalf("sent attempts = %d, want 1", len(sent))
	}
	if sent[0].AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", sent[0].AttemptCount)
	}
	if !waitFor(t, time.Second, func() bool { return d.OpenCount() == 0 }) {
		t.Errorf("open attempts = %d, want 0", d.OpenCount())
	}
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	adapter := &flakyNotifier{failures: 3}
	d, repo := newTestDispatcher(t, adapter, DefaultConfig())
	incident := testIncident()

	err := d.Dispatch(context.Background(), incident, 0, "alice", models.ChannelEmail, "alice@example.com", time.Now())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return adapter.sentCount() == 1 }) {
		t.Fatal("notification never delivered after retries")
	}

	sent := repo.byStatus(models.AttemptSent)
	if len(sent) != 1 {
		t.Fatalf("sent attempts = %d, want 1", len(sent))
	}
	if sent[0].AttemptCount != 4 {
		t.Errorf("attempt count = %d, want 4 (3 failures then success)", sent[0].AttemptCount)
	}
	if sent[0].LastError != "" {
		t.Errorf("last error should be cleared on success, got %q", sent[0].LastError)
	}
}

func TestDispatchFailsAfterMaxAttempts(t *testing.T) {
	adapter := &flakyNotifier{failures: 100}
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	d, repo := newTestDispatcher(t, adapter, cfg)
	incident := testIncident()

	err := d.Dispatch(context.Background(), incident, 0, "alice", models.ChannelEmail, "alice@example.com", time.Now())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return len(repo.byStatus(models.AttemptFailed)) == 1 }) {
		t.Fatal("attempt never reached failed state")
	}

	failed := repo.byStatus(models.AttemptFailed)
	if failed[0].AttemptCount != 3 {
		t.Errorf("attempt count = %d, want 3", failed[0].AttemptCount)
	}
	if failed[0].LastError == "" {
		t.Error("failed attempt should record its last error")
	}
	if adapter.sentCount() != 0 {
		t.Errorf("adapter delivered %d, want 0", adapter.sentCount())
	}
}

func TestDispatchCoalescesDuplicates(t *testing.T) {
	adapter := &flakyNotifier{}
	d, repo := newTestDispatcher(t, adapter, DefaultConfig())
	incident := testIncident()
	sendAt := time.Now().Add(time.Hour)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := d.Dispatch(ctx, incident, 0, "alice", models.ChannelEmail, "alice@example.com", sendAt); err != nil {
			t.Fatalf("Dispatch %d: %v", i, err)
		}
	}

	if got := d.OpenCount(); got != 1 {
		t.Errorf("open attempts = %d, want 1", got)
	}
	if got := len(repo.byStatus(models.AttemptPending)); got != 1 {
		t.Errorf("pending rows = %d, want 1", got)
	}
}

func TestCancelIncident(t *testing.T) {
	adapter := &flakyNotifier{}
	d, repo := newTestDispatcher(t, adapter, DefaultConfig())
	incident := testIncident()

	ctx := context.Background()
	err := d.Dispatch(ctx, incident, 0, "alice", models.ChannelEmail, "alice@example.com", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	d.CancelIncident(ctx, incident.ID)
	d.CancelIncident(ctx, incident.ID) // idempotent

	if got := d.OpenCount(); got != 0 {
		t.Errorf("open attempts = %d, want 0", got)
	}
	cancelled := repo.byStatus(models.AttemptCancelled)
	if len(cancelled) != 1 {
		t.Fatalf("cancelled rows = %d, want 1", len(cancelled))
	}

	time.Sleep(50 * time.Millisecond)
	if adapter.sentCount() != 0 {
		t.Errorf("adapter delivered %d after cancel, want 0", adapter.sentCount())
	}
}

func TestRateLimitedAttemptIsSuppressed(t *testing.T) {
	adapter := &flakyNotifier{}
	queue := timerq.New(&timerq.Options{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	queue.Start(ctx)
	t.Cleanup(func() {
		cancel()
		queue.Close()
	})

	reg := notifier.NewRegistryWithRateLimit(notifier.RateLimitConfig{
		MaxPerWindow: 1,
		Window:       time.Minute,
		Enabled:      true,
	})
	reg.Register(adapter)

	repo := newMemAttempts()
	d := NewDispatcher(DefaultConfig(), queue, repo, reg)

	incident := testIncident()
	now := time.Now()
	if err := d.Dispatch(ctx, incident, 0, "alice", models.ChannelEmail, "alice@example.com", now); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := d.Dispatch(ctx, incident, 0, "bob", models.ChannelEmail, "bob@example.com", now); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool {
		return len(repo.byStatus(models.AttemptSent)) == 1 && len(repo.byStatus(models.AttemptSuppressed)) == 1
	}) {
		t.Fatalf("want 1 sent and 1 suppressed, got sent=%d suppressed=%d",
			len(repo.byStatus(models.AttemptSent)), len(repo.byStatus(models.AttemptSuppressed)))
	}
}

func TestObserverSeesLifecycle(t *testing.T) {
	adapter := &flakyNotifier{}
	d, _ := newTestDispatcher(t, adapter, DefaultConfig())

	var mu sync.Mutex
	var statuses []models.AttemptStatus
	d.SetObserver(func(attempt *models.NotificationAttempt) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, attempt.Status)
	})

	incident := testIncident()
	if err := d.Dispatch(context.Background(), incident, 0, "alice", models.ChannelEmail, "alice@example.com", time.Now()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) >= 2
	}) {
		t.Fatal("observer never saw the full lifecycle")
	}

	mu.Lock()
	defer mu.Unlock()
	if statuses[0] != models.AttemptPending {
		t.Errorf("first status = %s, want pending", statuses[0])
	}
	if statuses[len(statuses)-1] != models.AttemptSent {
		t.Errorf("last status = %s, want sent", statuses[len(statuses)-1])
	}
}
