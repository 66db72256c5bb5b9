package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/flarepage/internal/models"
)

type fakeNotifier struct {
	mu    sync.Mutex
	kind  models.ChannelKind
	sent  []string
	fail  error
	close bool
}

func (f *fakeNotifier) Name() string { return "fake-" + string(f.kind) }

func (f *fakeNotifier) Kind() models.ChannelKind { return f.kind }

func (f *fakeNotifier) Send(_ context.Context, address string, _ *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, address)
	return nil
}

func (f *fakeNotifier) Close() error {
	f.close = true
	return nil
}

func testMessage() *Message {
	return &Message{
		IncidentID:  "inc-1",
		Number:      42,
		Title:       "Disk full on db-1",
		Severity:    models.SeverityHigh,
		ServiceID:   "database",
		Level:       0,
		TriggeredAt: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
	}
}

func TestRegistryRoutesByChannelKind(t *testing.T) {
	email := &fakeNotifier{kind: models.ChannelEmail}
	sms := &fakeNotifier{kind: models.ChannelSMS}

	reg := NewRegistryWithRateLimit(RateLimitConfig{Enabled: false})
	reg.Register(email)
	reg.Register(sms)

	if err := reg.Send(context.Background(), models.ChannelSMS, "+15551234567", testMessage()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(email.sent) != 0 {
		t.Errorf("email adapter received %d sends, want 0", len(email.sent))
	}
	if len(sms.sent) != 1 || sms.sent[0] != "+15551234567" {
		t.Errorf("sms adapter sent = %v, want [+15551234567]", sms.sent)
	}
}

func TestRegistryUnknownChannel(t *testing.T) {
	reg := NewRegistry()
	err := reg.Send(context.Background(), models.ChannelPush, "token", testMessage())
	if !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestRegistryRateLimited(t *testing.T) {
	email := &fakeNotifier{kind: models.ChannelEmail}
	reg := NewRegistryWithRateLimit(RateLimitConfig{
		MaxPerWindow: 2,
		Window:       time.Minute,
		Enabled:      true,
	})
	reg.Register(email)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := reg.Send(ctx, models.ChannelEmail, "a@example.com", testMessage()); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	err := reg.Send(ctx, models.ChannelEmail, "a@example.com", testMessage())
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if got := reg.RateLimitStats().Dropped; got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestRegistryRefundsTokenOnFailure(t *testing.T) {
	failing := &fakeNotifier{kind: models.ChannelEmail, fail: fmt.Errorf("smtp down")}
	reg := NewRegistryWithRateLimit(RateLimitConfig{
		MaxPerWindow: 1,
		Window:       time.Minute,
		Enabled:      true,
	})
	reg.Register(failing)

	ctx := context.Background()
	if err := reg.Send(ctx, models.ChannelEmail, "a@example.com", testMessage()); err == nil {
		t.Fatal("expected send failure")
	}

	// The failed send must not have consumed the only token.
	failing.fail = nil
	if err := reg.Send(ctx, models.ChannelEmail, "a@example.com", testMessage()); err != nil {
		t.Errorf("send after refund: %v", err)
	}
}

func TestRegistryClose(t *testing.T) {
	email := &fakeNotifier{kind: models.ChannelEmail}
	chat := &fakeNotifier{kind: models.ChannelChat}

	reg := NewRegistry()
	reg.Register(email)
	reg.Register(chat)

	if err := reg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !email.close || !chat.close {
		t.Error("Close did not reach all adapters")
	}
	if _, ok := reg.Get(models.ChannelEmail); ok {
		t.Error("adapters should be cleared after Close")
	}
}

func TestMessageSubject(t *testing.T) {
	msg := testMessage()
	want := "[HIGH] FlarePage incident #42: Disk full on db-1"
	if got := msg.Subject(); got != want {
		t.Errorf("Subject() = %q, want %q", got, want)
	}
}
