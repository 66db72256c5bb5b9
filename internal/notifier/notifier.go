// Package notifier provides delivery channel adapters for incident
// notifications.
package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/good-yellow-bee/flarepage/internal/models"
)

// Message is the channel-independent content of one notification.
type Message struct {
	IncidentID  string
	Number      int64
	Title       string
	Severity    models.Severity
	ServiceID   string
	Level       int
	TriggeredAt time.Time
}

// Subject returns the one-line summary used by subject-style channels.
func (m *Message) Subject() string {
	return fmt.Sprintf("[%s] FlarePage incident #%d: %s", strings.ToUpper(string(m.Severity)), m.Number, m.Title)
}

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the adapter name (e.g., "email", "slack").
	Name() string
	// Kind returns the preference channel this adapter serves.
	Kind() models.ChannelKind
	// Send delivers a notification to a single address.
	Send(ctx context.Context, address string, msg *Message) error
	// Close releases any resources.
	Close() error
}

// ErrRateLimited is returned when a notification is dropped because the
// global send budget is exhausted.
var ErrRateLimited = fmt.Errorf("notification rate limited")

// ErrUnknownChannel is returned when no adapter serves a channel.
var ErrUnknownChannel = fmt.Errorf("no adapter registered for channel")

// Registry routes notifications to the adapter serving each channel
// kind, behind a shared rate limiter.
type Registry struct {
	mu          sync.RWMutex
	notifiers   map[models.ChannelKind]Notifier
	rateLimiter *RateLimiter
}

// NewRegistry creates a registry with default rate limiting.
func NewRegistry() *Registry {
	return NewRegistryWithRateLimit(DefaultRateLimitConfig())
}

// NewRegistryWithRateLimit creates a registry with a custom send budget.
func NewRegistryWithRateLimit(config RateLimitConfig) *Registry {
	return &Registry{
		notifiers:   make(map[models.ChannelKind]Notifier),
		rateLimiter: NewRateLimiter(config),
	}
}

// Register adds an adapter. A later adapter for the same channel kind
// replaces the earlier one.
func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[n.Kind()] = n
}

// Get returns the adapter for a channel kind.
func (r *Registry) Get(kind models.ChannelKind) (Notifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notifiers[kind]
	return n, ok
}

// Channels returns the channel kinds with a registered adapter.
func (r *Registry) Channels() []models.ChannelKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]models.ChannelKind, 0, len(r.notifiers))
	for kind := range r.notifiers {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Send delivers one notification through the adapter for the channel.
// Returns ErrRateLimited when the send budget is exhausted and
// ErrUnknownChannel when no adapter serves the channel. A failed
// delivery refunds its rate limit token so retries are not double
// charged.
func (r *Registry) Send(ctx context.Context, kind models.ChannelKind, address string, msg *Message) error {
	r.mu.RLock()
	n, ok := r.notifiers[kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, kind)
	}

	if r.rateLimiter != nil && !r.rateLimiter.Allow() {
		return ErrRateLimited
	}

	if err := n.Send(ctx, address, msg); err != nil {
		if r.rateLimiter != nil {
			r.rateLimiter.Release()
		}
		return fmt.Errorf("%s: %w", n.Name(), err)
	}
	return nil
}

// RateLimitStats returns the rate limiter statistics.
func (r *Registry) RateLimitStats() RateLimitStats {
	if r.rateLimiter == nil {
		return RateLimitStats{}
	}
	return r.rateLimiter.Stats()
}

// Close closes all registered adapters.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for kind, n := range r.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	r.notifiers = make(map[models.ChannelKind]Notifier)

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
