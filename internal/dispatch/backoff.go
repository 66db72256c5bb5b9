package dispatch

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with jitter. It is
// stateless: the attempt number lives on the persisted attempt row, so
// retry spacing survives a restart.
type Backoff struct {
	Initial    time.Duration // Delay after the first failure (default: 30s)
	Max        time.Duration // Maximum delay (default: 10m)
	Multiplier float64       // Multiplier per attempt (default: 2.0)
	Jitter     float64       // Jitter factor 0-1 (default: 0.1 = 10%)
}

// NewBackoff creates a Backoff with the default retry schedule.
func NewBackoff() *Backoff {
	return &Backoff{
		Initial:    30 * time.Second,
		Max:        10 * time.Minute,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// ForAttempt returns the delay before the next delivery try, given how
// many tries have already failed (attempt >= 1).
func (b *Backoff) ForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt-1))

	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	// Apply jitter: delay * (1 + random(-jitter, +jitter))
	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay = delay + (rand.Float64()*2-1)*jitterRange
	}

	if delay < 0 {
		delay = float64(b.Initial)
	}

	return time.Duration(delay)
}
