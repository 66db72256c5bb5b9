package dispatch

import (
	"testing"
	"time"
)

func TestBackoffGrowsExponentially(t *testing.T) {
	b := &Backoff{
		Initial:    30 * time.Second,
		Max:        10 * time.Minute,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
	}

	for _, tt := range tests {
		if got := b.ForAttempt(tt.attempt); got != tt.want {
			t.Errorf("ForAttempt(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	b := &Backoff{
		Initial:    30 * time.Second,
		Max:        10 * time.Minute,
		Multiplier: 2.0,
	}

	if got := b.ForAttempt(20); got != 10*time.Minute {
		t.Errorf("ForAttempt(20) = %v, want cap %v", got, 10*time.Minute)
	}
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	b := NewBackoff()

	for i := 0; i < 100; i++ {
		got := b.ForAttempt(1)
		lo := time.Duration(float64(b.Initial) * (1 - b.Jitter))
		hi := time.Duration(float64(b.Initial) * (1 + b.Jitter))
		if got < lo || got > hi {
			t.Fatalf("ForAttempt(1) = %v, want within [%v, %v]", got, lo, hi)
		}
	}
}

func TestBackoffClampsAttempt(t *testing.T) {
	b := &Backoff{Initial: time.Second, Max: time.Minute, Multiplier: 2}
	if got := b.ForAttempt(0); got != time.Second {
		t.Errorf("ForAttempt(0) = %v, want %v", got, time.Second)
	}
}
