package escalation

import (
	"testing"
	"time"

	"github.com/good-yellow-bee/flarepage/internal/models"
)

func quietPref(start, end string, delay time.Duration) *models.NotificationPreference {
	return &models.NotificationPreference{
		UserID:            "user1",
		Channels:          []models.ChannelKind{models.ChannelEmail},
		Addresses:         map[models.ChannelKind]string{models.ChannelEmail: "user1@example.com"},
		QuietHoursStart:   start,
		QuietHoursEnd:     end,
		NotificationDelay: delay,
	}
}

func TestDecide(t *testing.T) {
	at := func(hour, min int) time.Time {
		return time.Date(2026, 8, 29, hour, min, 0, 0, time.UTC)
	}

	tests := []struct {
		name       string
		pref       *models.NotificationPreference
		severity   models.Severity
		now        time.Time
		wantAction Action
		wantAt     time.Time
	}{
		{
			name:       "no quiet hours sends after delay",
			pref:       quietPref("", "", 30*time.Second),
			severity:   models.SeverityMedium,
			now:        at(12, 0),
			wantAction: ActionSend,
			wantAt:     at(12, 0).Add(30 * time.Second),
		},
		{
			name:       "inside wrapping window delays until end",
			pref:       quietPref("22:00", "07:00", 0),
			severity:   models.SeverityMedium,
			now:        at(23, 30),
			wantAction: ActionDelay,
			wantAt:     time.Date(2026, 8, 30, 7, 0, 0, 0, time.UTC),
		},
		{
			name:       "critical overrides quiet hours",
			pref:       quietPref("22:00", "07:00", 30*time.Second),
			severity:   models.SeverityCritical,
			now:        at(23, 30),
			wantAction: ActionSend,
			wantAt:     at(23, 30).Add(30 * time.Second),
		},
		{
			name:       "inside wrapping window before midnight end same day",
			pref:       quietPref("22:00", "07:00", 0),
			severity:   models.SeverityLow,
			now:        at(3, 15),
			wantAction: ActionDelay,
			wantAt:     at(7, 0),
		},
		{
			name:       "outside window sends",
			pref:       quietPref("22:00", "07:00", time.Minute),
			severity:   models.SeverityMedium,
			now:        at(12, 0),
			wantAction: ActionSend,
			wantAt:     at(12, 0).Add(time.Minute),
		},
		{
			name:       "non-wrapping window delays",
			pref:       quietPref("09:00", "17:00", 0),
			severity:   models.SeverityHigh,
			now:        at(10, 0),
			wantAction: ActionDelay,
			wantAt:     at(17, 0),
		},
		{
			name:       "window start is inclusive",
			pref:       quietPref("22:00", "07:00", 0),
			severity:   models.SeverityMedium,
			now:        at(22, 0),
			wantAction: ActionDelay,
			wantAt:     time.Date(2026, 8, 30, 7, 0, 0, 0, time.UTC),
		},
		{
			name:       "window end is exclusive",
			pref:       quietPref("22:00", "07:00", 0),
			severity:   models.SeverityMedium,
			now:        at(7, 0),
			wantAction: ActionSend,
			wantAt:     at(7, 0),
		},
		{
			name:       "zero-length window never matches",
			pref:       quietPref("07:00", "07:00", 0),
			severity:   models.SeverityMedium,
			now:        at(7, 0),
			wantAction: ActionSend,
			wantAt:     at(7, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.pref, tt.severity, tt.now)
			if got.Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", got.Action, tt.wantAction)
			}
			if !got.At.Equal(tt.wantAt) {
				t.Errorf("At = %s, want %s", got.At, tt.wantAt)
			}
		})
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	pref := quietPref("22:00", "07:00", time.Minute)
	now := time.Date(2026, 8, 29, 23, 30, 0, 0, time.UTC)

	first := Decide(pref, models.SeverityMedium, now)
	for i := 0; i < 10; i++ {
		if got := Decide(pref, models.SeverityMedium, now); got != first {
			t.Fatalf("Decide not deterministic: %+v vs %+v", got, first)
		}
	}
}
