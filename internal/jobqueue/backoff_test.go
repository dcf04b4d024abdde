package jobqueue

import (
	"testing"
	"time"
)

func TestBackoffDoublesPerAttempt(t *testing.T) {
	base := 30 * time.Second

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
	}

	for _, tc := range cases {
		if got := BackoffDelay(base, tc.attempts); got != tc.want {
			t.Fatalf("attempt %d: got %s, want %s", tc.attempts, got, tc.want)
		}
	}
}

func TestBackoffCapsAtOneHour(t *testing.T) {
	if got := BackoffDelay(30*time.Second, 20); got != time.Hour {
		t.Fatalf("expected one hour cap, got %s", got)
	}
}

func TestBackoffDefaultsForBadInput(t *testing.T) {
	if got := BackoffDelay(0, 0); got != 30*time.Second {
		t.Fatalf("expected default base, got %s", got)
	}
}
