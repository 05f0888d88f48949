package claude

import (
	"strings"
	"testing"
	"time"
)

func TestCooldownDuration(t *testing.T) {
	cases := []struct {
		count int
		want  time.Duration
	}{
		{0, 0},
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 90 * time.Second},
		{4, 120 * time.Second},
		{5, 120 * time.Second},
		{100, 120 * time.Second},
	}
	for _, tc := range cases {
		if got := CooldownDuration(tc.count); got != tc.want {
			t.Errorf("CooldownDuration(%d) = %v, want %v", tc.count, got, tc.want)
		}
	}
}

func TestCooldownStrikeEscalates(t *testing.T) {
	now := time.Now()
	tracker := newCooldownTracker(func() time.Time { return now })

	count, window := tracker.Strike("s1")
	if count != 1 || window != 30*time.Second {
		t.Fatalf("first strike = (%d, %v), want (1, 30s)", count, window)
	}
	count, window = tracker.Strike("s1")
	if count != 2 || window != 60*time.Second {
		t.Fatalf("second strike = (%d, %v), want (2, 60s)", count, window)
	}
	if got, _ := tracker.Strike("other"); got != 1 {
		t.Fatalf("strike count leaked across sessions: %d", got)
	}
}

func TestCooldownWindowExpiryKeepsCount(t *testing.T) {
	now := time.Now()
	tracker := newCooldownTracker(func() time.Time { return now })

	tracker.Strike("s1")
	if !tracker.InWindow("s1") {
		t.Fatal("expected session in window right after strike")
	}

	now = now.Add(31 * time.Second)
	if tracker.InWindow("s1") {
		t.Fatal("expected window expired after 31s")
	}

	// The count survives expiry, so the next strike keeps escalating.
	count, window := tracker.Strike("s1")
	if count != 2 || window != 60*time.Second {
		t.Fatalf("strike after expiry = (%d, %v), want (2, 60s)", count, window)
	}
}

func TestCooldownClearResets(t *testing.T) {
	now := time.Now()
	tracker := newCooldownTracker(func() time.Time { return now })

	tracker.Strike("s1")
	tracker.Strike("s1")
	tracker.Clear("s1")

	if tracker.InWindow("s1") {
		t.Fatal("expected no window after clear")
	}
	if count, _ := tracker.Strike("s1"); count != 1 {
		t.Fatalf("count after clear = %d, want 1", count)
	}
}

func TestCooldownUnknownSessionNotInWindow(t *testing.T) {
	tracker := newCooldownTracker(nil)
	if tracker.InWindow("never-seen") {
		t.Fatal("unknown session reported in window")
	}
}

func TestEscalationMessageNamesAttemptAndWindow(t *testing.T) {
	msg := escalationMessage(3, 90*time.Second)
	if !strings.Contains(msg, "attempt 3") {
		t.Errorf("message missing attempt count: %q", msg)
	}
	if !strings.Contains(msg, "1m30s") {
		t.Errorf("message missing window length: %q", msg)
	}
}
