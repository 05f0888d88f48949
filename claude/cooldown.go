package claude

import (
	"fmt"
	"sync"
	"time"
)

const (
	cooldownBase = 30 * time.Second
	cooldownMax  = 120 * time.Second
)

// CooldownDuration is the cooldown window after the given number of
// denials: 30s, 60s, 90s, 120s, capped thereafter. A pure function of the
// deny count alone.
func CooldownDuration(denyCount int) time.Duration {
	d := time.Duration(denyCount) * cooldownBase
	if d > cooldownMax {
		return cooldownMax
	}
	return d
}

// cooldownEntry tracks one session's ExitPlanMode escalation state. The
// deny count survives window expiry; only an explicit approve or deny
// resets it, so repeated triggering keeps escalating across idle gaps.
type cooldownEntry struct {
	lastDeny  time.Time
	denyCount int
}

// cooldownTracker holds per-session cooldown state. The clock is
// injectable for tests.
type cooldownTracker struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*cooldownEntry
}

func newCooldownTracker(now func() time.Time) *cooldownTracker {
	if now == nil {
		now = time.Now
	}
	return &cooldownTracker{now: now, entries: make(map[string]*cooldownEntry)}
}

// Strike records a denial for sessionID: the count increments and the
// window restarts. Returns the new count and window length. Called both
// for the explicit "pause and outline" decision and for every in-window
// auto-denial.
func (t *cooldownTracker) Strike(sessionID string) (int, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[sessionID]
	if e == nil {
		e = &cooldownEntry{}
		t.entries[sessionID] = e
	}
	e.denyCount++
	e.lastDeny = t.now()
	return e.denyCount, CooldownDuration(e.denyCount)
}

// InWindow reports whether sessionID is still cooling down. When the
// window has expired the timestamp is cleared but the count is kept, so
// the next Strike keeps escalating.
func (t *cooldownTracker) InWindow(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[sessionID]
	if e == nil || e.lastDeny.IsZero() {
		return false
	}
	if t.now().Sub(e.lastDeny) > CooldownDuration(e.denyCount) {
		e.lastDeny = time.Time{}
		return false
	}
	return true
}

// Clear removes all state for sessionID. Called on an explicit approve or
// deny decision, and when the session's run ends.
func (t *cooldownTracker) Clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, sessionID)
}

// escalationMessage is the auto-denial sent for ExitPlanMode requests
// arriving inside the cooldown window.
func escalationMessage(denyCount int, window time.Duration) string {
	return fmt.Sprintf(
		"ExitPlanMode is temporarily held (attempt %d, next window %s). "+
			"Approve/Deny controls have been shown to the user.\n\n"+
			"If you have not written a plan outline yet, write one NOW as your "+
			"next assistant message. The user can only see your assistant text "+
			"messages.\n\n"+
			"WAIT for the user to approve. Do not call ExitPlanMode again until "+
			"they respond.",
		denyCount, window)
}
