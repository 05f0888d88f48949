package cost

import (
	"strings"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestDailyAccumulation(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	tracker := NewTracker("", fixedClock(now))

	tracker.RecordRunCost(1.5)
	tracker.RecordRunCost(0.25)
	if got := tracker.DailyCost(); got != 1.75 {
		t.Fatalf("DailyCost = %v, want 1.75", got)
	}
}

func TestDailyRollover(t *testing.T) {
	now := time.Date(2026, 8, 29, 23, 0, 0, 0, time.UTC)
	tracker := NewTracker("", func() time.Time { return now })

	tracker.RecordRunCost(3)
	now = now.Add(2 * time.Hour) // past midnight
	if got := tracker.DailyCost(); got != 0 {
		t.Fatalf("DailyCost after rollover = %v, want 0", got)
	}
	tracker.RecordRunCost(1)
	if got := tracker.DailyCost(); got != 1 {
		t.Fatalf("DailyCost = %v, want 1", got)
	}
}

func TestDailyTotalPersists(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	tracker := NewTracker(dir, fixedClock(now))
	tracker.RecordRunCost(2.5)

	again := NewTracker(dir, fixedClock(now))
	if got := again.DailyCost(); got != 2.5 {
		t.Fatalf("DailyCost after reopen = %v, want 2.5", got)
	}
}

func TestNegativeAndZeroCostsIgnored(t *testing.T) {
	tracker := NewTracker("", nil)
	tracker.RecordRunCost(0)
	tracker.RecordRunCost(-1)
	if got := tracker.DailyCost(); got != 0 {
		t.Fatalf("DailyCost = %v, want 0", got)
	}
}

func TestCheckRunPerRunBudget(t *testing.T) {
	tracker := NewTracker("", nil)
	budget := Budget{MaxCostPerRun: 2, WarnAtPct: 70, AutoCancel: true}

	if alert := tracker.CheckRun(0.5, budget); alert != nil {
		t.Fatalf("unexpected alert: %+v", alert)
	}

	alert := tracker.CheckRun(1.5, budget)
	if alert == nil || alert.Level != LevelWarning {
		t.Fatalf("alert = %+v, want warning at 75%%", alert)
	}
	if !strings.Contains(alert.Message, "75%") {
		t.Errorf("message = %q", alert.Message)
	}

	alert = tracker.CheckRun(2.5, budget)
	if alert == nil || alert.Level != LevelExceeded || !alert.ShouldCancel {
		t.Fatalf("alert = %+v, want exceeded with cancel", alert)
	}
}

func TestCheckRunDailyBudget(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	tracker := NewTracker("", fixedClock(now))
	budget := Budget{MaxCostPerDay: 10, WarnAtPct: 70}

	tracker.RecordRunCost(8)
	alert := tracker.CheckRun(0.1, budget)
	if alert == nil || alert.Level != LevelWarning {
		t.Fatalf("alert = %+v, want daily warning at 80%%", alert)
	}

	tracker.RecordRunCost(3)
	alert = tracker.CheckRun(0.1, budget)
	if alert == nil || alert.Level != LevelExceeded {
		t.Fatalf("alert = %+v, want daily exceeded", alert)
	}
	if alert.ShouldCancel {
		t.Error("cancel requested without auto_cancel")
	}
}

func TestCheckRunUnlimitedBudget(t *testing.T) {
	tracker := NewTracker("", nil)
	tracker.RecordRunCost(1000)
	if alert := tracker.CheckRun(500, Budget{WarnAtPct: 70}); alert != nil {
		t.Fatalf("zero limits should never alert, got %+v", alert)
	}
}
