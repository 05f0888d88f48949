// Package cost tracks run spend against configured budgets.
package cost

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/littlebearapps/untether/logger"
)

// AlertLevel orders budget alerts by severity.
type AlertLevel string

const (
	LevelWarning  AlertLevel = "warning"
	LevelExceeded AlertLevel = "exceeded"
)

// Budget caps spend per run and per day. Zero limits mean unlimited.
type Budget struct {
	MaxCostPerRun float64
	MaxCostPerDay float64
	WarnAtPct     int
	AutoCancel    bool
}

// Alert reports a crossed budget threshold.
type Alert struct {
	Level        AlertLevel
	Message      string
	ShouldCancel bool
}

const dailyFile = "daily.json"

type dailyState struct {
	Date  string  `json:"date"`
	Total float64 `json:"total"`
}

// Tracker accumulates run costs per calendar day. With a non-empty dir
// the daily total survives restarts. The clock is injectable for tests.
type Tracker struct {
	mu    sync.Mutex
	dir   string
	now   func() time.Time
	state dailyState
	log   *slog.Logger
}

// NewTracker returns a tracker persisting its daily total under dir.
// Empty dir keeps the total in memory only.
func NewTracker(dir string, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	t := &Tracker{dir: dir, now: now, log: logger.WithComponent("cost")}
	t.loadLocked()
	return t
}

func (t *Tracker) today() string {
	return t.now().Format("2006-01-02")
}

// RecordRunCost adds a completed run's cost to today's total.
func (t *Tracker) RecordRunCost(cost float64) {
	if cost <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	today := t.today()
	if t.state.Date != today {
		t.state = dailyState{Date: today}
	}
	t.state.Total += cost
	t.saveLocked()
	t.log.Debug("run cost recorded", "cost", cost, "dailyTotal", t.state.Total)
}

// DailyCost returns today's accumulated cost. A stale date rolls over to
// zero.
func (t *Tracker) DailyCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Date != t.today() {
		return 0
	}
	return t.state.Total
}

// CheckRun evaluates a completed run's cost against budget. Returns nil
// when no threshold was crossed. Per-run limits are checked before the
// daily limit so the most specific alert wins.
func (t *Tracker) CheckRun(runCost float64, budget Budget) *Alert {
	if budget.MaxCostPerRun > 0 && runCost > 0 {
		if runCost >= budget.MaxCostPerRun {
			return &Alert{
				Level:        LevelExceeded,
				Message:      fmt.Sprintf("run cost $%.2f exceeded per-run budget $%.2f", runCost, budget.MaxCostPerRun),
				ShouldCancel: budget.AutoCancel,
			}
		}
		if pct := runCost / budget.MaxCostPerRun * 100; pct >= float64(budget.WarnAtPct) {
			return &Alert{
				Level:   LevelWarning,
				Message: fmt.Sprintf("run cost $%.2f is %.0f%% of per-run budget $%.2f", runCost, pct, budget.MaxCostPerRun),
			}
		}
	}

	if budget.MaxCostPerDay > 0 {
		daily := t.DailyCost()
		if daily >= budget.MaxCostPerDay {
			return &Alert{
				Level:        LevelExceeded,
				Message:      fmt.Sprintf("daily cost $%.2f exceeded budget $%.2f", daily, budget.MaxCostPerDay),
				ShouldCancel: budget.AutoCancel,
			}
		}
		if pct := daily / budget.MaxCostPerDay * 100; pct >= float64(budget.WarnAtPct) {
			return &Alert{
				Level:   LevelWarning,
				Message: fmt.Sprintf("daily cost $%.2f is %.0f%% of budget $%.2f", daily, pct, budget.MaxCostPerDay),
			}
		}
	}
	return nil
}

// loadLocked restores the persisted daily total. Safe to miss: a fresh
// state simply starts at zero.
func (t *Tracker) loadLocked() {
	if t.dir == "" {
		return
	}
	data, err := os.ReadFile(filepath.Join(t.dir, dailyFile))
	if err != nil {
		return
	}
	var loaded dailyState
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.log.Warn("discarding unreadable cost state", "error", err)
		return
	}
	t.state = loaded
}

func (t *Tracker) saveLocked() {
	if t.dir == "" {
		return
	}
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		t.log.Warn("cost state dir", "error", err)
		return
	}
	data, err := json.Marshal(t.state)
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(t.dir, dailyFile), data, 0644); err != nil {
		t.log.Warn("persist cost state", "error", err)
	}
}
