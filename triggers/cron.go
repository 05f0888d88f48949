package triggers

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/littlebearapps/untether/config"
	"github.com/littlebearapps/untether/logger"
)

// CronMatches reports whether a 5-field cron expression matches now.
// Fields: minute hour day-of-month month day-of-week (0 or 7 = Sunday).
func CronMatches(expression string, now time.Time) bool {
	fields := strings.Fields(expression)
	if len(fields) != 5 {
		return false
	}

	minutes := parseCronField(fields[0], 0, 59)
	hours := parseCronField(fields[1], 0, 23)
	days := parseCronField(fields[2], 1, 31)
	months := parseCronField(fields[3], 1, 12)
	weekdays := parseCronField(fields[4], 0, 7)

	dow := int(now.Weekday()) // Sunday=0, matching cron convention

	return minutes[now.Minute()] &&
		hours[now.Hour()] &&
		days[now.Day()] &&
		months[int(now.Month())] &&
		(weekdays[dow] || (weekdays[7] && dow == 0))
}

// parseCronField expands one field (lists, ranges, steps, wildcard) into
// a membership set. Malformed parts contribute nothing, so they can
// never match.
func parseCronField(field string, minVal, maxVal int) map[int]bool {
	values := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		step := 1
		if base, stepStr, found := strings.Cut(part, "/"); found {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n < 1 {
				continue
			}
			part, step = base, n
		}

		switch {
		case part == "*":
			for v := minVal; v <= maxVal; v += step {
				values[v] = true
			}
		case strings.Contains(part, "-"):
			loStr, hiStr, _ := strings.Cut(part, "-")
			lo, err1 := strconv.Atoi(loStr)
			hi, err2 := strconv.Atoi(hiStr)
			if err1 != nil || err2 != nil {
				continue
			}
			for v := lo; v <= hi; v += step {
				values[v] = true
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				continue
			}
			values[v] = true
		}
	}
	return values
}

// CronScheduler ticks once a minute and dispatches crons whose schedule
// matches, at most once per minute each.
type CronScheduler struct {
	crons      []config.CronConfig
	dispatcher Dispatcher
	now        func() time.Time
	lastFired  map[string]string // cron id -> "hh:mm" already fired
	log        *slog.Logger
}

// NewCronScheduler returns a scheduler for crons dispatching through d.
func NewCronScheduler(crons []config.CronConfig, d Dispatcher, now func() time.Time) *CronScheduler {
	if now == nil {
		now = time.Now
	}
	return &CronScheduler{
		crons:      crons,
		dispatcher: d,
		now:        now,
		lastFired:  make(map[string]string),
		log:        logger.WithComponent("triggers-cron"),
	}
}

// Run ticks until ctx is cancelled.
func (s *CronScheduler) Run(ctx context.Context) error {
	s.log.Info("cron scheduler started", "crons", len(s.crons))
	for {
		s.Tick(ctx)

		// Sleep to just past the next minute boundary.
		now := s.now()
		wait := time.Duration(60-now.Second())*time.Second + 100*time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Tick dispatches every cron matching the current minute. Split out from
// Run so tests can drive it with a fake clock.
func (s *CronScheduler) Tick(ctx context.Context) {
	now := s.now()
	minute := now.Format("15:04")
	for _, cron := range s.crons {
		if !CronMatches(cron.Schedule, now) {
			continue
		}
		if s.lastFired[cron.ID] == minute {
			continue
		}
		s.lastFired[cron.ID] = minute
		s.log.Info("cron firing", "cronID", cron.ID)
		if err := s.dispatcher.DispatchCron(ctx, cron); err != nil {
			s.log.Error("cron dispatch failed", "cronID", cron.ID, "error", err)
		}
	}
}
