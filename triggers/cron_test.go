package triggers

import (
	"context"
	"testing"
	"time"

	"github.com/littlebearapps/untether/config"
)

func TestCronMatches(t *testing.T) {
	// 2026-08-29 is a Saturday.
	at := func(hour, minute int) time.Time {
		return time.Date(2026, 8, 29, hour, minute, 0, 0, time.UTC)
	}
	cases := []struct {
		expr string
		now  time.Time
		want bool
	}{
		{"* * * * *", at(12, 30), true},
		{"30 12 * * *", at(12, 30), true},
		{"30 12 * * *", at(12, 31), false},
		{"0 3 * * *", at(3, 0), true},
		{"0 3 * * *", at(4, 0), false},
		{"*/15 * * * *", at(9, 45), true},
		{"*/15 * * * *", at(9, 50), false},
		{"0-10 * * * *", at(7, 5), true},
		{"0-10 * * * *", at(7, 11), false},
		{"5,35 * * * *", at(1, 35), true},
		{"5,35 * * * *", at(1, 36), false},
		{"* * 29 8 *", at(10, 0), true},
		{"* * 28 8 *", at(10, 0), false},
		{"* * * * 6", at(10, 0), true},  // Saturday
		{"* * * * 0", at(10, 0), false}, // Sunday
		{"bad expression", at(10, 0), false},
		{"* * * *", at(10, 0), false}, // four fields
		{"x * * * *", at(10, 0), false},
	}
	for _, tc := range cases {
		if got := CronMatches(tc.expr, tc.now); got != tc.want {
			t.Errorf("CronMatches(%q, %v) = %v, want %v", tc.expr, tc.now, got, tc.want)
		}
	}
}

func TestCronMatchesSundayBothForms(t *testing.T) {
	sunday := time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)
	if !CronMatches("* * * * 0", sunday) {
		t.Error("Sunday as 0 did not match")
	}
	if !CronMatches("* * * * 7", sunday) {
		t.Error("Sunday as 7 did not match")
	}
}

type recordingDispatcher struct {
	crons    []string
	webhooks []string
}

func (d *recordingDispatcher) DispatchWebhook(_ context.Context, wh config.WebhookConfig, prompt string) error {
	d.webhooks = append(d.webhooks, wh.ID+"|"+prompt)
	return nil
}

func (d *recordingDispatcher) DispatchCron(_ context.Context, cron config.CronConfig) error {
	d.crons = append(d.crons, cron.ID)
	return nil
}

func TestCronSchedulerFiresOncePerMinute(t *testing.T) {
	now := time.Date(2026, 8, 29, 3, 0, 10, 0, time.UTC)
	dispatcher := &recordingDispatcher{}
	sched := NewCronScheduler([]config.CronConfig{
		{ID: "nightly", Schedule: "0 3 * * *", Prompt: "summarize"},
		{ID: "hourly", Schedule: "30 * * * *", Prompt: "check"},
	}, dispatcher, func() time.Time { return now })

	ctx := context.Background()
	sched.Tick(ctx)
	sched.Tick(ctx) // same minute: no repeat fire

	if len(dispatcher.crons) != 1 || dispatcher.crons[0] != "nightly" {
		t.Fatalf("crons fired = %v, want [nightly]", dispatcher.crons)
	}

	now = now.Add(30 * time.Minute)
	sched.Tick(ctx)
	if len(dispatcher.crons) != 2 || dispatcher.crons[1] != "hourly" {
		t.Fatalf("crons fired = %v, want [nightly hourly]", dispatcher.crons)
	}
}
