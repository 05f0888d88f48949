package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/littlebearapps/untether/config"
	"github.com/littlebearapps/untether/cost"
	"github.com/littlebearapps/untether/engine"
	"github.com/littlebearapps/untether/logger"
)

// RunDispatcher executes triggered prompts through the configured
// engines, recording spend as runs complete. Dispatch is asynchronous:
// the webhook response returns as soon as the run is accepted.
type RunDispatcher struct {
	runners       map[engine.ID]engine.Runner
	defaultEngine engine.ID
	tracker       *cost.Tracker
	budget        cost.Budget

	wg  sync.WaitGroup
	log *slog.Logger
}

var _ Dispatcher = (*RunDispatcher)(nil)

// NewRunDispatcher returns a dispatcher running prompts on runners.
// Runs triggered without an engine override use defaultEngine. A zero
// budget disables enforcement.
func NewRunDispatcher(runners map[engine.ID]engine.Runner, defaultEngine engine.ID, tracker *cost.Tracker, budget cost.Budget) *RunDispatcher {
	if tracker == nil {
		tracker = cost.NewTracker("", nil)
	}
	return &RunDispatcher{
		runners:       runners,
		defaultEngine: defaultEngine,
		tracker:       tracker,
		budget:        budget,
		log:           logger.WithComponent("triggers-dispatch"),
	}
}

// DispatchWebhook starts a run for a received webhook.
func (d *RunDispatcher) DispatchWebhook(ctx context.Context, webhook config.WebhookConfig, prompt string) error {
	return d.dispatch(ctx, "webhook:"+webhook.ID, webhook.Engine, prompt)
}

// DispatchCron starts a run for a matched schedule.
func (d *RunDispatcher) DispatchCron(ctx context.Context, cron config.CronConfig) error {
	return d.dispatch(ctx, "cron:"+cron.ID, cron.Engine, cron.Prompt)
}

func (d *RunDispatcher) dispatch(ctx context.Context, label, engineOverride, prompt string) error {
	engineID := d.defaultEngine
	if engineOverride != "" {
		engineID = engine.ID(engineOverride)
	}
	r, ok := d.runners[engineID]
	if !ok {
		return fmt.Errorf("triggers: no runner for engine %q", engineID)
	}

	// A blown daily budget with auto-cancel stops new triggered runs.
	if alert := d.tracker.CheckRun(0, d.budget); alert != nil && alert.ShouldCancel {
		return fmt.Errorf("triggers: %s", alert.Message)
	}

	dispatchID := uuid.NewString()
	d.log.Info("dispatching run", "label", label, "engine", engineID, "dispatchID", dispatchID)

	// The run outlives the webhook request.
	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(runCtx, r, label, dispatchID, prompt)
	}()
	return nil
}

func (d *RunDispatcher) run(ctx context.Context, r engine.Runner, label, dispatchID, prompt string) {
	log := d.log.With("label", label, "dispatchID", dispatchID)

	stream, err := r.Run(ctx, prompt, engine.ResumeToken{})
	if err != nil {
		log.Error("run start failed", "error", err)
		return
	}
	for ev := range stream.Events() {
		switch e := ev.(type) {
		case engine.Started:
			log.Info("run started", "resume", e.Resume.Value)
		case engine.Completed:
			if e.Usage != nil && e.Usage.CostUSD > 0 {
				d.tracker.RecordRunCost(e.Usage.CostUSD)
				if alert := d.tracker.CheckRun(e.Usage.CostUSD, d.budget); alert != nil {
					log.Warn("budget alert", "level", alert.Level, "message", alert.Message)
				}
			}
			log.Info("run completed", "ok", e.OK, "error", e.Error)
		}
	}
	if err := stream.Err(); err != nil {
		log.Error("run failed", "error", err)
	}
}

// Wait blocks until every in-flight triggered run has drained.
func (d *RunDispatcher) Wait() {
	d.wg.Wait()
}
