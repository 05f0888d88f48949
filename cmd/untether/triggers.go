package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/littlebearapps/untether/claude"
	"github.com/littlebearapps/untether/config"
	"github.com/littlebearapps/untether/cost"
	"github.com/littlebearapps/untether/engine"
	"github.com/littlebearapps/untether/paths"
	"github.com/littlebearapps/untether/triggers"
)

var triggersCmd = &cobra.Command{
	Use:   "triggers",
	Short: "Serve webhook and cron triggers",
	Long: `Triggers starts the webhook HTTP server and the cron scheduler
from the config file. Each received webhook or matched schedule starts
an agent run; tool decisions are handled by the auto-approval
allow-list, and anything beyond it is denied.`,
	RunE: runTriggers,
}

func init() {
	rootCmd.AddCommand(triggersCmd)
}

func runTriggers(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	trig := cfg.GetTriggers()
	if !trig.Enabled {
		return fmt.Errorf("triggers are disabled; set triggers.enabled: true in the config")
	}

	engineCfg := engineConfig(cfg)
	// Headless runs have nobody to answer a decision prompt; everything
	// beyond the allow-list is denied by never being approved.
	allow := claude.NewAllowList(claude.ComposeTools(claude.DefaultAllowList, engineCfg.AllowedTools))
	runner := claude.NewRunner(engineCfg, claude.NewController(allow), nil)

	costsDir, err := paths.CostsDir()
	if err != nil {
		return err
	}
	tracker := cost.NewTracker(costsDir, nil)
	var budget cost.Budget
	if b := cfg.GetBudget(); b.Enabled {
		budget = cost.Budget{
			MaxCostPerRun: b.MaxCostPerRun,
			MaxCostPerDay: b.MaxCostPerDay,
			WarnAtPct:     b.WarnAtPct,
			AutoCancel:    b.AutoCancel,
		}
	}

	dispatcher := triggers.NewRunDispatcher(
		map[engine.ID]engine.Runner{engine.Claude: runner},
		engine.ID(cfg.GetDefaultEngine()),
		tracker,
		budget,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = triggers.NewServer(trig, dispatcher).Serve(ctx)
	dispatcher.Wait()
	return err
}
