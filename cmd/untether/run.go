package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/littlebearapps/untether/claude"
	"github.com/littlebearapps/untether/config"
	"github.com/littlebearapps/untether/engine"
)

var (
	runResume          string
	runModel           string
	runPermissionMode  string
	runSkipPermissions bool
	runDir             string
	runTimeout         time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run one prompt and stream the agent's progress",
	Long: `Run spawns the agent with the given prompt and prints each event
as it happens. With --permission-mode the agent's permission requests
are relayed here: on a terminal you approve or deny interactively,
otherwise unlisted tools are denied.

The final line is a resume marker; pass its value to --resume to
continue the same conversation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runResume, "resume", "", "session id to continue")
	runCmd.Flags().StringVar(&runModel, "model", "", "model override")
	runCmd.Flags().StringVar(&runPermissionMode, "permission-mode", "", "permission mode (plan, acceptEdits, default)")
	runCmd.Flags().BoolVar(&runSkipPermissions, "skip-permissions", false, "skip all permission prompts")
	runCmd.Flags().StringVar(&runDir, "dir", "", "working directory for the run")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "cancel the run after this duration")
	rootCmd.AddCommand(runCmd)
}

// engineConfig merges command line flags over the config file settings.
func engineConfig(cfg *config.Config) claude.Config {
	ec := cfg.Engine("claude")
	out := claude.Config{
		Command:         ec.Command,
		Model:           ec.Model,
		PermissionMode:  ec.PermissionMode,
		AllowedTools:    ec.AllowedTools,
		SkipPermissions: ec.SkipPermissions,
		UseAPIBilling:   ec.UseAPIBilling,
		Dir:             ec.WorkDir,
	}
	if runModel != "" {
		out.Model = runModel
	}
	if runPermissionMode != "" {
		out.PermissionMode = runPermissionMode
	}
	if runSkipPermissions {
		out.SkipPermissions = true
	}
	if runDir != "" {
		out.Dir = runDir
	}
	return out
}

func runRun(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	engineCfg := engineConfig(cfg)
	if !claude.Available(engineCfg) {
		return fmt.Errorf("%s not found in PATH", claude.DefaultCommand)
	}

	allow := claude.NewAllowList(claude.ComposeTools(claude.DefaultAllowList, engineCfg.AllowedTools))
	ctrl := claude.NewController(allow)
	runner := claude.NewRunner(engineCfg, ctrl, nil)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	var resume engine.ResumeToken
	if runResume != "" {
		resume = engine.ResumeToken{Engine: engine.Claude, Value: runResume}
	}

	stream, err := runner.Run(ctx, prompt, resume)
	if err != nil {
		return err
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	stdin := bufio.NewReader(os.Stdin)

	var final *engine.Completed
	for ev := range stream.Events() {
		switch e := ev.(type) {
		case engine.Started:
			fmt.Printf("session %s (%s)\n", e.Resume.Value, e.Title)
		case engine.Action:
			printAction(e)
			answerControl(ctrl, e, interactive, stdin)
		case engine.Completed:
			final = &e
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	if final == nil {
		return fmt.Errorf("run ended without a result")
	}

	fmt.Println()
	fmt.Println(final.Answer)
	if !final.OK {
		fmt.Printf("run failed: %s\n", final.Error)
	}
	if final.Usage != nil {
		fmt.Printf("cost $%.4f, %d turns, %s\n",
			final.Usage.CostUSD, final.Usage.NumTurns,
			(time.Duration(final.Usage.DurationMS) * time.Millisecond).Round(time.Second))
	}
	if !final.Resume.IsZero() {
		fmt.Println(runner.FormatResume(final.Resume))
	}
	if !final.OK {
		return fmt.Errorf("run failed")
	}
	return nil
}

func printAction(a engine.Action) {
	switch a.Phase {
	case engine.PhaseStarted:
		fmt.Printf("  > %s\n", a.Title)
	case engine.PhaseCompleted:
		mark := "."
		if a.OK != nil && !*a.OK {
			mark = "x"
		}
		if a.Kind == engine.KindThinking || a.Kind == engine.KindWarning {
			return
		}
		fmt.Printf("  %s %s\n", mark, a.Title)
	}
}

// answerControl resolves decision and question actions the run surfaced.
// Without a terminal, decisions are denied so the run cannot hang.
func answerControl(ctrl *claude.Controller, a engine.Action, interactive bool, stdin *bufio.Reader) {
	if a.Phase != engine.PhaseStarted {
		return
	}
	switch a.Kind {
	case engine.KindDecision:
		if !interactive {
			_ = ctrl.SubmitDecision(a.ID, claude.DecisionDeny, "denied: no terminal attached for approval")
			return
		}
		fmt.Printf("  ? %s\n    approve? [y/N/o=outline first] ", a.Detail)
		line, _ := stdin.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			_ = ctrl.SubmitDecision(a.ID, claude.DecisionApprove, "")
		case "o", "outline":
			_ = ctrl.SubmitDecision(a.ID, claude.DecisionOutline, "")
		default:
			_ = ctrl.SubmitDecision(a.ID, claude.DecisionDeny, "")
		}
	case engine.KindQuestion:
		questions := strings.Split(a.Detail, "\n")
		if a.Detail == "" {
			questions = []string{a.Title}
		}
		for _, q := range questions {
			if !interactive {
				_ = ctrl.SubmitAnswer(a.ID, "no user available, use your judgment")
				continue
			}
			fmt.Printf("  ? %s\n    answer: ", q)
			line, _ := stdin.ReadString('\n')
			_ = ctrl.SubmitAnswer(a.ID, strings.TrimSpace(line))
		}
	}
}
