// Package runner spawns and supervises one subprocess per run, decoding
// its line-delimited JSON output into the event algebra of the engine
// package. The supervisor enforces the per-run event invariants: Started
// at most once and first, Completed exactly once and last, and nothing
// yielded after Completed no matter how much further output arrives.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/littlebearapps/untether/engine"
	"github.com/littlebearapps/untether/logger"
)

const (
	// DefaultScannerBuffer bounds a single stdout line. Agent CLIs embed
	// whole file contents in tool results, so lines can be large.
	DefaultScannerBuffer = 10 * 1024 * 1024

	// DefaultGracePeriod is how long a terminated subprocess gets between
	// SIGTERM and SIGKILL.
	DefaultGracePeriod = 5 * time.Second
)

// Backend supplies the engine-specific half of a run: the command line,
// the stdin payload, and the per-run translation from decoded output
// lines to events.
type Backend interface {
	EngineID() engine.ID

	// CommandLine returns the executable name and arguments for one run.
	CommandLine(prompt string, resume engine.ResumeToken) (string, []string)

	// StdinPayload returns the bytes written to the subprocess after it
	// starts. An empty payload means nothing is written.
	StdinPayload(prompt string, resume engine.ResumeToken) ([]byte, error)

	// NewTranslation returns a fresh translator for one run.
	NewTranslation(resume engine.ResumeToken) Translation
}

// Translation maps one decoded stdout line to zero or more events. A
// returned error is absorbed as a warning action, never a run failure.
type Translation interface {
	Translate(line []byte) ([]engine.Event, error)
}

// InputAttacher is an optional Translation capability. A translation that
// implements it owns the subprocess's input stream and keeps it open for
// the whole run (control-channel engines need to write responses to stdin
// minutes after spawn). The returned closer is closed when the run ends.
// Translations without it get write-once stdin: the payload is written
// and the pipe closed immediately.
type InputAttacher interface {
	AttachInput(cmd *exec.Cmd, payload []byte) (io.Closer, error)
}

// RunEndNotifier is an optional Translation capability invoked after a
// run's cleanup, so engines can purge per-session state they registered.
type RunEndNotifier interface {
	RunEnded(resume engine.ResumeToken)
}

// Options tune a Runner. Zero values select the defaults above.
type Options struct {
	Dir           string
	Env           []string
	ScannerBuffer int
	GracePeriod   time.Duration
}

// Runner executes runs for one backend, serializing runs that share a
// session identity through the lock registry.
type Runner struct {
	backend Backend
	locks   *LockRegistry
	opts    Options
	log     *slog.Logger
}

// New returns a Runner for backend. The registry may be shared across
// runners so different engines' sessions never collide on keys.
func New(backend Backend, locks *LockRegistry, opts Options) *Runner {
	if opts.ScannerBuffer <= 0 {
		opts.ScannerBuffer = DefaultScannerBuffer
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	return &Runner{
		backend: backend,
		locks:   locks,
		opts:    opts,
		log:     logger.WithComponent("runner"),
	}
}

// EngineID identifies the backend this runner executes.
func (r *Runner) EngineID() engine.ID {
	return r.backend.EngineID()
}

// runState carries everything one supervised run needs across the
// supervise/pump call chain. Mutated only by the supervising goroutine.
type runState struct {
	cmd         *exec.Cmd
	stdout      io.ReadCloser
	stderr      io.ReadCloser
	stdin       io.WriteCloser
	payload     []byte
	inputCloser io.Closer
	translation Translation
	stream      *engine.Stream

	callerResume engine.ResumeToken
	resolved     engine.ResumeToken
	release      func()

	started   bool
	completed bool
	waitDone  chan struct{}
}

// Run spawns one subprocess for prompt. If resume is non-zero its session
// lock is acquired before spawning; otherwise the lock is acquired when
// the stream's first identifying line arrives. The returned stream yields
// events until the run ends; a non-nil error means nothing was spawned.
func (r *Runner) Run(ctx context.Context, prompt string, resume engine.ResumeToken) (*engine.Stream, error) {
	if !resume.IsZero() && resume.Engine != r.backend.EngineID() {
		return nil, fmt.Errorf("runner: resume token is for engine %q, not %q", resume.Engine, r.backend.EngineID())
	}

	var release func()
	if !resume.IsZero() {
		rel, err := r.locks.Acquire(ctx, resume.LockKey())
		if err != nil {
			return nil, fmt.Errorf("runner: acquire session lock: %w", err)
		}
		release = rel
	}
	fail := func(err error) (*engine.Stream, error) {
		if release != nil {
			release()
		}
		return nil, err
	}

	name, args := r.backend.CommandLine(prompt, resume)
	path, err := exec.LookPath(name)
	if err != nil {
		return fail(fmt.Errorf("runner: %s not found in PATH: %w", name, err))
	}

	payload, err := r.backend.StdinPayload(prompt, resume)
	if err != nil {
		return fail(fmt.Errorf("runner: build stdin payload: %w", err))
	}
	translation := r.backend.NewTranslation(resume)

	cmd := exec.Command(path, args...)
	cmd.Dir = r.opts.Dir
	if r.opts.Env != nil {
		cmd.Env = r.opts.Env
	}
	// Own process group so cancellation reaps children the agent spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var (
		stdin       io.WriteCloser
		inputCloser io.Closer
	)
	if att, ok := translation.(InputAttacher); ok {
		inputCloser, err = att.AttachInput(cmd, payload)
		if err != nil {
			return fail(fmt.Errorf("runner: attach input: %w", err))
		}
	} else if len(payload) > 0 {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return fail(fmt.Errorf("runner: stdin pipe: %w", err))
		}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(fmt.Errorf("runner: stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail(fmt.Errorf("runner: stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		if inputCloser != nil {
			inputCloser.Close()
		}
		return fail(fmt.Errorf("runner: start %s: %w", name, err))
	}

	run := &runState{
		cmd:          cmd,
		stdout:       stdout,
		stderr:       stderr,
		stdin:        stdin,
		payload:      payload,
		inputCloser:  inputCloser,
		translation:  translation,
		stream:       engine.NewStream(),
		callerResume: resume,
		resolved:     resume,
		release:      release,
		waitDone:     make(chan struct{}),
	}
	r.log.Info("run started", "engine", r.backend.EngineID(), "pid", cmd.Process.Pid, "resumed", !resume.IsZero())

	go r.supervise(ctx, run)
	return run.stream, nil
}

// supervise owns the whole lifetime of one spawned subprocess: pump
// events, wait for exit, synthesize the terminal event when the engine
// never produced one, and run cleanup unconditionally.
func (r *Runner) supervise(ctx context.Context, run *runState) {
	defer func() {
		if run.inputCloser != nil {
			run.inputCloser.Close()
		}
		if run.release != nil {
			run.release()
		}
		if n, ok := run.translation.(RunEndNotifier); ok {
			n.RunEnded(run.resolved)
		}
	}()

	// Kill the process group when the caller cancels.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			r.killGroup(run)
		case <-watchDone:
		}
	}()

	var g errgroup.Group
	g.Go(func() error {
		r.drainStderr(run.stderr)
		return nil
	})

	if run.stdin != nil {
		if _, err := run.stdin.Write(run.payload); err != nil {
			r.log.Warn("stdin write failed", "error", err)
		}
		run.stdin.Close()
	}

	fatal := r.pumpEvents(ctx, run)

	_ = g.Wait()
	waitErr := run.cmd.Wait()
	close(run.waitDone)

	switch {
	case fatal != nil:
		run.stream.Close(fatal)
	case ctx.Err() != nil:
		// Cancellation is reported to the caller, never encoded as a
		// synthetic Completed.
		run.stream.Close(ctx.Err())
	case run.completed:
		run.stream.Close(nil)
	default:
		var errText string
		if code := exitCode(waitErr); code != 0 {
			errText = fmt.Sprintf("process exited %d", code)
		} else if waitErr != nil {
			errText = waitErr.Error()
		} else {
			errText = "stream ended unexpectedly"
		}
		done := engine.FailedCompleted(errText, run.resolved)
		_ = run.stream.Emit(ctx, done)
		run.stream.Close(nil)
	}
	r.log.Info("run finished", "engine", r.backend.EngineID(), "completed", run.completed, "err", run.stream.Err())
}

// pumpEvents reads stdout line by line until EOF. The returned error is
// fatal for the run (currently only session mismatch); decode and
// translation errors are absorbed as warning actions.
func (r *Runner) pumpEvents(ctx context.Context, run *runState) error {
	scanner := bufio.NewScanner(run.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), r.opts.ScannerBuffer)

	warnSeq := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		events, err := run.translation.Translate(line)
		if err != nil {
			if run.completed {
				r.log.Warn("discarding post-terminal translation error", "error", err)
				continue
			}
			warnSeq++
			warn := engine.WarningAction(fmt.Sprintf("warn-%d", warnSeq), err.Error())
			if emitErr := run.stream.Emit(ctx, warn); emitErr != nil {
				return nil
			}
			continue
		}

		for _, ev := range events {
			stop, fatal := r.handleEvent(ctx, run, ev)
			if fatal != nil {
				r.killGroup(run)
				return fatal
			}
			if stop {
				return nil
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		r.log.Warn("stdout scan ended", "error", err)
	}
	return nil
}

// handleEvent applies the per-run invariants to one translated event and
// forwards it to the stream. stop means the consumer is gone; fatal means
// the run must fail without a terminal event.
func (r *Runner) handleEvent(ctx context.Context, run *runState, ev engine.Event) (stop bool, fatal error) {
	if run.completed {
		r.log.Debug("discarding event after terminal", "event", fmt.Sprintf("%T", ev))
		return false, nil
	}

	switch e := ev.(type) {
	case engine.Started:
		if run.started {
			// One identifying line per run is the protocol; later ones
			// are no-ops even when they disagree.
			if e.Resume != run.resolved {
				r.log.Warn("conflicting session identity ignored",
					"have", run.resolved.Value, "got", e.Resume.Value)
			}
			return false, nil
		}
		run.started = true
		if !run.callerResume.IsZero() {
			if e.Resume.Value != run.callerResume.Value {
				return false, fmt.Errorf("%w: resolved %q, caller supplied %q",
					engine.ErrSessionMismatch, e.Resume.Value, run.callerResume.Value)
			}
			run.resolved = e.Resume
		} else {
			rel, err := r.locks.Acquire(ctx, e.Resume.LockKey())
			if err != nil {
				return true, nil
			}
			run.release = rel
			run.resolved = e.Resume
		}
		if err := run.stream.Emit(ctx, e); err != nil {
			return true, nil
		}

	case engine.Completed:
		run.completed = true
		if e.Resume.IsZero() {
			e.Resume = run.resolved
		}
		if err := run.stream.Emit(ctx, e); err != nil {
			return true, nil
		}

	default:
		if err := run.stream.Emit(ctx, ev); err != nil {
			return true, nil
		}
	}
	return false, nil
}

// drainStderr keeps the subprocess from blocking on a full stderr pipe.
// Output goes to logging only, never into the event stream.
func (r *Runner) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			r.log.Debug("subprocess stderr", "line", string(line))
		}
	}
}

// killGroup sends SIGTERM to the run's process group and escalates to
// SIGKILL if it is still alive after the grace period.
func (r *Runner) killGroup(run *runState) {
	if run.cmd.Process == nil {
		return
	}
	pgid := run.cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	go func() {
		select {
		case <-run.waitDone:
		case <-time.After(r.opts.GracePeriod):
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		}
	}()
}

// exitCode extracts the subprocess exit code from cmd.Wait's error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return 0
}
