package claude

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/google/uuid"

	"github.com/littlebearapps/untether/engine"
	"github.com/littlebearapps/untether/runner"
)

// DefaultCommand is the CLI executable looked up on PATH.
const DefaultCommand = "claude"

// Config controls how the CLI subprocess is spawned.
type Config struct {
	// Command overrides the executable name. Empty means DefaultCommand.
	Command string

	// Model selects the model, passed through as --model when set.
	Model string

	// PermissionMode activates the interactive control channel ("plan",
	// "acceptEdits", "default"). When set, permission requests arrive over
	// the stream and are answered through the Controller. Empty means the
	// prompt rides the command line and no control channel is opened.
	PermissionMode string

	// AllowedTools is passed as --allowedTools. Independent of the
	// Controller's allow list, which governs control channel auto-approval.
	AllowedTools []string

	// SkipPermissions passes --dangerously-skip-permissions and disables
	// the control channel.
	SkipPermissions bool

	// UseAPIBilling keeps ANTHROPIC_API_KEY in the subprocess environment.
	// Off by default so subscription auth is used even when the parent
	// shell exports a key.
	UseAPIBilling bool

	// Dir is the working directory runs execute in.
	Dir string
}

func (c Config) command() string {
	if c.Command != "" {
		return c.Command
	}
	return DefaultCommand
}

// controlActive reports whether the run uses the stdio permission
// prompt, which is what opens the control channel.
func (c Config) controlActive() bool {
	return c.PermissionMode != "" && !c.SkipPermissions
}

// Backend builds command lines, stdin payloads, and per-run translations
// for the Claude CLI.
type Backend struct {
	cfg  Config
	ctrl *Controller
}

// NewBackend returns a Backend spawning runs per cfg and routing control
// requests through ctrl. A nil ctrl gets a fresh Controller with the
// default allow list.
func NewBackend(cfg Config, ctrl *Controller) *Backend {
	if ctrl == nil {
		ctrl = NewController(nil)
	}
	return &Backend{cfg: cfg, ctrl: ctrl}
}

// Controller exposes the control channel for decision and answer routing.
func (b *Backend) Controller() *Controller {
	return b.ctrl
}

func (b *Backend) EngineID() engine.ID {
	return engine.Claude
}

// CommandLine builds the argument list for one run. With the control
// channel active the prompt goes over stdin; otherwise it is the final
// positional argument after "--" so prompts starting with dashes cannot
// be read as flags.
func (b *Backend) CommandLine(prompt string, resume engine.ResumeToken) (string, []string) {
	args := []string{"--output-format", "stream-json", "--verbose"}
	if !resume.IsZero() {
		args = append(args, "--resume", resume.Value)
	}
	if b.cfg.Model != "" {
		args = append(args, "--model", b.cfg.Model)
	}
	if len(b.cfg.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(b.cfg.AllowedTools, ","))
	}
	if b.cfg.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if b.cfg.controlActive() {
		args = append(args,
			"--input-format", "stream-json",
			"--permission-mode", b.cfg.PermissionMode,
			"--permission-prompt-tool", "stdio",
		)
	} else {
		args = append(args, "-p", "--", prompt)
	}
	return b.cfg.command(), args
}

// StdinPayload returns the initial control-channel bytes: the initialize
// handshake followed by the user message carrying the prompt. Runs
// without a control channel write nothing to stdin.
func (b *Backend) StdinPayload(prompt string, resume engine.ResumeToken) ([]byte, error) {
	if !b.cfg.controlActive() {
		return nil, nil
	}
	handshake := map[string]any{
		"type":       "control_request",
		"request_id": "init-" + uuid.NewString(),
		"tool_name":  requestInitialize,
	}
	user := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": prompt},
			},
		},
	}
	var buf strings.Builder
	for _, line := range []map[string]any{handshake, user} {
		data, err := json.Marshal(line)
		if err != nil {
			return nil, fmt.Errorf("claude: marshal stdin payload: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return []byte(buf.String()), nil
}

// NewTranslation returns a fresh per-run translator bound to the shared
// Controller.
func (b *Backend) NewTranslation(resume engine.ResumeToken) runner.Translation {
	return newTranslation(b.ctrl, b.cfg.controlActive(), resume)
}

// Environ returns the subprocess environment derived from the parent's,
// with ANTHROPIC_API_KEY removed unless API billing was requested.
func (b *Backend) Environ() []string {
	env := os.Environ()
	if b.cfg.UseAPIBilling {
		return env
	}
	out := env[:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, "ANTHROPIC_API_KEY=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// Runner is the Claude engine runner: the generic supervisor plus the
// resume marker codec.
type Runner struct {
	*runner.Runner
	backend *Backend
}

var _ engine.Runner = (*Runner)(nil)

// NewRunner wires a Backend into a supervised runner. The lock registry
// may be shared with other engines; pass nil to get a private one.
func NewRunner(cfg Config, ctrl *Controller, locks *runner.LockRegistry) *Runner {
	if locks == nil {
		locks = runner.NewLockRegistry()
	}
	backend := NewBackend(cfg, ctrl)
	opts := runner.Options{
		Dir: cfg.Dir,
		Env: backend.Environ(),
	}
	return &Runner{
		Runner:  runner.New(backend, locks, opts),
		backend: backend,
	}
}

// Backend exposes the underlying backend, mainly for the Controller.
func (r *Runner) Backend() *Backend {
	return r.backend
}

// FormatResume renders a token as the inline marker later messages can
// carry.
func (r *Runner) FormatResume(token engine.ResumeToken) string {
	return FormatResume(token)
}

// ParseResume scans text for a resume marker.
func (r *Runner) ParseResume(text string) (engine.ResumeToken, bool) {
	return ParseResume(text)
}

// IsTransientStreamError reports whether a stream failure message looks
// recoverable by resuming the same session, as opposed to a hard failure
// needing a fresh one.
func IsTransientStreamError(errText string) bool {
	lower := strings.ToLower(errText)
	for _, marker := range []string{"reconnecting", "connection reset", "timed out", "overloaded"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Available reports whether the CLI executable is on PATH.
func Available(cfg Config) bool {
	_, err := exec.LookPath(cfg.command())
	return err == nil
}
