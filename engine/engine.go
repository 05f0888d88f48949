// Package engine defines the event algebra shared by every agent engine.
//
// A run of any engine yields a sequence of events matching
// Started? Action* Completed: Started at most once and always first,
// Completed exactly once and always last. The supervisor in the runner
// package enforces the sequence; translators only produce candidates.
package engine

import (
	"errors"
	"fmt"
)

// ID identifies an agent engine.
type ID string

// Claude is the interactive Claude Code CLI engine.
const Claude ID = "claude"

// ResumeToken identifies a logical session of one engine. The value is
// engine-defined and opaque; the core never parses it for structure.
type ResumeToken struct {
	Engine ID
	Value  string
}

// IsZero reports whether the token carries no session identity.
func (t ResumeToken) IsZero() bool {
	return t.Engine == "" && t.Value == ""
}

// LockKey returns the session lock registry key for this token.
func (t ResumeToken) LockKey() string {
	return fmt.Sprintf("%s:%s", t.Engine, t.Value)
}

// ErrSessionMismatch is returned when a subprocess resolves a session
// identity that contradicts the resume token the caller supplied. This is
// a caller or configuration bug, so the run fails fatally instead of
// producing a Completed event.
var ErrSessionMismatch = errors.New("engine: resolved session does not match resume token")

// ErrUnknownRequest is returned when a decision or answer is submitted for
// a request id that is unknown or already resolved.
var ErrUnknownRequest = errors.New("engine: unknown or already resolved request id")

// ActionPhase marks which stage of a progress unit an Action reports.
type ActionPhase string

const (
	PhaseStarted   ActionPhase = "started"
	PhaseUpdated   ActionPhase = "updated"
	PhaseCompleted ActionPhase = "completed"
)

// ActionKind classifies an Action for consumers that render or route it.
type ActionKind string

const (
	// KindTool reports progress of an agent tool invocation.
	KindTool ActionKind = "tool"
	// KindThinking reports extended-thinking output from the agent.
	KindThinking ActionKind = "thinking"
	// KindWarning carries an absorbed decode or translation error.
	KindWarning ActionKind = "warning"
	// KindDecision asks the external caller for an approve/deny decision.
	KindDecision ActionKind = "decision"
	// KindQuestion asks the external caller for a free-text answer.
	KindQuestion ActionKind = "question"
)

// Usage aggregates resource accounting reported by an engine at the end of
// a run. All fields are best-effort; engines that report nothing leave the
// zero value.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	DurationMS   int64
	NumTurns     int
}

// Event is the closed union of the three shapes a run can yield.
type Event interface {
	isEvent()
}

// Started announces that the session identity for a run is now known.
type Started struct {
	Resume ResumeToken
	Title  string
	Meta   map[string]string
}

// Action reports one progress unit. ID is stable across phases of the same
// tool invocation within one run. OK is set only on completed phases.
type Action struct {
	ID     string
	Kind   ActionKind
	Title  string
	Detail string
	Phase  ActionPhase
	OK     *bool
}

// Completed terminates a run. Exactly one Completed is yielded per run.
type Completed struct {
	OK     bool
	Answer string
	Error  string
	Resume ResumeToken
	Usage  *Usage
}

func (Started) isEvent()   {}
func (Action) isEvent()    {}
func (Completed) isEvent() {}

// WarningAction builds the Action used to absorb a non-fatal decode or
// translation error into the event stream.
func WarningAction(id, detail string) Action {
	return Action{
		ID:     id,
		Kind:   KindWarning,
		Title:  "malformed engine output",
		Detail: detail,
		Phase:  PhaseCompleted,
	}
}

// FailedCompleted builds the synthetic terminal event for a run that ended
// without the engine reporting a result.
func FailedCompleted(errText string, resume ResumeToken) Completed {
	return Completed{OK: false, Error: errText, Resume: resume}
}

// BoolPtr is a convenience for populating Action.OK.
func BoolPtr(b bool) *bool {
	return &b
}
