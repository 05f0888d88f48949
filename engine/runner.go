package engine

import "context"

// Runner is the entry point an engine exposes to the transport layer.
type Runner interface {
	// EngineID identifies the engine a token must carry to be resumable here.
	EngineID() ID

	// Run executes one subprocess for prompt, optionally resuming the
	// session identified by resume (pass the zero token for a fresh
	// session). The returned stream yields Started? Action* Completed;
	// a non-nil error means the run could not start at all.
	Run(ctx context.Context, prompt string, resume ResumeToken) (*Stream, error)

	// FormatResume renders token as a human-pasteable marker line.
	FormatResume(token ResumeToken) string

	// ParseResume scans text for a resume marker. The second return is
	// false when no marker is present.
	ParseResume(text string) (ResumeToken, bool)
}
