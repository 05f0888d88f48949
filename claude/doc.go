// Package claude runs the Claude Code CLI as an agent engine. It builds
// the stream-json command line, translates the CLI's output into the
// engine event algebra, and operates the bidirectional permission control
// channel: auto-approval of a fixed tool allow-list, approve/deny
// decisions routed from external callers, a question-answer flow for
// AskUserQuestion, and a cooldown escalation state machine for
// ExitPlanMode.
package claude
