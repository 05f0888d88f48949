package claude

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/littlebearapps/untether/duplex"
	"github.com/littlebearapps/untether/engine"
	"github.com/littlebearapps/untether/logger"
)

const maxDetailLen = 2000

// translation converts one run's stream-json lines into events, holding
// the per-run state that conversion needs: the resolved session id, the
// control-channel input, tool titles indexed by tool use id, and the last
// assistant text seen (the answer of record when the result line carries
// none).
type translation struct {
	ctrl    *Controller
	control bool // control channel active (--permission-prompt-tool stdio)
	resume  engine.ResumeToken

	mu        sync.Mutex
	input     duplex.ByteStream
	sessionID string
	started   bool
	lastText  string
	thinkSeq  int
	tools     map[string]string // tool use id -> title

	log *slog.Logger
}

func newTranslation(ctrl *Controller, control bool, resume engine.ResumeToken) *translation {
	return &translation{
		ctrl:    ctrl,
		control: control,
		resume:  resume,
		tools:   make(map[string]string),
		log:     logger.WithComponent("claude-translate"),
	}
}

// AttachInput wires the subprocess stdin through a pseudo-terminal so the
// control channel stays writable for the run's whole lifetime. Pipes
// would deadlock here: the CLI buffers its stdin reads until EOF when it
// detects a pipe, and responses written minutes after spawn would never
// be seen. The payload is written from a goroutine because the terminal
// buffer is small and the child has not started reading yet.
func (t *translation) AttachInput(cmd *exec.Cmd, payload []byte) (io.Closer, error) {
	if !t.control {
		// Prompt-mode runs carry everything on the command line.
		return nil, nil
	}
	stream, err := duplex.Open()
	if err != nil {
		return nil, fmt.Errorf("claude: open input stream: %w", err)
	}
	cmd.Stdin = stream.ChildFile()

	t.mu.Lock()
	t.input = stream
	t.mu.Unlock()

	if len(payload) > 0 {
		go func() {
			if _, err := stream.Write(payload); err != nil {
				t.log.Warn("initial payload write failed", "error", err)
			}
		}()
	}
	return stream, nil
}

// RunEnded purges the controller state this run registered.
func (t *translation) RunEnded(resume engine.ResumeToken) {
	t.mu.Lock()
	session := t.sessionID
	t.mu.Unlock()
	if session == "" {
		session = resume.Value
	}
	t.ctrl.RunEnded(session)
}

// Translate decodes one stdout line into events. Lines that are not
// valid JSON objects return an error and are surfaced as warnings by the
// caller; the run continues.
func (t *translation) Translate(line []byte) ([]engine.Event, error) {
	var msg streamMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("claude: decode stream line: %w", err)
	}

	switch msg.Type {
	case "system":
		if msg.Subtype == "init" {
			return t.translateInit(msg), nil
		}
		return nil, nil
	case "assistant":
		return t.translateAssistant(msg), nil
	case "user":
		return t.translateToolResults(msg), nil
	case "result":
		return t.translateResult(msg), nil
	case "control_request":
		return t.translateControlRequest(msg), nil
	case "stream_event", "control_response", "control_cancel_request":
		return nil, nil
	default:
		t.log.Debug("ignoring stream message", "type", msg.Type)
		return nil, nil
	}
}

// translateInit produces the Started event from the system/init line,
// which carries the session id identifying the run. Repeats of the
// identifying line after the first are no-ops.
func (t *translation) translateInit(msg streamMessage) []engine.Event {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.sessionID = msg.SessionID
	input := t.input
	t.mu.Unlock()

	if input != nil {
		t.ctrl.RegisterSession(msg.SessionID, input)
	}

	meta := map[string]string{}
	if msg.Model != "" {
		meta["model"] = msg.Model
	}
	if msg.CWD != "" {
		meta["cwd"] = msg.CWD
	}
	if msg.PermissionMode != "" {
		meta["permissionMode"] = msg.PermissionMode
	}
	return []engine.Event{engine.Started{
		Resume: engine.ResumeToken{Engine: engine.Claude, Value: msg.SessionID},
		Title:  msg.Model,
		Meta:   meta,
	}}
}

func (t *translation) translateAssistant(msg streamMessage) []engine.Event {
	var events []engine.Event
	for _, block := range msg.Message.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				t.mu.Lock()
				t.lastText = block.Text
				t.mu.Unlock()
			}
		case "thinking":
			if block.Thinking == "" {
				continue
			}
			t.mu.Lock()
			t.thinkSeq++
			id := fmt.Sprintf("think-%d", t.thinkSeq)
			t.mu.Unlock()
			events = append(events, engine.Action{
				ID:     id,
				Kind:   engine.KindThinking,
				Title:  "Thinking",
				Detail: truncate(block.Thinking, maxDetailLen),
				Phase:  engine.PhaseCompleted,
			})
		case "tool_use":
			title := toolTitle(block.Name, block.Input)
			t.mu.Lock()
			t.tools[block.ID] = title
			t.mu.Unlock()
			events = append(events, engine.Action{
				ID:    block.ID,
				Kind:  engine.KindTool,
				Title: title,
				Phase: engine.PhaseStarted,
			})
		}
	}
	return events
}

// translateToolResults pairs tool_result blocks with the tool_use that
// started them and completes the action.
func (t *translation) translateToolResults(msg streamMessage) []engine.Event {
	var events []engine.Event
	for _, block := range msg.Message.Content {
		if block.Type != "tool_result" {
			continue
		}
		id := block.toolUseID()
		if id == "" {
			continue
		}
		t.mu.Lock()
		title, known := t.tools[id]
		delete(t.tools, id)
		t.mu.Unlock()
		if !known {
			title = "Tool result"
		}
		ok := !block.IsError
		events = append(events, engine.Action{
			ID:     id,
			Kind:   engine.KindTool,
			Title:  title,
			Detail: truncate(resultText(block.Content), maxDetailLen),
			Phase:  engine.PhaseCompleted,
			OK:     engine.BoolPtr(ok),
		})
	}
	return events
}

func (t *translation) translateResult(msg streamMessage) []engine.Event {
	t.mu.Lock()
	lastText := t.lastText
	session := t.sessionID
	t.mu.Unlock()
	if msg.SessionID != "" {
		session = msg.SessionID
	}

	answer := msg.Result
	if answer == "" {
		answer = lastText
	}
	done := engine.Completed{
		OK:     !msg.IsError,
		Answer: answer,
		Resume: engine.ResumeToken{Engine: engine.Claude, Value: session},
		Usage:  resultUsage(msg),
	}
	if msg.IsError {
		if msg.Result != "" {
			done.Error = msg.Result
		} else {
			done.Error = "run failed"
		}
	}
	return []engine.Event{done}
}

func (t *translation) translateControlRequest(msg streamMessage) []engine.Event {
	if msg.RequestID == "" {
		t.log.Warn("control request without request_id dropped")
		return nil
	}
	t.mu.Lock()
	session := t.sessionID
	input := t.input
	t.mu.Unlock()

	var w io.Writer
	if input != nil {
		w = input
	}
	return t.ctrl.HandleRequest(session, w, ControlRequest{
		RequestID: msg.RequestID,
		ToolName:  msg.ToolName,
		ToolInput: msg.ToolInput,
	})
}

func resultUsage(msg streamMessage) *engine.Usage {
	u := &engine.Usage{
		CostUSD:    msg.TotalCostUSD,
		DurationMS: msg.DurationMs,
		NumTurns:   msg.NumTurns,
	}
	if msg.Usage != nil {
		u.InputTokens = msg.Usage.InputTokens + msg.Usage.CacheCreationInputTokens + msg.Usage.CacheReadInputTokens
		u.OutputTokens = msg.Usage.OutputTokens
	}
	if u.CostUSD == 0 && u.DurationMS == 0 && u.NumTurns == 0 && u.InputTokens == 0 && u.OutputTokens == 0 {
		return nil
	}
	return u
}

// toolTitle summarizes a tool invocation for display, pulling the one
// parameter a reader most wants to see.
func toolTitle(name string, input json.RawMessage) string {
	if name == "" {
		name = "Tool"
	}
	var m map[string]any
	if len(input) > 0 {
		_ = json.Unmarshal(input, &m)
	}
	for _, key := range []string{"command", "file_path", "path", "pattern", "url", "query", "description"} {
		if v, ok := m[key].(string); ok && v != "" {
			return fmt.Sprintf("%s: %s", name, truncate(strings.SplitN(v, "\n", 2)[0], 80))
		}
	}
	return name
}

// resultText extracts readable text from a tool_result content field,
// which is either a plain string or an array of text blocks.
func resultText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
