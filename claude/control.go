package claude

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/littlebearapps/untether/engine"
	"github.com/littlebearapps/untether/logger"
)

// Decision is an external caller's verdict on a surfaced control request.
type Decision int

const (
	// DecisionApprove lets the tool call proceed.
	DecisionApprove Decision = iota
	// DecisionDeny rejects the tool call.
	DecisionDeny
	// DecisionOutline pauses an ExitPlanMode request and requires the
	// agent to write a plan outline first. Enters the cooldown state
	// machine: repeat ExitPlanMode calls inside the window are auto-denied
	// with escalating windows.
	DecisionOutline
)

// outlineRequestPrefix marks the synthetic request id surfaced while a
// session is cooling down, letting the caller approve the outlined plan
// without a live control request.
const outlineRequestPrefix = "da:"

const maxHandledRequests = 128

// pendingRequest is one in-flight control request awaiting an external
// decision or answer. The decide channel is the per-request promise that
// SubmitDecision/SubmitAnswer resolve; a dedicated goroutine awaits it
// and writes the response to the session's input.
type pendingRequest struct {
	sessionID string
	toolName  string
	input     json.RawMessage

	decide chan controlResponse
	done   chan struct{}

	// AskUserQuestion only: sub-questions and the answers collected so far.
	questions []string
	answers   []string

	// Synthetic outline-approval entry (no live request behind it).
	outline bool
}

// Controller owns all control channel state shared across concurrent
// runs: the session-to-input-writer map, the request registries, the
// cooldown tracker, and the approved-outline flags. One instance serves
// every run; everything is guarded by one mutex. It is passed by
// reference, never package state.
type Controller struct {
	mu        sync.Mutex
	writers   map[string]io.Writer
	requests  map[string]*pendingRequest
	handled   map[string]bool
	approved  map[string]bool // session -> next ExitPlanMode auto-approved
	allow     *AllowList
	cooldowns *cooldownTracker

	writeMu sync.Mutex
	log     *slog.Logger
}

// NewController returns a Controller enforcing allow as the auto-approval
// policy. Pass nil to use DefaultAllowList.
func NewController(allow *AllowList) *Controller {
	if allow == nil {
		allow = NewAllowList(DefaultAllowList)
	}
	return &Controller{
		writers:   make(map[string]io.Writer),
		requests:  make(map[string]*pendingRequest),
		handled:   make(map[string]bool),
		approved:  make(map[string]bool),
		allow:     allow,
		cooldowns: newCooldownTracker(nil),
		log:       logger.WithComponent("claude-control"),
	}
}

// RegisterSession records the live control-input writer for a session so
// decisions arriving from any external task can be routed to the right
// subprocess.
func (c *Controller) RegisterSession(sessionID string, w io.Writer) {
	if sessionID == "" || w == nil {
		return
	}
	c.mu.Lock()
	c.writers[sessionID] = w
	c.mu.Unlock()
	c.log.Debug("session registered", "sessionID", sessionID)
}

// RunEnded purges every registry entry belonging to sessionID, including
// requests that were never resolved. Called unconditionally when a run
// ends, however it ends.
func (c *Controller) RunEnded(sessionID string) {
	if sessionID == "" {
		return
	}
	c.mu.Lock()
	delete(c.writers, sessionID)
	delete(c.approved, sessionID)
	for id, pr := range c.requests {
		if pr.sessionID == sessionID {
			close(pr.done)
			delete(c.requests, id)
		}
	}
	c.mu.Unlock()
	c.cooldowns.Clear(sessionID)
	c.log.Debug("session unregistered", "sessionID", sessionID)
}

// HandleRequest processes one incoming control request for sessionID,
// writing immediate responses to w and returning the events to surface,
// if any. Auto-approved requests surface nothing so routine operations
// keep the visible log quiet.
func (c *Controller) HandleRequest(sessionID string, w io.Writer, req ControlRequest) []engine.Event {
	switch {
	case protocolRequests[req.ToolName]:
		// Handshake and protocol bookkeeping carry no risk.
		c.respond(w, controlResponse{Type: "control_response", RequestID: req.RequestID, Approved: true})
		return nil

	case c.allow.Allows(req.ToolName):
		c.log.Debug("auto-approved", "requestID", req.RequestID, "tool", req.ToolName)
		c.respond(w, controlResponse{Type: "control_response", RequestID: req.RequestID, Approved: true})
		return nil

	case req.ToolName == toolAskUserQuestion:
		return c.handleQuestion(sessionID, w, req)

	case req.ToolName == toolExitPlanMode:
		if c.consumeApprovedOutline(sessionID) {
			c.log.Info("exit plan auto-approved after outline approval", "sessionID", sessionID)
			c.respond(w, controlResponse{Type: "control_response", RequestID: req.RequestID, Approved: true})
			return nil
		}
		if c.cooldowns.InWindow(sessionID) {
			count, window := c.cooldowns.Strike(sessionID)
			c.log.Info("exit plan auto-denied in cooldown",
				"sessionID", sessionID, "denyCount", count, "window", window)
			c.respond(w, controlResponse{
				Type:          "control_response",
				RequestID:     req.RequestID,
				Approved:      false,
				DenialMessage: escalationMessage(count, window),
			})
			return c.outlineApprovalAction(sessionID)
		}
		return c.surfaceDecision(sessionID, w, req)

	default:
		return c.surfaceDecision(sessionID, w, req)
	}
}

// surfaceDecision registers req and returns the Action asking the
// external caller for an approve/deny decision. Only this request blocks;
// concurrent requests in the same run are independent by request id.
func (c *Controller) surfaceDecision(sessionID string, w io.Writer, req ControlRequest) []engine.Event {
	pr := &pendingRequest{
		sessionID: sessionID,
		toolName:  req.ToolName,
		input:     req.ToolInput,
		decide:    make(chan controlResponse, 1),
		done:      make(chan struct{}),
	}
	c.register(req.RequestID, pr)
	go c.await(pr, w)

	return []engine.Event{engine.Action{
		ID:     req.RequestID,
		Kind:   engine.KindDecision,
		Title:  fmt.Sprintf("Permission request: %s", req.ToolName),
		Detail: requestDetail(req.ToolName, req.ToolInput),
		Phase:  engine.PhaseStarted,
	}}
}

// handleQuestion registers the pending question state for an
// AskUserQuestion request and surfaces it as a free-text answer Action.
func (c *Controller) handleQuestion(sessionID string, w io.Writer, req ControlRequest) []engine.Event {
	questions := askQuestions(req.ToolInput)
	pr := &pendingRequest{
		sessionID: sessionID,
		toolName:  req.ToolName,
		input:     req.ToolInput,
		decide:    make(chan controlResponse, 1),
		done:      make(chan struct{}),
		questions: questions,
	}
	c.register(req.RequestID, pr)
	go c.await(pr, w)

	title := "The agent asked a question"
	if len(questions) > 0 {
		title = questions[0]
	}
	return []engine.Event{engine.Action{
		ID:     req.RequestID,
		Kind:   engine.KindQuestion,
		Title:  title,
		Detail: strings.Join(questions, "\n"),
		Phase:  engine.PhaseStarted,
	}}
}

// outlineApprovalAction surfaces the synthetic approve-the-plan decision
// for a cooling-down session, registering the synthetic request id once.
func (c *Controller) outlineApprovalAction(sessionID string) []engine.Event {
	id := outlineRequestPrefix + sessionID
	c.mu.Lock()
	if _, exists := c.requests[id]; exists {
		c.mu.Unlock()
		return nil
	}
	c.requests[id] = &pendingRequest{sessionID: sessionID, outline: true, done: make(chan struct{})}
	c.mu.Unlock()

	return []engine.Event{engine.Action{
		ID:    id,
		Kind:  engine.KindDecision,
		Title: "Plan outlined, approve to proceed",
		Phase: engine.PhaseStarted,
	}}
}

// SubmitDecision resolves a surfaced control request. Unknown or
// already-resolved request ids are logged and ignored per the routing
// error policy; the returned error lets callers report the miss.
func (c *Controller) SubmitDecision(requestID string, d Decision, message string) error {
	c.mu.Lock()
	pr, ok := c.requests[requestID]
	if !ok {
		handled := c.handled[requestID]
		c.mu.Unlock()
		if handled {
			// Duplicate submission (chat transports can deliver the same
			// callback twice).
			c.log.Debug("duplicate decision ignored", "requestID", requestID)
			return nil
		}
		c.log.Warn("decision for unknown request", "requestID", requestID)
		return engine.ErrUnknownRequest
	}

	if pr.outline {
		delete(c.requests, requestID)
		c.markHandled(requestID)
		session := pr.sessionID
		if d == DecisionApprove {
			c.approved[session] = true
		}
		c.mu.Unlock()
		close(pr.done)
		// Explicit approve or deny resets the escalation count.
		c.cooldowns.Clear(session)
		c.log.Info("outline decision", "sessionID", session, "approved", d == DecisionApprove)
		return nil
	}
	c.mu.Unlock()

	switch d {
	case DecisionApprove:
		c.cooldowns.Clear(pr.sessionID)
		return c.resolve(requestID, controlResponse{
			Type: "control_response", RequestID: requestID, Approved: true,
		})
	case DecisionDeny:
		if message == "" {
			message = "User denied"
		}
		c.cooldowns.Clear(pr.sessionID)
		return c.resolve(requestID, controlResponse{
			Type: "control_response", RequestID: requestID, Approved: false, DenialMessage: message,
		})
	case DecisionOutline:
		count, window := c.cooldowns.Strike(pr.sessionID)
		c.log.Info("outline requested", "sessionID", pr.sessionID, "denyCount", count, "window", window)
		if message == "" {
			message = "Before proceeding, write a plan outline as your next " +
				"assistant message. The user will approve it when ready. Do not " +
				"call ExitPlanMode again until they respond."
		}
		return c.resolve(requestID, controlResponse{
			Type: "control_response", RequestID: requestID, Approved: false, DenialMessage: message,
		})
	default:
		return fmt.Errorf("claude: unknown decision %d", d)
	}
}

// SubmitAnswer feeds one free-text answer to a pending AskUserQuestion
// request. When every sub-question has an answer, the aggregate is
// delivered as a denial whose message carries the answer text; the
// subprocess treats that message as the answer content, not a rejection.
func (c *Controller) SubmitAnswer(requestID, text string) error {
	c.mu.Lock()
	pr, ok := c.requests[requestID]
	if !ok || pr.toolName != toolAskUserQuestion {
		handled := c.handled[requestID]
		c.mu.Unlock()
		if handled {
			c.log.Debug("duplicate answer ignored", "requestID", requestID)
			return nil
		}
		c.log.Warn("answer for unknown question", "requestID", requestID)
		return engine.ErrUnknownRequest
	}
	pr.answers = append(pr.answers, text)
	remaining := len(pr.questions) - len(pr.answers)
	questions := pr.questions
	answers := pr.answers
	c.mu.Unlock()

	if remaining > 0 {
		c.log.Debug("partial answer recorded", "requestID", requestID, "remaining", remaining)
		return nil
	}
	return c.resolve(requestID, controlResponse{
		Type:          "control_response",
		RequestID:     requestID,
		Approved:      false,
		DenialMessage: answerMessage(questions, answers),
	})
}

// Pending reports whether requestID is still awaiting resolution.
func (c *Controller) Pending(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.requests[requestID]
	return ok
}

// consumeApprovedOutline atomically tests and clears the session's
// approved-outline flag.
func (c *Controller) consumeApprovedOutline(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.approved[sessionID] {
		return false
	}
	delete(c.approved, sessionID)
	return true
}

func (c *Controller) register(requestID string, pr *pendingRequest) {
	c.mu.Lock()
	c.requests[requestID] = pr
	c.mu.Unlock()
}

// resolve fulfills the request's promise and retires the id.
func (c *Controller) resolve(requestID string, resp controlResponse) error {
	c.mu.Lock()
	pr, ok := c.requests[requestID]
	if !ok {
		c.mu.Unlock()
		return engine.ErrUnknownRequest
	}
	delete(c.requests, requestID)
	c.markHandled(requestID)
	c.mu.Unlock()

	pr.decide <- resp
	return nil
}

// markHandled records a resolved id so duplicate submissions stay quiet.
// Caller must hold mu. The set is capped to keep it from growing without
// bound.
func (c *Controller) markHandled(requestID string) {
	if len(c.handled) >= maxHandledRequests {
		c.handled = make(map[string]bool)
	}
	c.handled[requestID] = true
}

// await waits for the request's promise to be fulfilled and writes the
// response to the session's control input. Exits without writing when the
// run ends first.
func (c *Controller) await(pr *pendingRequest, w io.Writer) {
	select {
	case resp := <-pr.decide:
		if live := c.writerFor(pr.sessionID); live != nil {
			w = live
		}
		c.respond(w, resp)
	case <-pr.done:
	}
}

func (c *Controller) writerFor(sessionID string) io.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writers[sessionID]
}

// respond writes one response line to the control input. Writes are
// serialized so concurrent resolutions never interleave bytes.
func (c *Controller) respond(w io.Writer, resp controlResponse) {
	if w == nil {
		c.log.Warn("no control input for response", "requestID", resp.RequestID)
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		c.log.Error("marshal control response", "requestID", resp.RequestID, "error", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := w.Write(append(data, '\n')); err != nil {
		c.log.Error("write control response", "requestID", resp.RequestID,
			"approved", resp.Approved, "error", err)
		return
	}
	c.log.Info("control response sent", "requestID", resp.RequestID, "approved", resp.Approved)
}

// requestDetail summarizes a tool input for the decision Action.
func requestDetail(toolName string, input json.RawMessage) string {
	detail := "tool: " + toolName
	if len(input) == 0 {
		return detail
	}
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil {
		return detail
	}
	var params []string
	for _, key := range []string{"file_path", "path", "command", "pattern", "url"} {
		if v, ok := m[key].(string); ok && v != "" {
			if len(v) > 50 {
				v = v[:47] + "..."
			}
			params = append(params, fmt.Sprintf("%s=%s", key, v))
		}
	}
	if len(params) > 0 {
		detail += " (" + strings.Join(params, ", ") + ")"
	}
	return detail
}

// answerMessage packages collected answers as the denial message the
// agent reads as its answer.
func answerMessage(questions, answers []string) string {
	var b strings.Builder
	b.WriteString("The user answered your question:\n\n")
	if len(questions) <= 1 {
		fmt.Fprintf(&b, "%q\n\n", strings.Join(answers, "\n"))
	} else {
		for i, q := range questions {
			a := ""
			if i < len(answers) {
				a = answers[i]
			}
			fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", q, a)
		}
	}
	b.WriteString("Use this answer and continue. Do not call AskUserQuestion " +
		"again for this same question.")
	return b.String()
}
