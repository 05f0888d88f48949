package claude

import "encoding/json"

// streamUsage is the token usage breakdown attached to assistant and
// result messages.
type streamUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// contentBlock is one element of a message's content array. The CLI uses
// both snake_case and camelCase for tool_use_id depending on the path.
type contentBlock struct {
	Type      string          `json:"type"` // "text", "thinking", "tool_use", "tool_result"
	ID        string          `json:"id,omitempty"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolUseId string          `json:"toolUseId,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// toolUseID returns the tool use id regardless of field casing.
func (c contentBlock) toolUseID() string {
	if c.ToolUseID != "" {
		return c.ToolUseID
	}
	return c.ToolUseId
}

// streamMessage represents one JSON line of the CLI's stream-json output.
// Unrecognized fields are ignored so the decoder stays forward-compatible.
type streamMessage struct {
	Type            string `json:"type"` // "system", "assistant", "user", "result", "control_request", ...
	Subtype         string `json:"subtype"`
	ParentToolUseID string `json:"parent_tool_use_id"`

	Message struct {
		Model   string         `json:"model,omitempty"`
		Content []contentBlock `json:"content"`
		Usage   *streamUsage   `json:"usage,omitempty"`
	} `json:"message"`

	// system/init fields
	SessionID      string   `json:"session_id,omitempty"`
	Model          string   `json:"model,omitempty"`
	CWD            string   `json:"cwd,omitempty"`
	Tools          []string `json:"tools,omitempty"`
	PermissionMode string   `json:"permissionMode,omitempty"`

	// result fields
	IsError       bool         `json:"is_error,omitempty"`
	Result        string       `json:"result,omitempty"`
	DurationMs    int64        `json:"duration_ms,omitempty"`
	DurationAPIMs int64        `json:"duration_api_ms,omitempty"`
	NumTurns      int          `json:"num_turns,omitempty"`
	TotalCostUSD  float64      `json:"total_cost_usd,omitempty"`
	Usage         *streamUsage `json:"usage,omitempty"`

	// control_request fields
	RequestID string          `json:"request_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

// ControlRequest is a permission request the subprocess emitted over its
// primary output.
type ControlRequest struct {
	RequestID string          `json:"request_id"`
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

// controlResponse is the answer written back over the subprocess's
// primary input, one JSON object per line.
type controlResponse struct {
	Type          string `json:"type"`
	RequestID     string `json:"request_id"`
	Approved      bool   `json:"approved"`
	DenialMessage string `json:"denial_message,omitempty"`
}

// askQuestions extracts the question texts from an AskUserQuestion tool
// input, supporting both the flat single-question shape and the nested
// multi-question array.
func askQuestions(input json.RawMessage) []string {
	if len(input) == 0 {
		return nil
	}
	var flat struct {
		Question  string `json:"question"`
		Questions []struct {
			Question string `json:"question"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(input, &flat); err != nil {
		return nil
	}
	if flat.Question != "" {
		return []string{flat.Question}
	}
	var out []string
	for _, q := range flat.Questions {
		if q.Question != "" {
			out = append(out, q.Question)
		}
	}
	return out
}
