package claude

// Tool sets are composable building blocks for the auto-approval
// allow-list. Consumers compose them explicitly via ComposeTools rather
// than relying on the controller to make policy decisions.

// ToolSetReadOnly contains non-mutating inspection and search tools.
var ToolSetReadOnly = []string{
	"Read",
	"Glob",
	"Grep",
	"NotebookRead",
	"TodoRead",
	"TodoWrite",
	"Task",
}

// ToolSetShell contains shell execution, safe where the working tree is
// disposable or sandboxed.
var ToolSetShell = []string{
	"Bash",
}

// ToolSetWeb contains web access tools.
var ToolSetWeb = []string{
	"WebFetch",
	"WebSearch",
}

// ToolSetEdit contains file mutation tools. Not part of the default
// allow-list; compose it in explicitly for trusted environments.
var ToolSetEdit = []string{
	"Edit",
	"Write",
	"NotebookEdit",
}

// DefaultAllowList is the auto-approval policy used when the
// configuration names none.
var DefaultAllowList = ComposeTools(ToolSetReadOnly, ToolSetShell, ToolSetWeb)

// neverAutoApproved are the tools that always require an external
// decision or answer, regardless of the configured allow-list.
var neverAutoApproved = map[string]bool{
	toolExitPlanMode:    true,
	toolAskUserQuestion: true,
}

const (
	toolExitPlanMode    = "ExitPlanMode"
	toolAskUserQuestion = "AskUserQuestion"

	// requestInitialize is the control channel's handshake request. It
	// carries no risk and is approved unconditionally.
	requestInitialize = "initialize"
)

// protocolRequests are control subtypes that belong to the wire protocol
// itself rather than to tool execution. They are answered affirmatively
// without surfacing anything.
var protocolRequests = map[string]bool{
	requestInitialize: true,
	"interrupt":       true,
	"hook_callback":   true,
	"mcp_message":     true,
	"rewind_files":    true,
}

// ComposeTools merges multiple tool sets into a single deduplicated slice.
// Order is preserved (first occurrence wins).
func ComposeTools(sets ...[]string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, set := range sets {
		for _, tool := range set {
			if _, exists := seen[tool]; !exists {
				seen[tool] = struct{}{}
				result = append(result, tool)
			}
		}
	}
	return result
}

// AllowList answers whether a tool may be auto-approved. ExitPlanMode and
// AskUserQuestion are never auto-approved no matter what the list names.
type AllowList struct {
	tools map[string]bool
}

// NewAllowList builds an AllowList from tool names.
func NewAllowList(tools []string) *AllowList {
	m := make(map[string]bool, len(tools))
	for _, tool := range tools {
		m[tool] = true
	}
	return &AllowList{tools: m}
}

// Allows reports whether tool is auto-approvable.
func (a *AllowList) Allows(tool string) bool {
	if neverAutoApproved[tool] {
		return false
	}
	return a.tools[tool]
}
