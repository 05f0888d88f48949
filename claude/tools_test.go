package claude

import "testing"

func TestComposeToolsDeduplicates(t *testing.T) {
	got := ComposeTools([]string{"Read", "Bash"}, []string{"Bash", "Grep"})
	want := []string{"Read", "Bash", "Grep"}
	if len(got) != len(want) {
		t.Fatalf("ComposeTools = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ComposeTools = %v, want %v", got, want)
		}
	}
}

func TestDefaultAllowList(t *testing.T) {
	allow := NewAllowList(DefaultAllowList)

	for _, tool := range []string{"Read", "Glob", "Grep", "Bash", "WebFetch", "WebSearch"} {
		if !allow.Allows(tool) {
			t.Errorf("expected %s auto-approved by default", tool)
		}
	}
	for _, tool := range []string{"Edit", "Write", "NotebookEdit", "SomethingNew"} {
		if allow.Allows(tool) {
			t.Errorf("expected %s to require a decision", tool)
		}
	}
}

func TestAllowListNeverApprovesInteractiveTools(t *testing.T) {
	// Even an allow-list that names them cannot auto-approve the tools
	// that exist to reach the user.
	allow := NewAllowList([]string{"ExitPlanMode", "AskUserQuestion", "Bash"})
	if allow.Allows("ExitPlanMode") {
		t.Error("ExitPlanMode must never be auto-approved")
	}
	if allow.Allows("AskUserQuestion") {
		t.Error("AskUserQuestion must never be auto-approved")
	}
	if !allow.Allows("Bash") {
		t.Error("Bash should be approvable when listed")
	}
}
