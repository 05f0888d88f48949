package claude

import (
	"bufio"
	"bytes"
	"encoding/json"
	"slices"
	"strings"
	"testing"

	"github.com/littlebearapps/untether/engine"
)

func TestCommandLinePromptMode(t *testing.T) {
	b := NewBackend(Config{Model: "sonnet"}, nil)
	name, args := b.CommandLine("fix the tests", engine.ResumeToken{})

	if name != DefaultCommand {
		t.Errorf("command = %q", name)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--output-format stream-json") {
		t.Errorf("args missing stream output: %v", args)
	}
	if !strings.Contains(joined, "--model sonnet") {
		t.Errorf("args missing model: %v", args)
	}
	if !strings.HasSuffix(joined, "-p -- fix the tests") {
		t.Errorf("prompt not passed positionally: %v", args)
	}
	if strings.Contains(joined, "--permission-mode") || strings.Contains(joined, "--input-format") {
		t.Errorf("control channel flags present without permission mode: %v", args)
	}
}

func TestCommandLineControlMode(t *testing.T) {
	b := NewBackend(Config{PermissionMode: "plan", AllowedTools: []string{"Read", "Bash"}}, nil)
	_, args := b.CommandLine("fix the tests", engine.ResumeToken{})

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--input-format stream-json",
		"--permission-mode plan",
		"--permission-prompt-tool stdio",
		"--allowedTools Read,Bash",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %v", want, args)
		}
	}
	if slices.Contains(args, "-p") {
		t.Errorf("prompt should ride stdin in control mode: %v", args)
	}
}

func TestCommandLineResume(t *testing.T) {
	b := NewBackend(Config{}, nil)
	_, args := b.CommandLine("continue", engine.ResumeToken{Engine: engine.Claude, Value: "sess-9"})
	if !strings.Contains(strings.Join(args, " "), "--resume sess-9") {
		t.Errorf("args missing resume flag: %v", args)
	}
}

func TestCommandLineSkipPermissionsDisablesControl(t *testing.T) {
	b := NewBackend(Config{PermissionMode: "plan", SkipPermissions: true}, nil)
	_, args := b.CommandLine("go", engine.ResumeToken{})

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--dangerously-skip-permissions") {
		t.Errorf("args missing skip flag: %v", args)
	}
	if strings.Contains(joined, "--permission-prompt-tool") {
		t.Errorf("control channel should be off with skipped permissions: %v", args)
	}
}

func TestStdinPayloadControlMode(t *testing.T) {
	b := NewBackend(Config{PermissionMode: "default"}, nil)
	payload, err := b.StdinPayload("hello there", engine.ResumeToken{})
	if err != nil {
		t.Fatalf("StdinPayload: %v", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(payload))
	var lines []map[string]any
	for scanner.Scan() {
		var m map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("payload line not JSON: %v", err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("payload has %d lines, want 2", len(lines))
	}
	if lines[0]["type"] != "control_request" || lines[0]["tool_name"] != requestInitialize {
		t.Errorf("first line = %v, want initialize handshake", lines[0])
	}
	if lines[1]["type"] != "user" {
		t.Errorf("second line = %v, want user message", lines[1])
	}
	if !strings.Contains(string(payload), "hello there") {
		t.Error("payload missing the prompt text")
	}
}

func TestStdinPayloadPromptMode(t *testing.T) {
	b := NewBackend(Config{}, nil)
	payload, err := b.StdinPayload("hello", engine.ResumeToken{})
	if err != nil {
		t.Fatalf("StdinPayload: %v", err)
	}
	if len(payload) != 0 {
		t.Fatalf("prompt mode wrote %d payload bytes, want 0", len(payload))
	}
}

func TestEnvironStripsAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	b := NewBackend(Config{}, nil)
	for _, kv := range b.Environ() {
		if strings.HasPrefix(kv, "ANTHROPIC_API_KEY=") {
			t.Fatal("API key leaked into subprocess environment")
		}
	}

	b = NewBackend(Config{UseAPIBilling: true}, nil)
	if !slices.Contains(b.Environ(), "ANTHROPIC_API_KEY=sk-test") {
		t.Fatal("API key missing with API billing enabled")
	}
}

func TestIsTransientStreamError(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"stream error: reconnecting in 2s", true},
		{"read tcp: connection reset by peer", true},
		{"request timed out", true},
		{"API overloaded, retry later", true},
		{"process exited 1", false},
		{"invalid session", false},
	}
	for _, tc := range cases {
		if got := IsTransientStreamError(tc.text); got != tc.want {
			t.Errorf("IsTransientStreamError(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
