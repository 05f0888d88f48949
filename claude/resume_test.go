package claude

import (
	"testing"

	"github.com/littlebearapps/untether/engine"
)

func TestResumeRoundTrip(t *testing.T) {
	token := engine.ResumeToken{Engine: engine.Claude, Value: "7f3a9c1e"}
	got, ok := ParseResume(FormatResume(token))
	if !ok {
		t.Fatal("formatted marker did not parse")
	}
	if got != token {
		t.Fatalf("round trip = %+v, want %+v", got, token)
	}
}

func TestParseResumeVariants(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"backticks", "Done.\n\n`claude --resume abc123`\n", "abc123", true},
		{"bare", "claude --resume abc123", "abc123", true},
		{"short flag", "claude -r abc123", "abc123", true},
		{"indented", "   claude --resume abc123  ", "abc123", true},
		{"case insensitive", "Claude --resume abc123", "abc123", true},
		{"mid sentence", "run claude --resume abc123 later", "", false},
		{"no marker", "nothing to see here", "", false},
		{"empty", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseResume(tc.text)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got.Value != tc.want {
				t.Errorf("value = %q, want %q", got.Value, tc.want)
			}
		})
	}
}

func TestParseResumeLastMarkerWins(t *testing.T) {
	text := "`claude --resume first`\n\nsome follow-up\n\n`claude --resume second`"
	got, ok := ParseResume(text)
	if !ok || got.Value != "second" {
		t.Fatalf("got (%+v, %v), want the last marker", got, ok)
	}
}
