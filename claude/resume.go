package claude

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/littlebearapps/untether/engine"
)

// resumePattern matches a resume marker on its own line, with or without
// backticks, accepting both the long and short flag.
var resumePattern = regexp.MustCompile("(?im)^\\s*`?claude\\s+(?:--resume|-r)\\s+([^`\\s]+)`?\\s*$")

// FormatResume renders token as the inline marker embedded in chat
// messages, so a later message containing it can continue the session.
func FormatResume(token engine.ResumeToken) string {
	return fmt.Sprintf("`claude --resume %s`", token.Value)
}

// ParseResume scans text for a resume marker and returns the token it
// names. The last marker wins when several are present, matching how a
// conversation accretes continuation hints.
func ParseResume(text string) (engine.ResumeToken, bool) {
	matches := resumePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return engine.ResumeToken{}, false
	}
	value := strings.TrimSpace(matches[len(matches)-1][1])
	if value == "" {
		return engine.ResumeToken{}, false
	}
	return engine.ResumeToken{Engine: engine.Claude, Value: value}, true
}
