package advisor

import (
	"regexp"
	"strings"
)

// questionPattern is compiled once; classification runs on every
// fragment of the hot stream. Each alternative is anchored so quoted
// speech in the middle of a sentence does not misfire.
var questionPattern = regexp.MustCompile(
	`(?i)` +
		`\?\s*$` +
		`|^(what|how|why|when|where|who)\s` +
		`|^(is|are|can|could|should|would)\s` +
		`|^(do|does|did)\s` +
		`|^(tell me|explain)`,
)

// IsQuestion reports whether a transcribed fragment looks like a
// question. Empty input is never a question.
func IsQuestion(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	return questionPattern.MatchString(trimmed)
}
