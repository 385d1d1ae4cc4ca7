package history

import (
	"regexp"
	"strings"
)

// endOfTurnTokens are model control tokens that sometimes leak into stored
// message text.
var endOfTurnTokens = []string{
	"</s>",
	"<|eot_id|>",
	"<|im_end|>",
	"<|endoftext|>",
	"<eos>",
}

var (
	trailingEndMarker = regexp.MustCompile(`(?i)</s>\s*$`)
	topicTagLabel     = regexp.MustCompile(`(?i)^Topic\s+tag:\s*`)
	leadingQuestion   = regexp.MustCompile(`^\?\s*`)
)

// CleanContent strips end-of-turn control tokens from message text and trims it.
func CleanContent(s string) string {
	for _, tok := range endOfTurnTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	return strings.TrimSpace(s)
}

// CleanSummaryText normalizes a chat summary. It removes a trailing "</s>",
// a leading "Topic tag:" label and a leading stray question mark. Blank
// input yields "".
func CleanSummaryText(s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return ""
	}
	t = trailingEndMarker.ReplaceAllString(t, "")
	t = topicTagLabel.ReplaceAllString(t, "")
	t = leadingQuestion.ReplaceAllString(t, "")
	return strings.TrimSpace(t)
}
