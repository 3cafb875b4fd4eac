package agent

import (
	"unicode/utf8"

	"github.com/relaybot/relay/pkg/models"
)

// minMessageChars is the floor for the per-message character budget used
// by emergency truncation.
const minMessageChars = 10000

// truncationMarker is appended to any message cut by emergency truncation
// so the LLM knows content is missing.
const truncationMarker = "\n[truncated: message exceeded the context budget]"

// MaxMessageChars derives the per-message character budget from the model
// input window: a quarter of the window at ~3.5 chars per token, never
// below minMessageChars.
func MaxMessageChars(maxInputTokens int) int {
	budget := int(float64(maxInputTokens) * 3.5 * 0.25)
	if budget < minMessageChars {
		budget = minMessageChars
	}
	return budget
}

// TruncateOversized cuts every message longer than maxChars down to the
// budget plus a marker. Returns the rewritten list and how many messages
// were cut; the input slice is never mutated.
func TruncateOversized(msgs []*models.Message, maxChars int) ([]*models.Message, int) {
	truncated := 0
	out := make([]*models.Message, len(msgs))
	for i, msg := range msgs {
		if len(msg.Content) <= maxChars {
			out[i] = msg
			continue
		}
		// Back off to a rune boundary so the cut never produces
		// invalid UTF-8.
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(msg.Content[cut]) {
			cut--
		}
		clone := *msg
		clone.Content = msg.Content[:cut] + truncationMarker
		out[i] = &clone
		truncated++
	}
	return out, truncated
}
