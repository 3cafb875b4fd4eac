package agent

import (
	"strings"

	"github.com/relaybot/relay/pkg/models"
)

// Flatten rewrites tool-call structure into plain text so the history can
// move between providers with incompatible tool encodings. Assistant
// messages lose their tool-call list in favor of a textual note, and tool
// messages become assistant messages carrying a result marker.
//
// The rewrite is idempotent: a flattened history has no tool roles or
// tool-call lists left, so a second pass changes nothing. The returned
// slice is freshly allocated; callers install it via History.ReplaceAll
// so the swap is atomic.
func Flatten(msgs []*models.Message) ([]*models.Message, bool) {
	changed := false
	out := make([]*models.Message, 0, len(msgs))

	for _, msg := range msgs {
		switch {
		case msg.Role == models.RoleAssistant && len(msg.ToolCalls) > 0:
			names := make([]string, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				names = append(names, call.Name)
			}
			clone := *msg
			clone.ToolCalls = nil
			note := "[called tools: " + strings.Join(names, ", ") + "]"
			if clone.Content == "" {
				clone.Content = note
			} else {
				clone.Content = clone.Content + "\n" + note
			}
			out = append(out, &clone)
			changed = true

		case msg.Role == models.RoleTool:
			clone := *msg
			clone.Role = models.RoleAssistant
			clone.Content = "[tool " + msg.ToolName + " result] " + msg.Content
			clone.ToolCallID = ""
			clone.ToolName = ""
			out = append(out, &clone)
			changed = true

		default:
			out = append(out, msg)
		}
	}
	return out, changed
}
