package agent

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/relaybot/relay/pkg/models"
)

func TestFlatten(t *testing.T) {
	msgs := []*models.Message{
		{Role: models.RoleUser, Content: "do the thing"},
		{Role: models.RoleAssistant, Content: "checking", ToolCalls: []models.ToolCall{
			{ID: "1", Name: "search", Input: json.RawMessage(`{}`)},
			{ID: "2", Name: "fetch", Input: json.RawMessage(`{}`)},
		}},
		{Role: models.RoleTool, ToolCallID: "1", ToolName: "search", Content: "results"},
		{Role: models.RoleAssistant, Content: "done"},
	}

	flat, changed := Flatten(msgs)
	if !changed {
		t.Fatal("Flatten reported no change")
	}
	if len(flat) != 4 {
		t.Fatalf("got %d messages, want 4", len(flat))
	}

	if len(flat[1].ToolCalls) != 0 {
		t.Error("assistant message kept its tool calls")
	}
	if !strings.Contains(flat[1].Content, "search") || !strings.Contains(flat[1].Content, "fetch") {
		t.Errorf("tool-call note missing names: %q", flat[1].Content)
	}
	if flat[2].Role != models.RoleAssistant {
		t.Errorf("tool message role = %s, want assistant", flat[2].Role)
	}
	if !strings.HasPrefix(flat[2].Content, "[tool search result]") {
		t.Errorf("tool result marker missing: %q", flat[2].Content)
	}
	if flat[2].ToolCallID != "" || flat[2].ToolName != "" {
		t.Error("tool linkage fields survived flattening")
	}

	// Originals untouched.
	if len(msgs[1].ToolCalls) != 2 || msgs[2].Role != models.RoleTool {
		t.Error("Flatten mutated its input")
	}
}

func TestFlattenIdempotent(t *testing.T) {
	msgs := []*models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "1", Name: "search"}}},
		{Role: models.RoleTool, ToolCallID: "1", ToolName: "search", Content: "r"},
	}
	once, _ := Flatten(msgs)
	twice, changed := Flatten(once)
	if changed {
		t.Error("second Flatten reported changes")
	}
	for i := range once {
		if once[i].Content != twice[i].Content || once[i].Role != twice[i].Role {
			t.Errorf("message %d changed on second pass", i)
		}
	}
}

func TestMaxMessageChars(t *testing.T) {
	tests := []struct {
		maxInputTokens int
		want           int
	}{
		{200000, 175000},
		{8000, 10000}, // floor
		{0, 10000},
	}
	for _, tt := range tests {
		if got := MaxMessageChars(tt.maxInputTokens); got != tt.want {
			t.Errorf("MaxMessageChars(%d) = %d, want %d", tt.maxInputTokens, got, tt.want)
		}
	}
}

func TestTruncateOversized(t *testing.T) {
	long := strings.Repeat("x", 200)
	msgs := []*models.Message{
		{Role: models.RoleUser, Content: "short"},
		{Role: models.RoleUser, Content: long},
	}

	out, n := TruncateOversized(msgs, 100)
	if n != 1 {
		t.Fatalf("truncated %d messages, want 1", n)
	}
	if out[0] != msgs[0] {
		t.Error("short message was copied unnecessarily")
	}
	if len(out[1].Content) >= len(long) {
		t.Error("long message was not cut")
	}
	if !strings.Contains(out[1].Content, "[truncated") {
		t.Errorf("marker missing: %q", out[1].Content[90:])
	}
	if len(msgs[1].Content) != 200 {
		t.Error("input message was mutated")
	}
}

func TestTruncateOversizedKeepsValidUTF8(t *testing.T) {
	msgs := []*models.Message{
		{Role: models.RoleUser, Content: strings.Repeat("é", 100)},
	}

	// Each rune is two bytes, so an odd budget lands mid-rune.
	out, n := TruncateOversized(msgs, 25)
	if n != 1 {
		t.Fatalf("truncated %d messages, want 1", n)
	}
	if !utf8.ValidString(out[0].Content) {
		t.Errorf("truncated content is not valid UTF-8: %q", out[0].Content)
	}
	if !strings.HasSuffix(out[0].Content, truncationMarker) {
		t.Errorf("marker missing: %q", out[0].Content)
	}
}
