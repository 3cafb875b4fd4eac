package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/relaybot/relay/internal/sessions"
	"github.com/relaybot/relay/pkg/models"
)

func newTestHistory(t *testing.T) (*History, sessions.Store, *models.Session) {
	t.Helper()
	store := sessions.NewMemoryStore()
	session, err := store.GetOrCreate(context.Background(), models.ChannelWebSocket, "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	return NewHistory(store, session, nil), store, session
}

func TestHistoryAppendsReachStore(t *testing.T) {
	history, store, session := newTestHistory(t)
	ctx := context.Background()

	calls := []models.ToolCall{{ID: "c1", Name: "search", Input: json.RawMessage(`{}`)}}
	if err := history.AppendAssistantToolCalls(ctx, "let me check", calls); err != nil {
		t.Fatal(err)
	}
	if err := history.AppendToolResult(ctx, models.ToolOutcome{
		ToolCallID: "c1",
		ToolName:   "search",
		Content:    "found it",
	}); err != nil {
		t.Fatal(err)
	}
	if err := history.AppendFinalAssistantAnswer(ctx, "here you go"); err != nil {
		t.Fatal(err)
	}

	working := history.Messages()
	if len(working) != 3 {
		t.Fatalf("working list has %d messages, want 3", len(working))
	}
	if working[0].Role != models.RoleAssistant || len(working[0].ToolCalls) != 1 {
		t.Errorf("first message: %+v", working[0])
	}
	if working[1].Role != models.RoleTool || working[1].ToolCallID != "c1" || working[1].ToolName != "search" {
		t.Errorf("tool message: %+v", working[1])
	}
	if working[2].Content != "here you go" {
		t.Errorf("final message: %+v", working[2])
	}

	stored, err := store.History(ctx, session.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 3 {
		t.Fatalf("store has %d messages, want 3", len(stored))
	}
	for i := range stored {
		if stored[i].ID != working[i].ID {
			t.Errorf("store/working diverge at %d: %s vs %s", i, stored[i].ID, working[i].ID)
		}
	}
}

func TestHistoryErrorOutcomeMetadata(t *testing.T) {
	history, _, _ := newTestHistory(t)

	if err := history.AppendToolResult(context.Background(), models.ToolOutcome{
		ToolCallID: "c1",
		ToolName:   "search",
		Content:    "boom",
		IsError:    true,
	}); err != nil {
		t.Fatal(err)
	}
	msg := history.Messages()[0]
	if isErr, _ := msg.Metadata["is_error"].(bool); !isErr {
		t.Errorf("error outcome lost its marker: %+v", msg)
	}
}

func TestHistoryReplaceAll(t *testing.T) {
	history, store, session := newTestHistory(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := history.AppendFinalAssistantAnswer(ctx, "msg"); err != nil {
			t.Fatal(err)
		}
	}

	replacement := []*models.Message{{
		ID:        "summary",
		SessionID: session.ID,
		Role:      models.RoleSystem,
		Content:   "compacted",
	}}
	if err := history.ReplaceAll(ctx, replacement); err != nil {
		t.Fatal(err)
	}

	if len(history.Messages()) != 1 {
		t.Errorf("working list has %d messages after replace", len(history.Messages()))
	}
	stored, err := store.History(ctx, session.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Content != "compacted" {
		t.Errorf("store not replaced: %+v", stored)
	}
}
