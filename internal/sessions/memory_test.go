package sessions

import (
	"context"
	"errors"
	"testing"

	"github.com/relaybot/relay/pkg/models"
)

func TestMemoryStoreGetOrCreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, models.ChannelTelegram, "chat-1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if first.Key != "telegram:chat-1" {
		t.Errorf("Key = %q, want telegram:chat-1", first.Key)
	}

	second, err := store.GetOrCreate(ctx, models.ChannelTelegram, "chat-1")
	if err != nil {
		t.Fatalf("GetOrCreate (repeat) failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("repeat GetOrCreate created a new session: %s != %s", second.ID, first.ID)
	}

	other, err := store.GetOrCreate(ctx, models.ChannelWebSocket, "chat-1")
	if err != nil {
		t.Fatalf("GetOrCreate (other channel) failed: %v", err)
	}
	if other.ID == first.ID {
		t.Error("sessions on different channels share an id")
	}
}

func TestMemoryStoreHistory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session, err := store.GetOrCreate(ctx, models.ChannelWebSocket, "c1")
	if err != nil {
		t.Fatal(err)
	}
	for _, content := range []string{"one", "two", "three"} {
		msg := &models.Message{Role: models.RoleUser, Content: content}
		if err := store.AppendMessage(ctx, session.ID, msg); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	history, err := store.History(ctx, session.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[0].Content != "one" || history[2].Content != "three" {
		t.Errorf("history out of order: %q ... %q", history[0].Content, history[2].Content)
	}

	limited, err := store.History(ctx, session.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[0].Content != "two" {
		t.Errorf("limited history = %v, want last two", limited)
	}
}

func TestMemoryStoreReplaceHistory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session, _ := store.GetOrCreate(ctx, models.ChannelWebSocket, "c1")
	for i := 0; i < 5; i++ {
		store.AppendMessage(ctx, session.ID, &models.Message{Role: models.RoleUser, Content: "m"})
	}

	summary := &models.Message{Role: models.RoleSystem, Content: "[Conversation summary]\nstuff"}
	if err := store.ReplaceHistory(ctx, session.ID, []*models.Message{summary}); err != nil {
		t.Fatalf("ReplaceHistory failed: %v", err)
	}
	history, _ := store.History(ctx, session.ID, 0)
	if len(history) != 1 || history[0].Role != models.RoleSystem {
		t.Fatalf("history after replace = %v, want single system message", history)
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
	}
	err := store.AppendMessage(ctx, "missing", &models.Message{Content: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendMessage(missing) err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreClonesOnRead(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session, _ := store.GetOrCreate(ctx, models.ChannelTelegram, "c1")
	store.AppendMessage(ctx, session.ID, &models.Message{Role: models.RoleUser, Content: "hello"})

	history, _ := store.History(ctx, session.ID, 0)
	history[0].Content = "mutated"

	again, _ := store.History(ctx, session.ID, 0)
	if again[0].Content != "hello" {
		t.Error("store returned shared message references")
	}
}
