package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/relaybot/relay/internal/sessions"
	"github.com/relaybot/relay/pkg/models"
)

// History is the sole writer of session messages during a turn. It keeps
// the turn's working message list and the store's session list in step:
// every append goes to both.
type History struct {
	store   sessions.Store
	session *models.Session
	working []*models.Message
	now     func() time.Time
}

// NewHistory creates a history writer seeded with the session's stored
// messages.
func NewHistory(store sessions.Store, session *models.Session, seed []*models.Message) *History {
	working := make([]*models.Message, len(seed))
	copy(working, seed)
	return &History{
		store:   store,
		session: session,
		working: working,
		now:     time.Now,
	}
}

// Messages returns the current working list. Callers must not mutate it.
func (h *History) Messages() []*models.Message {
	return h.working
}

// AppendUserMessage records an inbound user message. The scheduler calls
// this once per turn before routing.
func (h *History) AppendUserMessage(ctx context.Context, incoming *models.Message) error {
	msg := h.newMessage(models.RoleUser, incoming.Content)
	if incoming.ID != "" {
		msg.ID = incoming.ID
	}
	msg.SenderID = incoming.SenderID
	msg.Attachments = incoming.Attachments
	msg.Metadata = incoming.Metadata
	return h.append(ctx, msg)
}

// AppendAssistantToolCalls records an assistant message that requests tool
// executions, with whatever text accompanied it.
func (h *History) AppendAssistantToolCalls(ctx context.Context, content string, calls []models.ToolCall) error {
	msg := h.newMessage(models.RoleAssistant, content)
	msg.ToolCalls = calls
	return h.append(ctx, msg)
}

// AppendToolResult records one tool outcome as a tool message.
func (h *History) AppendToolResult(ctx context.Context, outcome models.ToolOutcome) error {
	msg := h.newMessage(models.RoleTool, outcome.Content)
	msg.ToolCallID = outcome.ToolCallID
	msg.ToolName = outcome.ToolName
	msg.Attachments = outcome.Attachments
	if outcome.IsError {
		msg.Metadata = map[string]any{"is_error": true}
	}
	return h.append(ctx, msg)
}

// AppendFinalAssistantAnswer records the assistant's closing message of
// the turn.
func (h *History) AppendFinalAssistantAnswer(ctx context.Context, content string) error {
	return h.append(ctx, h.newMessage(models.RoleAssistant, content))
}

// ReplaceAll atomically swaps the working list and the stored session
// list. Compaction and flattening install their rewritten histories here.
func (h *History) ReplaceAll(ctx context.Context, msgs []*models.Message) error {
	if err := h.store.ReplaceHistory(ctx, h.session.ID, msgs); err != nil {
		return err
	}
	h.working = msgs
	return nil
}

func (h *History) newMessage(role models.Role, content string) *models.Message {
	return &models.Message{
		ID:        uuid.NewString(),
		SessionID: h.session.ID,
		Channel:   h.session.Channel,
		ChatID:    h.session.ChatID,
		Role:      role,
		Content:   content,
		CreatedAt: h.now(),
	}
}

func (h *History) append(ctx context.Context, msg *models.Message) error {
	if err := h.store.AppendMessage(ctx, h.session.ID, msg); err != nil {
		return err
	}
	h.working = append(h.working, msg)
	return nil
}
