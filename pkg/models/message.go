package models

import (
	"encoding/json"
	"time"
)

// ChannelType represents a messaging platform.
type ChannelType string

const (
	ChannelTelegram  ChannelType = "telegram"
	ChannelWebSocket ChannelType = "websocket"
	ChannelWebhook   ChannelType = "webhook"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is the unified message format across all channels.
//
// Invariants: a tool message carries ToolCallID and ToolName; an assistant
// message has non-empty Content, non-empty ToolCalls, or both; user and
// system messages carry only Content.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Channel     ChannelType    `json:"channel"`
	ChatID      string         `json:"chat_id"`
	SenderID    string         `json:"sender_id,omitempty"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	ToolCallID  string         `json:"tool_call_id,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Attachment represents a file or media attachment.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	Kind     string `json:"kind"` // image, audio, video, document
	MimeType string `json:"mime_type,omitempty"`
	Name     string `json:"name,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Inbound attachment limits enforced at the channel boundary.
const (
	MaxInboundAttachments    = 6
	MaxInboundAttachmentSize = 8 << 20
)

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolOutcome is the recorded result of one tool call within a turn.
type ToolOutcome struct {
	ToolCallID         string       `json:"tool_call_id"`
	ToolName           string       `json:"tool_name"`
	Content            string       `json:"content"`
	IsError            bool         `json:"is_error,omitempty"`
	ConfirmationDenied bool         `json:"confirmation_denied,omitempty"`
	Attachments        []Attachment `json:"attachments,omitempty"`
}

// Session represents a conversation thread, identified by (channel, chat id).
// Messages are appended only through the history writer.
type Session struct {
	ID        string         `json:"id"`
	Channel   ChannelType    `json:"channel"`
	ChatID    string         `json:"chat_id"`
	Key       string         `json:"key"`
	LastModel string         `json:"last_model,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Messages  []*Message     `json:"messages,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SessionKey builds a unique session key.
func SessionKey(channel ChannelType, chatID string) string {
	return string(channel) + ":" + chatID
}
