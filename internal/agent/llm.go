// Package agent implements the tool loop: LLM calls, tool execution,
// history writing, flattening, truncation and auto-compaction.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaybot/relay/pkg/models"
)

// Client is a non-streaming LLM completion client.
type Client interface {
	// Complete sends one completion request and returns the full response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Name returns the stable lowercase provider identifier.
	Name() string
}

// Request is a provider-neutral completion request.
type Request struct {
	Model           string
	System          string
	Messages        []*models.Message
	Tools           []models.ToolDefinition
	MaxTokens       int
	ReasoningEffort string // "", "low", "medium", "high"
}

// Usage records token consumption for one LLM call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates another call's usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Response is a complete LLM response.
type Response struct {
	Content    string
	ToolCalls  []models.ToolCall
	StopReason string
	Model      string
	Usage      Usage
}

// Empty reports whether the response carries neither text nor tool calls.
func (r *Response) Empty() bool {
	if r == nil {
		return true
	}
	return strings.TrimSpace(r.Content) == "" && len(r.ToolCalls) == 0
}

// ModelSelector resolves a routing tier to a concrete client and model id.
type ModelSelector interface {
	Select(tier string) (Client, string, error)
}

// StaticSelector maps tiers to "provider/model" references over a fixed set
// of clients. Unknown tiers fall back to balanced.
type StaticSelector struct {
	clients map[string]Client
	tiers   map[string]string
}

// NewStaticSelector builds a selector from clients keyed by provider name
// and tier references of the form "provider/model".
func NewStaticSelector(clients map[string]Client, tiers map[string]string) *StaticSelector {
	return &StaticSelector{clients: clients, tiers: tiers}
}

func (s *StaticSelector) Select(tier string) (Client, string, error) {
	ref, ok := s.tiers[tier]
	if !ok {
		ref, ok = s.tiers["balanced"]
		if !ok {
			return nil, "", fmt.Errorf("agent: no model configured for tier %q", tier)
		}
	}
	provider, model, found := strings.Cut(ref, "/")
	if !found || provider == "" || model == "" {
		return nil, "", fmt.Errorf("agent: malformed model reference %q", ref)
	}
	client, ok := s.clients[provider]
	if !ok {
		return nil, "", fmt.Errorf("agent: no client for provider %q", provider)
	}
	return client, model, nil
}
