package agent

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/relaybot/relay/internal/observability"
	"github.com/relaybot/relay/pkg/models"
)

// summaryPrefix opens the system message that replaces a compacted
// history prefix.
const summaryPrefix = "[Conversation summary]\n"

// Summarizer condenses a message prefix into a short summary.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []*models.Message) (string, error)
}

// EstimateTokens approximates token usage as ceil(len/3.5) per message
// content. Rough, but cheap and stable enough to gate compaction.
func EstimateTokens(msgs []*models.Message) int {
	total := 0
	for _, msg := range msgs {
		total += int(math.Ceil(float64(len(msg.Content)) / 3.5))
	}
	return total
}

// Compactor shrinks an oversized history by summarizing everything except
// the most recent messages.
type Compactor struct {
	summarizer Summarizer
	maxTokens  int
	keepLast   int
	log        *observability.Logger
}

// NewCompactor creates a compactor. keepLast messages always survive
// verbatim.
func NewCompactor(summarizer Summarizer, maxTokens, keepLast int, log *observability.Logger) *Compactor {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Compactor{
		summarizer: summarizer,
		maxTokens:  maxTokens,
		keepLast:   keepLast,
		log:        log,
	}
}

// MaybeCompact replaces the history prefix with a single summary system
// message when the estimated token count exceeds the budget. Below the
// budget it is a no-op. Returns whether compaction ran.
func (c *Compactor) MaybeCompact(ctx context.Context, history *History) (bool, error) {
	msgs := history.Messages()
	if EstimateTokens(msgs) <= c.maxTokens {
		return false, nil
	}
	if len(msgs) <= c.keepLast {
		return false, nil
	}

	cut := len(msgs) - c.keepLast
	prefix := msgs[:cut]
	summary, err := c.summarizer.Summarize(ctx, prefix)
	if err != nil {
		return false, fmt.Errorf("agent: summarize history: %w", err)
	}

	summaryMsg := &models.Message{
		ID:        prefix[0].ID,
		SessionID: prefix[0].SessionID,
		Channel:   prefix[0].Channel,
		ChatID:    prefix[0].ChatID,
		Role:      models.RoleSystem,
		Content:   summaryPrefix + summary,
		CreatedAt: prefix[len(prefix)-1].CreatedAt,
	}

	compacted := make([]*models.Message, 0, c.keepLast+1)
	compacted = append(compacted, summaryMsg)
	compacted = append(compacted, msgs[cut:]...)

	if err := history.ReplaceAll(ctx, compacted); err != nil {
		return false, err
	}
	c.log.Info(ctx, "history compacted", "summarized", cut, "kept", c.keepLast)
	return true, nil
}

// LLMSummarizer summarizes history through an LLM client.
type LLMSummarizer struct {
	client    Client
	model     string
	maxTokens int
}

// NewLLMSummarizer creates an LLM-backed summarizer.
func NewLLMSummarizer(client Client, model string) *LLMSummarizer {
	return &LLMSummarizer{client: client, model: model, maxTokens: 1024}
}

const summarizerSystemPrompt = `You compress conversation history. Summarize the ` +
	`conversation below into a compact brief that preserves: user goals and ` +
	`constraints, decisions made, tool results that still matter, and any ` +
	`unresolved threads. Plain prose, no preamble.`

func (s *LLMSummarizer) Summarize(ctx context.Context, msgs []*models.Message) (string, error) {
	var b strings.Builder
	for _, msg := range msgs {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}

	resp, err := s.client.Complete(ctx, &Request{
		Model:  s.model,
		System: summarizerSystemPrompt,
		Messages: []*models.Message{{
			Role:    models.RoleUser,
			Content: b.String(),
		}},
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return "", err
	}
	if resp.Empty() {
		return "", NewError(KindLLMEmpty, "summarizer returned empty response")
	}
	return strings.TrimSpace(resp.Content), nil
}
