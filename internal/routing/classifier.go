package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaybot/relay/pkg/models"
)

// ClassifierLLM is the minimal completion surface the classifier needs.
// The composition root adapts an agent provider to it.
type ClassifierLLM interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// classification is the strict JSON shape the classifier model must reply
// with.
type classification struct {
	Skill      string  `json:"skill"`
	Confidence float64 `json:"confidence"`
	ModelTier  string  `json:"model_tier"`
	Reason     string  `json:"reason"`
}

const classifierSystemPrompt = `You route user requests to skills. Reply with a single JSON object and nothing else:
{"skill": "<name or empty>", "confidence": <0..1>, "model_tier": "fast|balanced|smart|coding|deep", "reason": "<short>"}`

func buildClassifierPrompt(query string, candidates []Candidate, recent []*models.Message) string {
	var b strings.Builder
	b.WriteString("Candidate skills:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s: %s (score %.2f)\n", c.Name, c.Description, c.Score)
	}
	if len(recent) > 0 {
		b.WriteString("\nRecent messages:\n")
		start := len(recent) - 3
		if start < 0 {
			start = 0
		}
		for _, msg := range recent[start:] {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}
	}
	fmt.Fprintf(&b, "\nUser query: %s\n", query)
	return b.String()
}

// parseClassification extracts the JSON object from a classifier reply,
// tolerating markdown code fences around it.
func parseClassification(raw string) (*classification, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in classifier reply")
	}

	var out classification
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("parse classifier reply: %w", err)
	}
	return &out, nil
}

// ModelTiers recognized by the router. Unknown values map to balanced.
const (
	TierFast     = "fast"
	TierBalanced = "balanced"
	TierSmart    = "smart"
	TierCoding   = "coding"
	TierDeep     = "deep"
)

// NormalizeTier maps a tier string to a recognized value.
func NormalizeTier(tier string) string {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case TierFast:
		return TierFast
	case TierSmart:
		return TierSmart
	case TierCoding:
		return TierCoding
	case TierDeep:
		return TierDeep
	default:
		return TierBalanced
	}
}
