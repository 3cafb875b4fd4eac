// Package respond prepares and routes outgoing responses.
package respond

import (
	"github.com/relaybot/relay/internal/agent"
	"github.com/relaybot/relay/pkg/models"
)

// fallbackErrorText closes a turn whose failure has no friendlier wording.
const fallbackErrorText = "I ran into a problem processing that request."

// PrepareInput carries everything the preparer may draw a response from,
// in precedence order: an existing response, a turn error, LLM output.
type PrepareInput struct {
	Existing       *models.OutgoingResponse
	TurnError      error
	LLMText        string
	VoiceRequested bool
	ToolOutcomes   []models.ToolOutcome
}

// Prepare builds the single outgoing response for a turn. It never touches
// history or transport; the router delivers what it returns.
func Prepare(in PrepareInput) *models.OutgoingResponse {
	if !in.Existing.IsEmpty() {
		return in.Existing
	}

	if in.TurnError != nil {
		return &models.OutgoingResponse{
			Text:  errorText(agent.KindOf(in.TurnError)),
			Error: in.TurnError.Error(),
		}
	}

	resp := &models.OutgoingResponse{
		Text:           in.LLMText,
		VoiceRequested: in.VoiceRequested,
	}
	if in.VoiceRequested {
		resp.VoiceText = in.LLMText
	}
	for _, outcome := range in.ToolOutcomes {
		resp.Attachments = append(resp.Attachments, outcome.Attachments...)
	}
	return resp
}

func errorText(kind agent.ErrorKind) string {
	switch kind {
	case agent.KindRateLimited:
		return "I'm handling too many requests right now. Please try again in a moment."
	case agent.KindTimeout:
		return "That took longer than I'm allowed to wait. Please try again."
	case agent.KindContextOverflow:
		return "This conversation has grown too long for me to process. Try starting a fresh one."
	case agent.KindLLMEmpty:
		return "I couldn't come up with a response. Please try rephrasing."
	case agent.KindPolicyDenied:
		return "I can't do that right now."
	default:
		return fallbackErrorText
	}
}
