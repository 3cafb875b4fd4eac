package respond

import (
	"strings"
	"testing"

	"github.com/relaybot/relay/internal/agent"
	"github.com/relaybot/relay/pkg/models"
)

func TestPrepareExistingWins(t *testing.T) {
	existing := &models.OutgoingResponse{Text: "already prepared"}
	resp := Prepare(PrepareInput{
		Existing:  existing,
		TurnError: agent.NewError(agent.KindFatal, "ignored"),
		LLMText:   "also ignored",
	})
	if resp != existing {
		t.Errorf("Prepare = %+v, want the existing response", resp)
	}
}

func TestPrepareErrorBeatsLLMText(t *testing.T) {
	resp := Prepare(PrepareInput{
		TurnError: agent.NewError(agent.KindRateLimited, "throttled"),
		LLMText:   "partial answer",
	})
	if resp.Error == "" {
		t.Error("Error field empty")
	}
	if resp.Text == "partial answer" {
		t.Error("LLM text leaked past the error")
	}
	if !strings.Contains(resp.Text, "too many requests") {
		t.Errorf("rate-limit wording missing: %q", resp.Text)
	}
	if resp.VoiceRequested || len(resp.Attachments) != 0 {
		t.Error("error responses must be text only")
	}
}

func TestPrepareErrorWording(t *testing.T) {
	tests := []struct {
		kind agent.ErrorKind
		want string
	}{
		{agent.KindTimeout, "longer than"},
		{agent.KindContextOverflow, "too long"},
		{agent.KindLLMEmpty, "rephrasing"},
		{agent.KindFatal, fallbackErrorText},
	}
	for _, tt := range tests {
		resp := Prepare(PrepareInput{TurnError: agent.NewError(tt.kind, "boom")})
		if !strings.Contains(resp.Text, tt.want) {
			t.Errorf("%s: text %q missing %q", tt.kind, resp.Text, tt.want)
		}
	}
}

func TestPrepareDerivesFromLLM(t *testing.T) {
	resp := Prepare(PrepareInput{
		LLMText:        "here is your answer",
		VoiceRequested: true,
		ToolOutcomes: []models.ToolOutcome{
			{ToolName: "chart", Attachments: []models.Attachment{{Kind: "image", Name: "plot.png"}}},
			{ToolName: "search"},
		},
	})
	if resp.Text != "here is your answer" {
		t.Errorf("Text = %q", resp.Text)
	}
	if !resp.VoiceRequested || resp.VoiceText != "here is your answer" {
		t.Errorf("voice fields: %+v", resp)
	}
	if len(resp.Attachments) != 1 || resp.Attachments[0].Name != "plot.png" {
		t.Errorf("Attachments = %+v", resp.Attachments)
	}
}
