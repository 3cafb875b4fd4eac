package models

import "time"

// OutgoingResponse is the single source of truth for what a turn sends back
// to the channel. Delivery order is always text, then voice, then attachments.
type OutgoingResponse struct {
	Text           string       `json:"text,omitempty"`
	VoiceRequested bool         `json:"voice_requested,omitempty"`
	VoiceText      string       `json:"voice_text,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// IsEmpty reports whether the response carries nothing to deliver.
func (r *OutgoingResponse) IsEmpty() bool {
	if r == nil {
		return true
	}
	return r.Text == "" && !r.VoiceRequested && len(r.Attachments) == 0 && r.Error == ""
}

// RouteStep identifies one sub-send of an outgoing response.
type RouteStep string

const (
	RouteStepText        RouteStep = "text"
	RouteStepVoice       RouteStep = "voice"
	RouteStepAttachments RouteStep = "attachments"
)

// RouteStepOutcome records the result of a single delivery step.
type RouteStepOutcome struct {
	Step       RouteStep     `json:"step"`
	Attempted  bool          `json:"attempted"`
	Sent       bool          `json:"sent"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
}

// RouteOutcome aggregates the per-step delivery results of one response.
// Delivery is best effort: a failed step never undoes earlier steps.
type RouteOutcome struct {
	Channel ChannelType        `json:"channel"`
	ChatID  string             `json:"chat_id"`
	Steps   []RouteStepOutcome `json:"steps"`
}

// Delivered reports whether at least one step was sent.
func (o *RouteOutcome) Delivered() bool {
	if o == nil {
		return false
	}
	for _, s := range o.Steps {
		if s.Sent {
			return true
		}
	}
	return false
}
