package respond

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaybot/relay/internal/observability"
	"github.com/relaybot/relay/pkg/models"
)

// Sink delivers prepared content on one channel type. Channel adapters
// implement it.
type Sink interface {
	Channel() models.ChannelType
	SendText(ctx context.Context, chatID, text string) error
	SendVoice(ctx context.Context, chatID, text string) error
	SendAttachments(ctx context.Context, chatID string, attachments []models.Attachment) error
}

// Router delivers an OutgoingResponse over the matching sink in fixed
// order: text, then voice, then attachments. Delivery is best effort; a
// failed step is recorded and the remaining steps still run.
type Router struct {
	mu    sync.RWMutex
	sinks map[models.ChannelType]Sink
	log   *observability.Logger
	now   func() time.Time
}

// NewRouter creates a response router.
func NewRouter(log *observability.Logger) *Router {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Router{
		sinks: make(map[models.ChannelType]Sink),
		log:   log,
		now:   time.Now,
	}
}

// Register adds a channel sink, replacing any previous sink for the same
// channel type.
func (r *Router) Register(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[sink.Channel()] = sink
}

// Route sends the response to the chat on the given channel and reports
// per-step outcomes.
func (r *Router) Route(ctx context.Context, channel models.ChannelType, chatID string, resp *models.OutgoingResponse) *models.RouteOutcome {
	outcome := &models.RouteOutcome{Channel: channel, ChatID: chatID}

	r.mu.RLock()
	sink, ok := r.sinks[channel]
	r.mu.RUnlock()
	if !ok {
		err := fmt.Sprintf("no sink registered for channel %s", channel)
		outcome.Steps = append(outcome.Steps, models.RouteStepOutcome{
			Step:  models.RouteStepText,
			Error: err,
		})
		r.log.Error(ctx, "response routing failed", "channel", channel, "error", err)
		return outcome
	}

	if resp.Text != "" {
		outcome.Steps = append(outcome.Steps, r.step(ctx, models.RouteStepText, func() error {
			return sink.SendText(ctx, chatID, resp.Text)
		}))
	}
	if resp.VoiceRequested {
		voiceText := resp.VoiceText
		if voiceText == "" {
			voiceText = resp.Text
		}
		outcome.Steps = append(outcome.Steps, r.step(ctx, models.RouteStepVoice, func() error {
			return sink.SendVoice(ctx, chatID, voiceText)
		}))
	}
	if len(resp.Attachments) > 0 {
		outcome.Steps = append(outcome.Steps, r.step(ctx, models.RouteStepAttachments, func() error {
			return sink.SendAttachments(ctx, chatID, resp.Attachments)
		}))
	}

	if !outcome.Delivered() && len(outcome.Steps) > 0 {
		r.log.Warn(ctx, "no response step delivered", "channel", channel, "chat_id", chatID)
	}
	return outcome
}

func (r *Router) step(ctx context.Context, step models.RouteStep, send func() error) models.RouteStepOutcome {
	start := r.now()
	result := models.RouteStepOutcome{Step: step, Attempted: true}

	if err := send(); err != nil {
		result.Error = err.Error()
		r.log.Warn(ctx, "response step failed", "step", step, "error", err)
	} else {
		result.Sent = true
	}
	result.Duration = r.now().Sub(start)
	result.FinishedAt = r.now()
	return result
}
