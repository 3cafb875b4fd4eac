// Package approval brokers user confirmations for sensitive tool calls.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaybot/relay/internal/observability"
)

// sweepGrace is how long past the timeout an unresolved entry may linger
// before the sweeper evicts it.
const sweepGrace = 30 * time.Second

// ConfirmationPrompt is what a channel shows the user for one pending
// tool confirmation.
type ConfirmationPrompt struct {
	ID          string
	ToolName    string
	Description string
}

// Presenter delivers a confirmation prompt to the user. Channel sinks
// implement it with approve/deny affordances that feed the callback.
type Presenter interface {
	PresentConfirmation(ctx context.Context, chatID string, prompt ConfirmationPrompt) error
}

type pendingEntry struct {
	chatID    string
	result    chan bool
	resolved  bool
	createdAt time.Time
}

// Broker turns a confirmation request into a future resolved by a later
// channel callback. Unanswered requests deny after the timeout.
type Broker struct {
	mu        sync.Mutex
	pending   map[string]*pendingEntry
	presenter Presenter
	timeout   time.Duration
	log       *observability.Logger
	now       func() time.Time
}

// NewBroker creates a confirmation broker.
func NewBroker(presenter Presenter, timeout time.Duration, log *observability.Logger) *Broker {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = observability.NopLogger()
	}
	return &Broker{
		pending:   make(map[string]*pendingEntry),
		presenter: presenter,
		timeout:   timeout,
		log:       log,
		now:       time.Now,
	}
}

// Confirm presents the prompt and blocks until the user answers, the
// timeout elapses (denied), or the context ends. Implements the tool
// executor's confirmer port.
func (b *Broker) Confirm(ctx context.Context, chatID, toolName, description string) (bool, error) {
	entry := &pendingEntry{
		chatID:    chatID,
		result:    make(chan bool, 1),
		createdAt: b.now(),
	}
	prompt := ConfirmationPrompt{
		ID:          uuid.NewString(),
		ToolName:    toolName,
		Description: description,
	}

	b.mu.Lock()
	b.pending[prompt.ID] = entry
	b.mu.Unlock()

	if err := b.presenter.PresentConfirmation(ctx, chatID, prompt); err != nil {
		b.remove(prompt.ID)
		return false, fmt.Errorf("approval: present confirmation: %w", err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case approved := <-entry.result:
		b.remove(prompt.ID)
		return approved, nil
	case <-timer.C:
		b.remove(prompt.ID)
		b.log.Info(ctx, "confirmation timed out", "tool", toolName, "chat_id", chatID)
		return false, nil
	case <-ctx.Done():
		b.remove(prompt.ID)
		return false, ctx.Err()
	}
}

// OnConfirmationCallback resolves a pending request. Returns false for
// unknown or already-resolved ids, so duplicate callbacks are no-ops.
func (b *Broker) OnConfirmationCallback(id string, approved bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.pending[id]
	if !ok || entry.resolved {
		return false
	}
	entry.resolved = true
	entry.result <- approved
	return true
}

// Pending returns how many confirmations are awaiting an answer.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Sweep evicts entries older than timeout+grace. Those are requests whose
// waiter is gone; the maintenance cron calls this periodically.
func (b *Broker) Sweep() int {
	cutoff := b.now().Add(-(b.timeout + sweepGrace))

	b.mu.Lock()
	defer b.mu.Unlock()
	evicted := 0
	for id, entry := range b.pending {
		if entry.createdAt.Before(cutoff) {
			delete(b.pending, id)
			evicted++
		}
	}
	return evicted
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
}
