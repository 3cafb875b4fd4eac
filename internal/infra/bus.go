package infra

import (
	"sync"

	"github.com/relaybot/relay/pkg/models"
)

// BusEvent is a domain event with its type tag and payload.
type BusEvent struct {
	Type    models.EventType
	Payload any
}

// Handler consumes a published event. Handlers must not block; slow work
// belongs in the handler's own goroutine.
type Handler func(event BusEvent)

// Bus is a minimal in-process publish/subscribe event bus for domain events.
// Subscriptions are frozen rarely and read often, so the subscriber list is
// copied on write.
type Bus struct {
	mu       sync.RWMutex
	handlers map[models.EventType][]Handler
	all      []Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[models.EventType][]Handler)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType models.EventType, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// Publish delivers an event synchronously to all matching handlers.
func (b *Bus) Publish(eventType models.EventType, payload any) {
	b.mu.RLock()
	typed := make([]Handler, len(b.handlers[eventType]))
	copy(typed, b.handlers[eventType])
	all := make([]Handler, len(b.all))
	copy(all, b.all)
	b.mu.RUnlock()

	event := BusEvent{Type: eventType, Payload: payload}
	for _, h := range typed {
		h(event)
	}
	for _, h := range all {
		h(event)
	}
}
