// Package channels defines the inbound adapter port and its registry.
// Outbound delivery goes through respond.Sink; adapters here only produce
// unified messages from their platform.
package channels

import (
	"context"

	"github.com/relaybot/relay/pkg/models"
)

// Adapter is one messaging platform's inbound side.
type Adapter interface {
	// Start begins receiving. It returns once the adapter is running;
	// receiving continues until the context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop shuts the adapter down, waiting up to the context deadline.
	Stop(ctx context.Context) error

	// Messages returns the inbound message stream. The channel is closed
	// when the adapter stops.
	Messages() <-chan *models.Message

	// Type identifies the platform.
	Type() models.ChannelType

	// Status reports the current connection state.
	Status() Status
}

// Status is an adapter's connection state snapshot.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	LastPing  int64  `json:"last_ping,omitempty"`
}

// Registry holds the configured adapters.
type Registry struct {
	adapters map[models.ChannelType]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.ChannelType]Adapter)}
}

// Register adds an adapter, replacing any previous one of the same type.
func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.Type()] = adapter
}

// Get returns the adapter for a channel type.
func (r *Registry) Get(channelType models.ChannelType) (Adapter, bool) {
	adapter, ok := r.adapters[channelType]
	return adapter, ok
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// StartAll starts every adapter, failing fast on the first error.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, adapter := range r.adapters {
		if err := adapter.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every adapter and returns the last error seen.
func (r *Registry) StopAll(ctx context.Context) error {
	var lastErr error
	for _, adapter := range r.adapters {
		if err := adapter.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// AggregateMessages fans all adapters' inbound streams into one channel.
// The output closes with the context, not with any single adapter.
func (r *Registry) AggregateMessages(ctx context.Context) <-chan *models.Message {
	out := make(chan *models.Message)
	for _, adapter := range r.adapters {
		go func(a Adapter) {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-a.Messages():
					if !ok {
						return
					}
					select {
					case out <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}(adapter)
	}
	return out
}
