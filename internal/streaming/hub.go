// Package streaming provides the pub/sub hubs that feed channel triggers.
package streaming

import "context"

// Event is a message published on a named channel.
type Event struct {
	ID      string            `json:"id"`
	Channel string            `json:"channel"`
	Payload []byte            `json:"payload,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// EventHub provides pub/sub over named channels.
type EventHub interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe returns a channel of events published on channel. The
	// returned channel is closed by cancel or when ctx ends.
	Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error)
	Close() error
}
