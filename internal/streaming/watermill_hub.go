package streaming

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// WatermillHub adapts a watermill publisher and subscriber pair to EventHub.
// Channels map to watermill topics and headers to message metadata.
type WatermillHub struct {
	publisher  message.Publisher
	subscriber message.Subscriber
}

// NewWatermillHub wraps a publisher and subscriber.
func NewWatermillHub(pub message.Publisher, sub message.Subscriber) *WatermillHub {
	return &WatermillHub{publisher: pub, subscriber: sub}
}

// NewGoChannelHub creates a WatermillHub over watermill's in-process
// gochannel pub/sub.
func NewGoChannelHub(logger *slog.Logger) *WatermillHub {
	if logger == nil {
		logger = slog.Default()
	}
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: defaultChannelBuffer,
	}, watermill.NewSlogLogger(logger))
	return NewWatermillHub(ps, ps)
}

// Publish sends the event to the topic named by its channel.
func (h *WatermillHub) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	msg := message.NewMessage(id, event.Payload)
	msg.SetContext(ctx)
	for k, v := range event.Headers {
		msg.Metadata.Set(k, v)
	}
	if err := h.publisher.Publish(event.Channel, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", event.Channel, err)
	}
	return nil
}

// Subscribe consumes the topic. Messages are acked once delivered to the
// returned channel and nacked when the subscription ends first.
func (h *WatermillHub) Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	messages, err := h.subscriber.Subscribe(subCtx, channel)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	out := make(chan Event, defaultChannelBuffer)
	go func() {
		defer close(out)
		for msg := range messages {
			ev := Event{
				ID:      msg.UUID,
				Channel: channel,
				Payload: msg.Payload,
				Headers: make(map[string]string, len(msg.Metadata)),
			}
			for k, v := range msg.Metadata {
				ev.Headers[k] = v
			}
			select {
			case out <- ev:
				msg.Ack()
			case <-subCtx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, cancel, nil
}

// Close closes the publisher and, when distinct, the subscriber.
func (h *WatermillHub) Close() error {
	err := h.publisher.Close()
	if any(h.subscriber) != any(h.publisher) {
		if sErr := h.subscriber.Close(); err == nil {
			err = sErr
		}
	}
	return err
}
