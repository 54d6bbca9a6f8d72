package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillHub_PublishSubscribe(t *testing.T) {
	hub := NewGoChannelHub(nil)
	defer hub.Close()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, "orders")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, Event{
		ID:      "msg-1",
		Channel: "orders",
		Payload: []byte(`{"total":12}`),
		Headers: map[string]string{"tenant": "acme"},
	}))

	select {
	case got := <-ch:
		assert.Equal(t, "msg-1", got.ID)
		assert.Equal(t, "orders", got.Channel)
		assert.JSONEq(t, `{"total":12}`, string(got.Payload))
		assert.Equal(t, "acme", got.Headers["tenant"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestWatermillHub_TopicsAreIsolated(t *testing.T) {
	hub := NewGoChannelHub(nil)
	defer hub.Close()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, "orders")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, Event{Channel: "invoices", Payload: []byte(`{}`)}))

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatermillHub_CancelClosesChannel(t *testing.T) {
	hub := NewGoChannelHub(nil)
	defer hub.Close()

	ch, cancel, err := hub.Subscribe(context.Background(), "orders")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestHubsImplementEventHub(t *testing.T) {
	var _ EventHub = NewMemoryHub()
	var _ EventHub = NewGoChannelHub(nil)
}
