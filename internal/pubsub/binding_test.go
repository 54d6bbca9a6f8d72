package pubsub

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rendis/actuator/internal/actions"
	"github.com/rendis/actuator/internal/auth"
	"github.com/rendis/actuator/internal/dispatch"
	"github.com/rendis/actuator/internal/parser"
	"github.com/rendis/actuator/internal/streaming"
	"github.com/rendis/actuator/internal/validation"
	"github.com/rendis/actuator/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetParams struct {
	Name  string `json:"name"`
	Count int    `json:"count,omitempty"`
}

type recorder struct {
	mu    sync.Mutex
	seen  []greetParams
	added chan struct{}
}

func newRecorder() *recorder { return &recorder{added: make(chan struct{}, 16)} }

func (r *recorder) greet(_ context.Context, p greetParams) (string, error) {
	r.mu.Lock()
	r.seen = append(r.seen, p)
	r.mu.Unlock()
	select {
	case r.added <- struct{}{}:
	default:
	}
	return "ok", nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.seen))
	for _, p := range r.seen {
		out = append(out, p.Name)
	}
	return out
}

func newBinding(t *testing.T, hub streaming.EventHub, metas ...*actions.ActionMeta) *Binding {
	t.Helper()
	reg := actions.NewRegistry()
	for _, m := range metas {
		require.NoError(t, reg.Register(m))
	}
	v := validation.NewJSONSchemaValidator()
	authorizer := auth.NewStaticAuthorizer(map[string]auth.Authorization{
		"svc": {Subject: "billing", Scopes: []string{"events"}},
	})
	b, err := NewBinding(hub, reg, parser.DefaultChain(authorizer, v), dispatch.NewInvoker(v), slog.Default())
	require.NoError(t, err)
	return b
}

func TestBinding_FilterAndTransform(t *testing.T) {
	rec := newRecorder()
	meta, err := actions.New("greet", rec.greet, actions.WithTriggers(actions.PubSubTrigger{
		Channel:   "people",
		Filter:    `payload.kind == "greet" && payload.count > 2`,
		Transform: `{name: .payload.who, count: .payload.count}`,
	}))
	require.NoError(t, err)

	b := newBinding(t, streaming.NewMemoryHub(), meta)
	require.Len(t, b.Routes(), 1)
	r := b.Routes()[0]
	assert.Equal(t, "greet", r.Action())

	ran, err := b.Handle(context.Background(), r, streaming.Event{
		Channel: "people",
		Payload: []byte(`{"kind":"greet","who":"Ada","count":3}`),
	})
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = b.Handle(context.Background(), r, streaming.Event{
		Channel: "people",
		Payload: []byte(`{"kind":"greet","who":"Bob","count":1}`),
	})
	require.NoError(t, err)
	assert.False(t, ran)

	ran, err = b.Handle(context.Background(), r, streaming.Event{
		Channel: "people",
		Payload: []byte(`{"kind":"wave","who":"Cy","count":9}`),
	})
	require.NoError(t, err)
	assert.False(t, ran)

	assert.Equal(t, []string{"Ada"}, rec.names())
	assert.Equal(t, 3, rec.seen[0].Count)
}

func TestBinding_PayloadIsParamsWithoutTransform(t *testing.T) {
	rec := newRecorder()
	meta, err := actions.New("greet", rec.greet, actions.WithTriggers(actions.OnChannel("people")))
	require.NoError(t, err)

	b := newBinding(t, streaming.NewMemoryHub(), meta)
	r := b.Routes()[0]

	ran, err := b.Handle(context.Background(), r, streaming.Event{Channel: "people", Payload: []byte(`{"name":"Ada"}`)})
	require.NoError(t, err)
	assert.True(t, ran)

	_, err = b.Handle(context.Background(), r, streaming.Event{Channel: "people", Payload: []byte(`["Ada"]`)})
	var ae *schema.ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, schema.ErrCodeValidation, ae.Code)

	_, err = b.Handle(context.Background(), r, streaming.Event{Channel: "people", Payload: []byte(`{nope`)})
	require.Error(t, err)

	// invalid parameters never reach the action
	ran, err = b.Handle(context.Background(), r, streaming.Event{Channel: "people", Payload: []byte(`{"name":7}`)})
	assert.True(t, ran)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, schema.ErrCodeValidation, ae.Code)
	assert.Equal(t, []string{"Ada"}, rec.names())
}

func TestBinding_HeadersAuthenticate(t *testing.T) {
	rec := newRecorder()
	meta, err := actions.New("greet", rec.greet,
		actions.WithTriggers(actions.OnChannel("people")),
		actions.WithAccessControl(auth.RequireAnyScope("events")))
	require.NoError(t, err)

	b := newBinding(t, streaming.NewMemoryHub(), meta)
	r := b.Routes()[0]

	_, err = b.Handle(context.Background(), r, streaming.Event{Channel: "people", Payload: []byte(`{"name":"Ada"}`)})
	var ae *schema.ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, schema.ErrCodeUnauthorized, ae.Code)
	assert.Empty(t, rec.names())

	_, err = b.Handle(context.Background(), r, streaming.Event{
		Channel: "people",
		Payload: []byte(`{"name":"Ada"}`),
		Headers: map[string]string{"Authorization": "Bearer svc"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada"}, rec.names())
}

func TestBinding_InvalidFilterFailsAtBuild(t *testing.T) {
	meta, err := actions.New("greet", newRecorder().greet, actions.WithTriggers(actions.PubSubTrigger{
		Channel: "people",
		Filter:  `payload.kind ==`,
	}))
	require.NoError(t, err)

	reg := actions.NewRegistry()
	require.NoError(t, reg.Register(meta))
	v := validation.NewJSONSchemaValidator()
	_, err = NewBinding(streaming.NewMemoryHub(), reg, parser.DefaultChain(nil, v), dispatch.NewInvoker(v), nil)
	assert.Error(t, err)
}

func TestBinding_Run(t *testing.T) {
	for name, hub := range map[string]streaming.EventHub{
		"memory":    streaming.NewMemoryHub(),
		"watermill": streaming.NewGoChannelHub(nil),
	} {
		t.Run(name, func(t *testing.T) {
			defer hub.Close()

			rec := newRecorder()
			meta, err := actions.New("greet", rec.greet, actions.WithTriggers(actions.OnChannel("people")))
			require.NoError(t, err)
			b := newBinding(t, hub, meta)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- b.Run(ctx) }()

			// publish until the subscription is live
			deadline := time.After(2 * time.Second)
		publish:
			for {
				require.NoError(t, hub.Publish(context.Background(), streaming.Event{
					Channel: "people",
					Payload: []byte(`{"name":"Ada"}`),
				}))
				select {
				case <-rec.added:
					break publish
				case <-time.After(20 * time.Millisecond):
				case <-deadline:
					t.Fatal("event never handled")
				}
			}

			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("Run did not return after cancel")
			}
			assert.Contains(t, rec.names(), "Ada")
		})
	}
}
