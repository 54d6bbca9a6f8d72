// Package pubsub invokes actions for events received on their subscribed
// channels.
package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rendis/actuator/internal/actions"
	"github.com/rendis/actuator/internal/dispatch"
	"github.com/rendis/actuator/internal/expressions"
	"github.com/rendis/actuator/internal/jsoncodec"
	"github.com/rendis/actuator/internal/logging"
	"github.com/rendis/actuator/internal/parser"
	"github.com/rendis/actuator/internal/streaming"
	"github.com/rendis/actuator/pkg/schema"
)

// Route is one action subscribed to one channel.
type Route struct {
	trigger  actions.PubSubTrigger
	endpoint *dispatch.Endpoint
}

// Action returns the subscribed action's name.
func (r *Route) Action() string { return r.endpoint.Action().Name }

// Trigger returns the subscription.
func (r *Route) Trigger() actions.PubSubTrigger { return r.trigger }

// Binding subscribes every pub/sub-triggered action to its channel.
//
// For each event the filter (an expr expression) decides whether the action
// runs and the transform (a jq program) maps the event to the action's
// parameters. Both see the event as {"channel", "headers", "payload"}.
// Without a transform the payload itself must be the parameter object.
// Event headers are passed on as request headers, so an "Authorization"
// header authenticates the invocation.
type Binding struct {
	hub       streaming.EventHub
	routes    []*Route
	filters   *expressions.ExprEngine
	transform *expressions.GoJQEngine
	logger    *slog.Logger
}

// NewBinding builds a route per pub/sub trigger in reg. Filters and
// transforms are compiled up front.
func NewBinding(hub streaming.EventHub, reg *actions.Registry, chain *parser.Chain, invoker *dispatch.Invoker, logger *slog.Logger) (*Binding, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Binding{
		hub:       hub,
		filters:   expressions.NewExprEngine(),
		transform: expressions.NewGoJQEngine(),
		logger:    logger,
	}

	for _, meta := range reg.List() {
		for _, t := range meta.Triggers {
			pt, ok := t.(actions.PubSubTrigger)
			if !ok {
				continue
			}
			if pt.Filter != "" {
				if err := b.filters.Compile(pt.Filter); err != nil {
					return nil, fmt.Errorf("action %s: filter: %w", meta.Name, err)
				}
			}
			if pt.Transform != "" {
				if err := b.transform.Compile(pt.Transform); err != nil {
					return nil, fmt.Errorf("action %s: transform: %w", meta.Name, err)
				}
			}
			ep, err := dispatch.NewEndpoint(chain, invoker, meta, pt)
			if err != nil {
				return nil, err
			}
			b.routes = append(b.routes, &Route{trigger: pt, endpoint: ep})
		}
	}
	return b, nil
}

// Routes returns the bound routes.
func (b *Binding) Routes() []*Route {
	return b.routes
}

// Run subscribes every route and handles events until ctx is cancelled.
// Events for one route are handled in order.
func (b *Binding) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, r := range b.routes {
		events, unsubscribe, err := b.hub.Subscribe(ctx, r.trigger.Channel)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("subscribe %s to %s: %w", r.Action(), r.trigger.Channel, err)
		}
		b.logger.Info("action subscribed",
			slog.String("action", r.Action()),
			slog.String("channel", r.trigger.Channel))

		wg.Add(1)
		go func(r *Route) {
			defer wg.Done()
			defer unsubscribe()
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					_, _ = b.Handle(ctx, r, ev)
				case <-ctx.Done():
					return
				}
			}
		}(r)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

// Handle processes one event for a route. It reports whether the action ran;
// failures are logged and returned.
func (b *Binding) Handle(ctx context.Context, r *Route, ev streaming.Event) (bool, error) {
	ctx = logging.WithRequestID(ctx, ev.ID)
	log := logging.LogWith(ctx, b.logger).With(
		slog.String("action", r.Action()),
		slog.String("channel", ev.Channel),
	)

	env, err := eventEnv(ev)
	if err != nil {
		log.Warn("event payload is not JSON", slog.Any("error", err))
		return false, err
	}

	if r.trigger.Filter != "" {
		pass, err := b.filters.EvaluateBool(ctx, r.trigger.Filter, env)
		if err != nil {
			log.Warn("event filter failed", slog.Any("error", err))
			return false, err
		}
		if !pass {
			log.Debug("event filtered out")
			return false, nil
		}
	}

	params := env["payload"]
	if r.trigger.Transform != "" {
		params, err = b.transform.Transform(ctx, r.trigger.Transform, env)
		if err != nil {
			log.Warn("event transform failed", slog.Any("error", err))
			return false, err
		}
	}
	if _, ok := params.(map[string]any); !ok {
		err := schema.NewErrorf(schema.ErrCodeValidation, "event parameters must be a JSON object, got %T", params).
			WithAction(r.Action())
		log.Warn("event dropped", slog.Any("error", err))
		return false, err
	}

	body, err := jsoncodec.Marshal(params)
	if err != nil {
		return false, err
	}
	req := schema.NewRequest("POST", "/"+r.Action(), body)
	for k, v := range ev.Headers {
		req.SetHeader(k, v)
	}

	if _, err := r.endpoint.Call(ctx, req); err != nil {
		log.Error("event handling failed", slog.Any("error", err))
		return true, err
	}
	log.Debug("event handled")
	return true, nil
}

func eventEnv(ev streaming.Event) (map[string]any, error) {
	var payload any
	if len(ev.Payload) > 0 {
		v, err := jsoncodec.UnmarshalAny(ev.Payload)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "event payload is not valid JSON").WithCause(err)
		}
		payload = expressions.NormalizeNumbers(v)
	}
	headers := make(map[string]any, len(ev.Headers))
	for k, v := range ev.Headers {
		headers[k] = v
	}
	return map[string]any{
		"channel": ev.Channel,
		"headers": headers,
		"payload": payload,
	}, nil
}
