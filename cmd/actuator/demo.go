package main

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rendis/actuator/internal/actions"
	"github.com/rendis/actuator/internal/auth"
	"github.com/rendis/actuator/internal/expressions"
	"github.com/rendis/actuator/internal/jsoncodec"
	"github.com/rendis/actuator/internal/logging"
	"github.com/rendis/actuator/internal/streaming"
	"github.com/rendis/actuator/pkg/schema"
)

// greetingsChannel carries greet events between PublishGreeting and
// RecordGreeting.
const greetingsChannel = "greetings"

// heartbeatInterval is the HeartBeat action's fixed rate.
const heartbeatInterval = 30 * time.Second

// demoActions is the discovery root for the bundled actions.
type demoActions struct {
	hub     streaming.EventHub
	cel     *expressions.CELEngine
	timeout time.Duration
	logger  *slog.Logger
	started time.Time

	beats     atomic.Int64
	greetings atomic.Int64
}

func newDemoActions(hub streaming.EventHub, timeout time.Duration, logger *slog.Logger) (*demoActions, error) {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &demoActions{
		hub:     hub,
		cel:     cel,
		timeout: timeout,
		logger:  logger,
		started: time.Now(),
	}, nil
}

// NoParams is the parameter type of actions that take none.
type NoParams struct{}

type HelloParams struct {
	Name string `json:"name" jsonschema:"default=Doofus,description=Who to greet"`
}

func (d *demoActions) SayHello(_ context.Context, p HelloParams) (string, error) {
	return "Hello " + p.Name + "!", nil
}

type TimeResult struct {
	Now    time.Time `json:"now"`
	Uptime string    `json:"uptime"`
}

func (d *demoActions) GetTime(context.Context, NoParams) (TimeResult, error) {
	now := time.Now().UTC()
	return TimeResult{Now: now, Uptime: now.Sub(d.started).Round(time.Second).String()}, nil
}

type ProfileParams struct {
	Caller *auth.Authorization `json:"caller"`
}

type Profile struct {
	Subject string   `json:"subject"`
	Scopes  []string `json:"scopes,omitempty"`
}

func (d *demoActions) GetProfile(_ context.Context, p ProfileParams) (Profile, error) {
	return Profile{Subject: p.Caller.Subject, Scopes: p.Caller.Scopes}, nil
}

type PublishParams struct {
	Who string `json:"who" jsonschema:"minLength=1"`
}

type Published struct {
	Channel string `json:"channel"`
}

func (d *demoActions) PublishGreeting(ctx context.Context, p PublishParams) (Published, error) {
	payload, err := jsoncodec.Marshal(map[string]any{"kind": "greet", "who": p.Who})
	if err != nil {
		return Published{}, err
	}
	if err := d.hub.Publish(ctx, streaming.Event{Channel: greetingsChannel, Payload: payload}); err != nil {
		return Published{}, schema.NewError(schema.ErrCodeExecution, "publish failed").WithCause(err)
	}
	return Published{Channel: greetingsChannel}, nil
}

type GreetingEvent struct {
	Who string `json:"who"`
}

type Tally struct {
	Count int64 `json:"count"`
}

func (d *demoActions) RecordGreeting(ctx context.Context, e GreetingEvent) (Tally, error) {
	n := d.greetings.Add(1)
	logging.LogWith(ctx, d.logger).Info("greeting recorded", slog.String("who", e.Who), slog.Int64("count", n))
	return Tally{Count: n}, nil
}

func (d *demoActions) HeartBeat(context.Context, NoParams) (Tally, error) {
	return Tally{Count: d.beats.Add(1)}, nil
}

func (d *demoActions) ResetCounters(context.Context, NoParams) (Tally, error) {
	d.greetings.Store(0)
	return Tally{Count: d.beats.Swap(0)}, nil
}

// ActionOptions configures the discovered actions by Go method name.
func (d *demoActions) ActionOptions(method string) []actions.Option {
	opts := []actions.Option{actions.WithTimeout(d.timeout)}

	switch method {
	case "SayHello":
		opts = append(opts,
			actions.WithDescription("Greets someone by name."),
			actions.WithTriggers(actions.Web("GET", "/hello/{name}")),
			actions.WithVersion("1.0.0"))
	case "GetTime":
		opts = append(opts, actions.WithDescription("Returns the server time and uptime."))
	case "GetProfile":
		opts = append(opts,
			actions.WithDescription("Returns the authenticated caller."),
			actions.WithAccessControl(auth.AllowAuthenticated))
	case "PublishGreeting":
		access, err := auth.NewExpressionAccess(d.cel, `'publish' in principal.scopes || 'admin' in principal.scopes`)
		if err != nil {
			panic(err)
		}
		opts = append(opts,
			actions.WithDescription("Publishes a greet event."),
			actions.WithAccessControl(access))
	case "RecordGreeting":
		opts = append(opts,
			actions.WithDescription("Counts greet events."),
			actions.WithTriggers(actions.PubSubTrigger{
				Channel:   greetingsChannel,
				Filter:    `payload.kind == "greet"`,
				Transform: `{who: .payload.who}`,
			}))
	case "HeartBeat":
		opts = append(opts,
			actions.WithDescription("Counts scheduler ticks."),
			actions.WithTriggers(actions.Every(heartbeatInterval)))
	case "ResetCounters":
		opts = append(opts,
			actions.WithDescription("Resets the demo counters."),
			actions.WithAccessControl(auth.RequireAllScopes("admin")))
	}
	return opts
}
