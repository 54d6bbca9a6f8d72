// Package dispatch routes transport-neutral requests to actions through an
// ordered handler chain and invokes them.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/rendis/actuator/internal/actions"
	"github.com/rendis/actuator/internal/logging"
	"github.com/rendis/actuator/internal/parser"
	"github.com/rendis/actuator/pkg/schema"
)

// Handler is one link of the dispatch chain.
type Handler interface {
	Match(req *schema.Request) bool
	Handle(ctx context.Context, req *schema.Request) (*schema.Response, error)
}

// Dispatcher walks its handlers in order and lets the first match handle the
// request. A NotFoundHandler always terminates the chain and an ErrorHandler
// turns every failure into a response.
type Dispatcher struct {
	handlers []Handler
	errors   *ErrorHandler
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over handlers, appending the terminal
// NotFoundHandler.
func NewDispatcher(logger *slog.Logger, handlers ...Handler) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	chain := make([]Handler, 0, len(handlers)+1)
	chain = append(chain, handlers...)
	chain = append(chain, NotFoundHandler{})
	return &Dispatcher{
		handlers: chain,
		errors:   NewErrorHandler(logger),
		logger:   logger,
	}
}

// Dispatch handles a request. It never fails: errors and panics become
// error responses.
func (d *Dispatcher) Dispatch(ctx context.Context, req *schema.Request) (resp *schema.Response) {
	if logging.RequestID(ctx) == "" {
		id := req.Header("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		ctx = logging.WithRequestID(ctx, id)
	}

	defer func() {
		if r := recover(); r != nil {
			resp = d.errors.Handle(ctx, req, &PanicError{Value: r, Stack: debug.Stack()})
		}
	}()

	h := d.match(req)
	resp, err := h.Handle(ctx, req)
	if err != nil {
		return d.errors.Handle(ctx, req, err)
	}
	if resp == nil {
		return d.errors.Handle(ctx, req, fmt.Errorf("handler %T returned no response", h))
	}
	return resp
}

func (d *Dispatcher) match(req *schema.Request) Handler {
	for _, h := range d.handlers {
		if h.Match(req) {
			return h
		}
	}
	// unreachable: NotFoundHandler matches everything
	return NotFoundHandler{}
}

// Build creates the standard dispatcher for a registry: the MetaHandler,
// one ActionHandler per action, then one RouteHandler per web trigger.
// Parsers are built here, once.
func Build(reg *actions.Registry, chain *parser.Chain, invoker *Invoker, logger *slog.Logger) (*Dispatcher, error) {
	metas := reg.List()

	meta, err := NewMetaHandler(metas)
	if err != nil {
		return nil, err
	}
	handlers := []Handler{meta}

	var routes []Handler
	for _, m := range metas {
		ep, err := NewEndpoint(chain, invoker, m, nil)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, NewActionHandler(ep))

		for _, wt := range m.WebTriggers() {
			ep, err := NewEndpoint(chain, invoker, m, wt)
			if err != nil {
				return nil, err
			}
			routes = append(routes, NewRouteHandler(wt, ep))
		}
	}
	handlers = append(handlers, routes...)
	return NewDispatcher(logger, handlers...), nil
}

// Endpoint pairs an action reached through one trigger with its parser.
type Endpoint struct {
	action  *actions.ActionMeta
	trigger actions.Trigger
	parser  parser.Parser
	invoker *Invoker
}

// NewEndpoint builds the parser for the action and trigger and compiles the
// result schema.
func NewEndpoint(chain *parser.Chain, invoker *Invoker, meta *actions.ActionMeta, trigger actions.Trigger) (*Endpoint, error) {
	p, err := chain.Build(parser.NewTarget(meta, trigger))
	if err != nil {
		return nil, fmt.Errorf("build parser for %s: %w", meta.Name, err)
	}
	if err := invoker.Prepare(meta); err != nil {
		return nil, err
	}
	return &Endpoint{action: meta, trigger: trigger, parser: p, invoker: invoker}, nil
}

// Action returns the endpoint's action.
func (e *Endpoint) Action() *actions.ActionMeta { return e.action }

// Trigger returns the trigger, nil for the default invocation route.
func (e *Endpoint) Trigger() actions.Trigger { return e.trigger }

// Call parses the request and invokes the action.
func (e *Endpoint) Call(ctx context.Context, req *schema.Request) (any, error) {
	if e.trigger != nil {
		ctx = logging.WithTrigger(ctx, e.trigger.String())
	}
	args, err := e.parser.Parse(ctx, req)
	if err != nil {
		return nil, asActionError(err, e.action.Name)
	}
	return e.invoker.Invoke(ctx, e.action, args)
}
