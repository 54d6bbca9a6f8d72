package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rendis/actuator/internal/actions"
	"github.com/rendis/actuator/internal/auth"
	"github.com/rendis/actuator/internal/jsoncodec"
	"github.com/rendis/actuator/internal/logging"
	"github.com/rendis/actuator/internal/parser"
	"github.com/rendis/actuator/internal/validation"
	"github.com/rendis/actuator/pkg/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rendis/actuator/internal/dispatch"

// Invoker runs actions with parsed arguments: it decodes the parameters,
// calls the action under its timeout, checks the result against the result
// schema and encodes it. Every binding invokes actions through it.
type Invoker struct {
	validator *validation.JSONSchemaValidator
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *slog.Logger

	mu      sync.RWMutex
	results map[*actions.ActionMeta]*validation.Compiled
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithMetrics records invocations in m.
func WithMetrics(m *Metrics) InvokerOption {
	return func(i *Invoker) { i.metrics = m }
}

// WithLogger sets the invoker's logger.
func WithLogger(l *slog.Logger) InvokerOption {
	return func(i *Invoker) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) InvokerOption {
	return func(i *Invoker) {
		if t != nil {
			i.tracer = t
		}
	}
}

// NewInvoker creates an Invoker.
func NewInvoker(v *validation.JSONSchemaValidator, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		validator: v,
		tracer:    otel.Tracer(tracerName),
		logger:    slog.Default(),
		results:   make(map[*actions.ActionMeta]*validation.Compiled),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Prepare compiles the action's result schema ahead of the first invocation.
func (i *Invoker) Prepare(meta *actions.ActionMeta) error {
	_, err := i.resultSchema(meta)
	return err
}

// Invoke runs the action and returns its encoded result.
func (i *Invoker) Invoke(ctx context.Context, meta *actions.ActionMeta, args *parser.Arguments) (any, error) {
	start := time.Now()
	ctx = logging.WithAction(ctx, meta.Name)
	ctx, span := i.tracer.Start(ctx, "actuator.invoke",
		trace.WithAttributes(
			attribute.String("action.name", meta.Name),
			attribute.String("action.type", string(meta.Type)),
		),
	)
	defer span.End()

	out, err := i.invoke(ctx, meta, args)

	status := http.StatusOK
	if err != nil {
		status = StatusOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Int("action.status", status))
	i.metrics.Observe(meta.Name, status, time.Since(start))
	return out, err
}

func (i *Invoker) invoke(ctx context.Context, meta *actions.ActionMeta, args *parser.Arguments) (any, error) {
	if args == nil {
		args = &parser.Arguments{}
	}
	if args.Principal != nil {
		ctx = auth.WithAuthorization(ctx, args.Principal)
	}

	params, err := meta.Params.Load(args.Kwargs)
	if err != nil {
		return nil, asActionError(err, meta.Name)
	}

	result, err := i.call(ctx, meta, params)
	if err != nil {
		return nil, err
	}

	doc, err := meta.Result.Dump(result.Interface())
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "result could not be encoded").
			WithAction(meta.Name).WithCause(err)
	}

	compiled, err := i.resultSchema(meta)
	if err != nil {
		return nil, err
	}
	if err := compiled.Validate(doc); err != nil {
		var details map[string]any
		var ae *schema.ActionError
		if errors.As(err, &ae) {
			details = ae.Details
		}
		return nil, schema.NewError(schema.ErrCodeExecution, "result does not match the declared result schema").
			WithAction(meta.Name).WithDetails(details).WithCause(err)
	}
	return doc, nil
}

type outcome struct {
	value reflect.Value
	err   error
}

// call runs the action in its own goroutine bounded by the action timeout.
// On expiry the goroutine is abandoned with a cancelled context.
func (i *Invoker) call(ctx context.Context, meta *actions.ActionMeta, params reflect.Value) (reflect.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
		}()
		v, err := meta.Call(ctx, params)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return reflect.Value{}, classify(ctx, meta, o.err)
		}
		return o.value, nil
	case <-ctx.Done():
		return reflect.Value{}, classify(ctx, meta, ctx.Err())
	}
}

func classify(ctx context.Context, meta *actions.ActionMeta, err error) error {
	var ae *schema.ActionError
	switch {
	case errors.As(err, &ae):
		return withAction(ae, meta.Name)
	case errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return schema.NewErrorf(schema.ErrCodeTimeout, "action timed out after %s", meta.Timeout).
			WithAction(meta.Name).WithCause(err)
	default:
		return schema.NewError(schema.ErrCodeExecution, "action failed").
			WithAction(meta.Name).WithCause(err)
	}
}

func (i *Invoker) resultSchema(meta *actions.ActionMeta) (*validation.Compiled, error) {
	i.mu.RLock()
	c, ok := i.results[meta]
	i.mu.RUnlock()
	if ok {
		return c, nil
	}

	doc, err := jsoncodec.Marshal(meta.ResultSchema)
	if err != nil {
		return nil, fmt.Errorf("encode result schema: %w", err)
	}
	c, err = i.validator.Compile(doc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSchemaDerivation, "result schema does not compile").
			WithAction(meta.Name).WithCause(err)
	}

	i.mu.Lock()
	i.results[meta] = c
	i.mu.Unlock()
	return c, nil
}

// PanicError is returned when an action panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func asActionError(err error, action string) *schema.ActionError {
	var ae *schema.ActionError
	if errors.As(err, &ae) {
		return withAction(ae, action)
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithAction(action).WithCause(err)
}

// withAction returns ae naming the action, copying it so errors shared
// between calls are never mutated.
func withAction(ae *schema.ActionError, action string) *schema.ActionError {
	if ae.Action != "" {
		return ae
	}
	cp := *ae
	cp.Action = action
	return &cp
}

// StatusOf maps an error to the HTTP status it is reported with.
func StatusOf(err error) int {
	var ae *schema.ActionError
	if errors.As(err, &ae) {
		return ae.Status()
	}
	return http.StatusInternalServerError
}
