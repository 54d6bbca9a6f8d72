// Package actions holds action metadata, triggers and the registry actions
// are registered in.
package actions

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/invopop/jsonschema"
	"github.com/rendis/actuator/internal/auth"
	"github.com/rendis/actuator/internal/marshal"
	"github.com/rendis/actuator/pkg/schema"
)

// DefaultTimeout bounds an action invocation when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// ActionType classifies an action for external surfaces.
type ActionType string

const (
	Query    ActionType = "QUERY"
	Mutation ActionType = "MUTATION"
)

// Callable invokes an action with decoded parameters.
type Callable func(ctx context.Context, params reflect.Value) (reflect.Value, error)

// ActionMeta describes a registered action. It is built by New, NewFromFunc
// or Registry.Discover and must not be modified afterwards.
type ActionMeta struct {
	Name        string
	Description string

	ParamsSchema *jsonschema.Schema
	ResultSchema *jsonschema.Schema
	Params       *marshal.Params
	Result       *marshal.Result

	AccessControl auth.AccessControl
	Triggers      []Trigger
	Timeout       time.Duration
	Type          ActionType
	Version       *semver.Version

	// Injections lists the json paths of Authorization-typed parameter
	// fields, top level first.
	Injections [][]string

	call Callable
}

// Call invokes the underlying function. Callers are responsible for timeouts.
func (m *ActionMeta) Call(ctx context.Context, params reflect.Value) (reflect.Value, error) {
	return m.call(ctx, params)
}

// WebTriggers returns the action's web triggers in declaration order.
func (m *ActionMeta) WebTriggers() []WebTrigger {
	var out []WebTrigger
	for _, t := range m.Triggers {
		if wt, ok := t.(WebTrigger); ok {
			out = append(out, wt)
		}
	}
	return out
}

// VersionString returns the semantic version, or "" when unversioned.
func (m *ActionMeta) VersionString() string {
	if m.Version == nil {
		return ""
	}
	return m.Version.String()
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// New builds metadata for a typed action function.
func New[P, R any](name string, fn func(context.Context, P) (R, error), opts ...Option) (*ActionMeta, error) {
	if fn == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "action function is nil").WithAction(name)
	}
	call := func(ctx context.Context, params reflect.Value) (reflect.Value, error) {
		p, ok := params.Interface().(P)
		if !ok {
			return reflect.Value{}, fmt.Errorf("parameters have type %s", params.Type())
		}
		r, err := fn(ctx, p)
		return reflect.ValueOf(&r).Elem(), err
	}
	return build(name, reflect.TypeFor[P](), reflect.TypeFor[R](), call, opts)
}

// NewFromFunc builds metadata for a function value of shape
// func(context.Context, P) (R, error), such as a bound method.
func NewFromFunc(name string, fn reflect.Value, opts ...Option) (*ActionMeta, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, schema.NewError(schema.ErrCodeSchemaDerivation, "action is not a function").WithAction(name)
	}
	ft := fn.Type()
	if !IsActionShape(ft) {
		return nil, schema.NewErrorf(schema.ErrCodeSchemaDerivation,
			"function %s does not have shape func(context.Context, P) (R, error)", ft).WithAction(name)
	}
	call := func(ctx context.Context, params reflect.Value) (reflect.Value, error) {
		out := fn.Call([]reflect.Value{reflect.ValueOf(ctx), params})
		err, _ := out[1].Interface().(error)
		return out[0], err
	}
	return build(name, ft.In(1), ft.Out(0), call, opts)
}

// IsActionShape reports whether ft is func(context.Context, P) (R, error).
func IsActionShape(ft reflect.Type) bool {
	return ft.Kind() == reflect.Func &&
		!ft.IsVariadic() &&
		ft.NumIn() == 2 && ft.In(0) == contextType &&
		ft.NumOut() == 2 && ft.Out(1) == errorType
}

func build(name string, pt, rt reflect.Type, call Callable, opts []Option) (*ActionMeta, error) {
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	schemas, err := o.deriver.Derive(name, pt, rt)
	if err != nil {
		return nil, err
	}

	if o.timeout <= 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "timeout must be positive, got %s", o.timeout).WithAction(name)
	}

	var version *semver.Version
	if o.version != "" {
		version, err = semver.NewVersion(o.version)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid version %q", o.version).
				WithAction(name).WithCause(err)
		}
	}

	triggers := make([]Trigger, 0, len(o.triggers))
	for _, t := range o.triggers {
		nt, err := normalizeTrigger(t)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, err.Error()).WithAction(name).WithCause(err)
		}
		triggers = append(triggers, nt)
	}

	ac := o.access
	if ea, ok := ac.(*auth.ExpressionAccess); ok {
		ac = ea.ForAction(name)
	}

	return &ActionMeta{
		Name:          name,
		Description:   o.description,
		ParamsSchema:  schemas.Params,
		ResultSchema:  schemas.Result,
		Params:        marshal.NewParams(pt, schemas.Params),
		Result:        marshal.NewResult(rt, schemas.Result),
		AccessControl: ac,
		Triggers:      triggers,
		Timeout:       o.timeout,
		Type:          inferType(name, o.actionType, triggers),
		Version:       version,
		Injections:    locateInjections(pt),
		call:          call,
	}, nil
}

// locateInjections finds Authorization-typed fields at the top level and one
// level into nested structs.
func locateInjections(pt reflect.Type) [][]string {
	if pt.Kind() == reflect.Pointer {
		pt = pt.Elem()
	}
	var paths [][]string
	for _, f := range jsonFields(pt) {
		if isAuthorization(f.typ) {
			paths = append(paths, []string{f.name})
		}
	}
	for _, f := range jsonFields(pt) {
		nt := f.typ
		if nt.Kind() == reflect.Pointer {
			nt = nt.Elem()
		}
		if nt.Kind() != reflect.Struct || isAuthorization(nt) {
			continue
		}
		for _, nf := range jsonFields(nt) {
			if isAuthorization(nf.typ) {
				paths = append(paths, []string{f.name, nf.name})
			}
		}
	}
	return paths
}

func isAuthorization(t reflect.Type) bool {
	return t == auth.Type || (t.Kind() == reflect.Pointer && t.Elem() == auth.Type)
}
