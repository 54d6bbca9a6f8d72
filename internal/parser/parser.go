// Package parser turns transport requests into action arguments. Parsers are
// composed from prioritised factories once per action and trigger, then
// reused for every request.
package parser

import (
	"context"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
	"github.com/rendis/actuator/internal/actions"
	"github.com/rendis/actuator/internal/auth"
	"github.com/rendis/actuator/pkg/schema"
)

// Arguments is the output of a parser: wire-form keyword arguments plus the
// authenticated principal, if any.
type Arguments struct {
	Kwargs    map[string]any
	Principal *auth.Authorization
}

// Parser extracts arguments from a request.
type Parser interface {
	Parse(ctx context.Context, req *schema.Request) (*Arguments, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(ctx context.Context, req *schema.Request) (*Arguments, error)

func (f ParserFunc) Parse(ctx context.Context, req *schema.Request) (*Arguments, error) {
	return f(ctx, req)
}

// Target is what a parser is built for: an action reached through a trigger
// (nil for the default invocation route) and the parameter schema requests
// must satisfy on the wire.
type Target struct {
	Action  *actions.ActionMeta
	Trigger actions.Trigger
	Params  *jsonschema.Schema
}

// NewTarget creates a target whose wire schema is the action's full
// parameter schema.
func NewTarget(meta *actions.ActionMeta, trigger actions.Trigger) Target {
	return Target{Action: meta, Trigger: trigger, Params: meta.ParamsSchema}
}

// WebTrigger returns the target's web trigger, if it has one.
func (t Target) WebTrigger() (actions.WebTrigger, bool) {
	wt, ok := t.Trigger.(actions.WebTrigger)
	return wt, ok
}

// Next builds a parser from the factories after the calling one.
type Next func(Target) (Parser, error)

// Factory creates a parser for a target or declines by returning a nil
// Parser and nil error. Factories may build their inner parser through next.
type Factory interface {
	Name() string
	Priority() int
	Create(target Target, next Next) (Parser, error)
}

// Chain is an ordered set of factories. It is immutable and safe for
// concurrent use.
type Chain struct {
	factories []Factory
}

// NewChain sorts the factories by descending priority. Factories with equal
// priority keep their given order.
func NewChain(factories ...Factory) *Chain {
	sorted := make([]Factory, len(factories))
	copy(sorted, factories)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return &Chain{factories: sorted}
}

// Factories returns the factory names in evaluation order.
func (c *Chain) Factories() []string {
	names := make([]string, len(c.factories))
	for i, f := range c.factories {
		names[i] = f.Name()
	}
	return names
}

// Build creates the parser for a target.
func (c *Chain) Build(target Target) (Parser, error) {
	return c.buildFrom(0, target)
}

func (c *Chain) buildFrom(start int, target Target) (Parser, error) {
	for i := start; i < len(c.factories); i++ {
		f := c.factories[i]
		next := func(t Target) (Parser, error) {
			return c.buildFrom(i+1, t)
		}
		p, err := f.Create(target, next)
		if err != nil {
			return nil, fmt.Errorf("parser factory %s: %w", f.Name(), err)
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no parser for action %q", target.Action.Name).
		WithAction(target.Action.Name)
}

// DefaultChain composes the standard factories: authorization, validation,
// query-string and body parsing.
func DefaultChain(authorizer auth.Authorizer, validator Compiler) *Chain {
	return NewChain(
		NewAuthorizationFactory(authorizer),
		NewValidationFactory(validator),
		QueryFactory{},
		BodyFactory{},
	)
}
