// Package expressions compiles and runs the small expression languages
// actions are configured with: CEL access policies, expr event filters and
// jq event transforms. Compiled programs are cached per source text.
package expressions

import (
	"context"
	"sync"

	"github.com/rendis/actuator/pkg/schema"
)

// Engine evaluates expressions against a data map.
type Engine interface {
	Name() string
	Compile(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// programs caches compiled programs by source text. Safe for concurrent use.
type programs[P any] struct {
	lang    string
	compile func(string) (P, error)

	mu    sync.RWMutex
	cache map[string]P
}

func newPrograms[P any](lang string, compile func(string) (P, error)) *programs[P] {
	return &programs[P]{lang: lang, compile: compile, cache: make(map[string]P)}
}

func (c *programs[P]) get(expression string) (P, error) {
	var zero P
	if expression == "" {
		return zero, schema.NewErrorf(schema.ErrCodeValidation, "empty %s expression", c.lang)
	}

	c.mu.RLock()
	p, ok := c.cache[expression]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.cache[expression]; ok {
		return p, nil
	}
	p, err := c.compile(expression)
	if err != nil {
		return zero, schema.NewErrorf(schema.ErrCodeValidation, "invalid %s expression %q: %s", c.lang, expression, err).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression, "language": c.lang})
	}
	c.cache[expression] = p
	return p, nil
}

func (c *programs[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func evalError(lang, expression string, err error) *schema.ActionError {
	return schema.NewErrorf(schema.ErrCodeExecution, "%s expression %q failed: %s", lang, expression, err).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression, "language": lang})
}

func wantBool(lang, expression string, out any) (bool, error) {
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation, "%s expression %q returned %T, want bool", lang, expression, out).
			WithDetails(map[string]any{"expression": expression, "language": lang})
	}
	return b, nil
}
