package expressions

import (
	"context"

	"github.com/itchyny/gojq"
	"github.com/rendis/actuator/pkg/schema"
)

// GoJQEngine reshapes event documents into action parameters with jq.
// $ENV is always empty.
type GoJQEngine struct {
	programs *programs[*gojq.Code]
}

func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{programs: newPrograms("jq", func(s string) (*gojq.Code, error) {
		query, err := gojq.Parse(s)
		if err != nil {
			return nil, err
		}
		return gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	})}
}

func (e *GoJQEngine) Name() string { return "jq" }

func (e *GoJQEngine) Compile(expression string) error {
	_, err := e.programs.get(expression)
	return err
}

// Evaluate runs a jq program. A single output is returned as is; zero
// outputs give nil and several are collected into a slice.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	results, err := e.EvaluateAll(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// EvaluateAll returns every output of a jq program.
func (e *GoJQEngine) EvaluateAll(ctx context.Context, expression string, data map[string]any) ([]any, error) {
	code, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}
	// gojq normalizes its input in place
	input := NormalizeNumbers(data)

	var results []any
	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			return results, nil
		}
		if err, ok := v.(error); ok {
			return nil, evalError("jq", expression, err)
		}
		results = append(results, v)
	}
}

// Transform runs a jq program that must yield exactly one value.
func (e *GoJQEngine) Transform(ctx context.Context, expression string, data map[string]any) (any, error) {
	results, err := e.EvaluateAll(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "jq transform %q produced %d values, want 1", expression, len(results)).
			WithDetails(map[string]any{"expression": expression, "language": "jq"})
	}
	return results[0], nil
}

var _ Engine = (*GoJQEngine)(nil)
