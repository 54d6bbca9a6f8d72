package expressions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoJQ_Transform(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"payload": map[string]any{"user": map[string]any{"first": "Tim"}},
	}

	out, err := e.Evaluate(context.Background(), `{name: .payload.user.first}`, data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Tim"}, out)
}

func TestGoJQ_MultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"items": []any{1, 2, 3}}

	out, err := e.Evaluate(context.Background(), `.items[]`, data)
	require.NoError(t, err)
	assert.Len(t, out, 3)

	all, err := e.EvaluateAll(context.Background(), `.missing`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{nil}, all)
}

func TestGoJQ_TransformWantsOneValue(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"payload": map[string]any{"who": "Ada", "tags": []any{"a", "b"}}}

	out, err := e.Transform(context.Background(), `{who: .payload.who}`, data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"who": "Ada"}, out)

	_, err = e.Transform(context.Background(), `.payload.tags[]`, data)
	assert.Error(t, err)

	_, err = e.Transform(context.Background(), `empty`, data)
	assert.Error(t, err)
}

func TestGoJQ_InputNotMutated(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"n": json.Number("2")}
	_, err := e.Evaluate(context.Background(), `.n * 2`, data)
	require.NoError(t, err)
	assert.Equal(t, json.Number("2"), data["n"])
}

func TestGoJQ_JSONNumberInput(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), `.n + 1`, map[string]any{"n": json.Number("41")})
	require.NoError(t, err)
	assert.EqualValues(t, 42, out)
}

func TestGoJQ_EnvBlocked(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), `$ENV | length`, map[string]any{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, out)
}

func TestGoJQ_Errors(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	assert.Error(t, err)

	assert.Error(t, e.Compile(`.[`))

	_, err = e.Evaluate(context.Background(), `error("boom")`, map[string]any{})
	assert.Error(t, err)
}
