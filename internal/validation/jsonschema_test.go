package validation

import (
	"errors"
	"sync"
	"testing"

	"github.com/rendis/actuator/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "times": {"type": "integer", "minimum": 1},
    "at": {"type": "string", "format": "date-time"},
    "address": {"$ref": "#/$defs/address"}
  },
  "required": ["name"],
  "additionalProperties": false,
  "$defs": {
    "address": {
      "type": "object",
      "properties": {"city": {"type": "string"}},
      "required": ["city"],
      "additionalProperties": false
    }
  }
}`

func compile(t *testing.T, doc string) *Compiled {
	t.Helper()
	c, err := NewJSONSchemaValidator().Compile([]byte(doc))
	require.NoError(t, err)
	return c
}

func TestCompile_CachesByDocument(t *testing.T) {
	v := NewJSONSchemaValidator()

	a, err := v.Compile([]byte(greetSchema))
	require.NoError(t, err)
	b, err := v.Compile([]byte(greetSchema))
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := v.Compile([]byte(`{"type":"string"}`))
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestCompile_InvalidDocuments(t *testing.T) {
	v := NewJSONSchemaValidator()

	_, err := v.Compile(nil)
	assert.Error(t, err)

	_, err = v.Compile([]byte(`{not json`))
	assert.Error(t, err)

	_, err = v.Compile([]byte(`{"type": 12}`))
	assert.Error(t, err)
}

func TestValidate_Valid(t *testing.T) {
	c := compile(t, greetSchema)

	assert.NoError(t, c.Validate(map[string]any{"name": "Ada"}))
	assert.NoError(t, c.Validate(map[string]any{
		"name":    "Ada",
		"times":   3,
		"at":      "2024-05-01T10:00:00Z",
		"address": map[string]any{"city": "Paris"},
	}))
}

func TestValidate_StructValue(t *testing.T) {
	c := compile(t, greetSchema)

	type greet struct {
		Name  string `json:"name"`
		Times int    `json:"times"`
	}
	assert.NoError(t, c.Validate(greet{Name: "Ada", Times: 2}))
	assert.Error(t, c.Validate(greet{Times: 2}))
}

func TestValidate_SingleViolation(t *testing.T) {
	c := compile(t, greetSchema)

	err := c.Validate(map[string]any{"name": 5})
	var ae *schema.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, schema.ErrCodeValidation, ae.Code)
	assert.Contains(t, ae.Message, "/name")

	vs, ok := ae.Details["violations"].([]schema.Violation)
	require.True(t, ok)
	require.Len(t, vs, 1)
	assert.Equal(t, "/name", vs[0].Path)
}

func TestValidate_MultipleViolations(t *testing.T) {
	c := compile(t, greetSchema)

	err := c.Validate(map[string]any{
		"times":   0,
		"extra":   true,
		"address": map[string]any{},
	})
	var ae *schema.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Contains(t, ae.Message, "validation failed with")

	vs := ae.Details["violations"].([]schema.Violation)
	assert.GreaterOrEqual(t, len(vs), 3)

	paths := make([]string, 0, len(vs))
	for _, v := range vs {
		paths = append(paths, v.Path)
	}
	assert.Contains(t, paths, "/times")
	assert.Contains(t, paths, "/address")
}

func TestValidate_FormatAsserted(t *testing.T) {
	c := compile(t, greetSchema)
	assert.Error(t, c.Validate(map[string]any{"name": "Ada", "at": "yesterday"}))
}

func TestCompile_Concurrent(t *testing.T) {
	v := NewJSONSchemaValidator()

	var wg sync.WaitGroup
	results := make([]*Compiled, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := v.Compile([]byte(greetSchema))
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range results[1:] {
		assert.Same(t, results[0], c)
	}
}
