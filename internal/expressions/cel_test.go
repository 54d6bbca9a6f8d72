package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/actuator/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_BooleanLiteral(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "true", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_PrincipalScopes(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"principal": map[string]any{
			"subject": "alice",
			"scopes":  []string{"read", "admin"},
		},
		"action": "delete_user",
	}

	ok, err := e.EvaluateBool(context.Background(), `"admin" in principal.scopes && action.startsWith("delete")`, data)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateBool(context.Background(), `principal.subject == "bob"`, data)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCEL_MissingPrincipalDefaultsToEmptyMap(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	ok, err := e.EvaluateBool(context.Background(), `size(principal) == 0`, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCEL_NonBoolPolicyRejectedAtCompile(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	err = e.Compile(`size(principal)`)
	var aErr *schema.ActionError
	require.ErrorAs(t, err, &aErr)
	assert.Equal(t, schema.ErrCodeValidation, aErr.Code)

	// dyn results are only known at run time
	_, err = e.EvaluateBool(context.Background(), `principal.subject`, map[string]any{
		"principal": map[string]any{"subject": "alice"},
	})
	require.ErrorAs(t, err, &aErr)
	assert.Equal(t, schema.ErrCodeValidation, aErr.Code)
}

func TestCEL_MissingFieldIsExecutionError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.EvaluateBool(context.Background(), `principal.claims.tier == "gold"`, nil)
	var aErr *schema.ActionError
	require.ErrorAs(t, err, &aErr)
	assert.Equal(t, schema.ErrCodeExecution, aErr.Code)
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	err = e.Compile("principal.(")
	require.Error(t, err)

	var aErr *schema.ActionError
	require.ErrorAs(t, err, &aErr)
	assert.Equal(t, schema.ErrCodeValidation, aErr.Code)
	assert.Equal(t, "principal.(", aErr.Details["expression"])
}

func TestCEL_ConcurrentEvaluation(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := e.EvaluateBool(context.Background(), `action == "x"`, map[string]any{"action": "x"})
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
}
