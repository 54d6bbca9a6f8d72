package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// CELEngine evaluates access policies. Policies see two variables:
//
//	principal  map(string, dyn): subject, scopes and claims; empty when anonymous
//	action     string: the invoked action's name
type CELEngine struct {
	env      *cel.Env
	programs *programs[cel.Program]
}

func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("principal", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("action", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	e := &CELEngine{env: env}
	e.programs = newPrograms("cel", e.compile)
	return e, nil
}

func (e *CELEngine) Name() string { return "cel" }

// compile rejects policies whose static type can never be a bool.
func (e *CELEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("policy has type %s, want bool", t)
	}
	return e.env.Program(ast, cel.EvalOptions(cel.OptOptimize))
}

func (e *CELEngine) Compile(expression string) error {
	_, err := e.programs.get(expression)
	return err
}

func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.ContextEval(ctx, activation(data))
	if err != nil {
		return nil, evalError("cel", expression, err)
	}
	return out.Value(), nil
}

// EvaluateBool evaluates a policy and requires a boolean result.
func (e *CELEngine) EvaluateBool(ctx context.Context, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	return wantBool("cel", expression, out)
}

// activation fills in missing variables so policies never hit an
// unbound reference.
func activation(data map[string]any) map[string]any {
	act := map[string]any{"principal": map[string]any{}, "action": ""}
	if v, ok := data["principal"]; ok && v != nil {
		act["principal"] = v
	}
	if v, ok := data["action"].(string); ok {
		act["action"] = v
	}
	return act
}

var _ Engine = (*CELEngine)(nil)
