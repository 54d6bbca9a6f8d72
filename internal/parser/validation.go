package parser

import (
	"context"
	"fmt"

	"github.com/rendis/actuator/internal/jsoncodec"
	"github.com/rendis/actuator/internal/validation"
	"github.com/rendis/actuator/pkg/schema"
)

// ValidationPriority runs validation inside authorization and around decoding.
const ValidationPriority = 50

// Compiler compiles schema documents. *validation.JSONSchemaValidator
// implements it.
type Compiler interface {
	Compile(schemaDoc []byte) (*validation.Compiled, error)
}

// ValidationFactory validates the arguments produced further down the chain
// against the target's wire schema.
type ValidationFactory struct {
	compiler Compiler
}

// NewValidationFactory creates the factory.
func NewValidationFactory(c Compiler) *ValidationFactory {
	return &ValidationFactory{compiler: c}
}

func (f *ValidationFactory) Name() string  { return "validation" }
func (f *ValidationFactory) Priority() int { return ValidationPriority }

func (f *ValidationFactory) Create(target Target, next Next) (Parser, error) {
	inner, err := next(target)
	if err != nil {
		return nil, err
	}

	doc, err := jsoncodec.Marshal(target.Params)
	if err != nil {
		return nil, fmt.Errorf("encode params schema: %w", err)
	}
	compiled, err := f.compiler.Compile(doc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSchemaDerivation, "params schema does not compile").
			WithAction(target.Action.Name).WithCause(err)
	}

	return ParserFunc(func(ctx context.Context, req *schema.Request) (*Arguments, error) {
		args, err := inner.Parse(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := compiled.Validate(args.Kwargs); err != nil {
			return nil, err
		}
		return args, nil
	}), nil
}
