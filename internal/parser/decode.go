package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/rendis/actuator/internal/jsoncodec"
	"github.com/rendis/actuator/internal/schemagen"
	"github.com/rendis/actuator/pkg/schema"
)

// Priorities of the terminal decoding factories.
const (
	QueryPriority = 10
	BodyPriority  = 0
)

// QueryFactory builds arguments from path variables and query parameters for
// web triggers using GET or HEAD. Values are coerced to the types declared in
// the wire schema; values that cannot be coerced are left as strings for
// validation to report.
type QueryFactory struct{}

func (QueryFactory) Name() string  { return "query" }
func (QueryFactory) Priority() int { return QueryPriority }

func (QueryFactory) Create(target Target, _ Next) (Parser, error) {
	wt, ok := target.WebTrigger()
	if !ok || !wt.IsQuery() {
		return nil, nil
	}
	params := target.Params
	return ParserFunc(func(_ context.Context, req *schema.Request) (*Arguments, error) {
		kwargs := make(map[string]any, len(req.Query)+len(req.Vars))
		for name, values := range req.Query {
			if len(values) == 0 {
				continue
			}
			kwargs[name] = coerceValues(params, name, values)
		}
		for name, v := range req.Vars {
			kwargs[name] = coerceValues(params, name, []string{v})
		}
		return &Arguments{Kwargs: kwargs}, nil
	}), nil
}

// BodyFactory decodes a JSON object body. An empty body is an empty object.
// Path variables fill properties the body leaves out.
type BodyFactory struct{}

func (BodyFactory) Name() string  { return "body" }
func (BodyFactory) Priority() int { return BodyPriority }

func (BodyFactory) Create(target Target, _ Next) (Parser, error) {
	params := target.Params
	return ParserFunc(func(_ context.Context, req *schema.Request) (*Arguments, error) {
		kwargs, err := decodeBody(req.Body)
		if err != nil {
			return nil, err
		}
		for name, v := range req.Vars {
			if _, ok := kwargs[name]; !ok {
				kwargs[name] = coerceValues(params, name, []string{v})
			}
		}
		return &Arguments{Kwargs: kwargs}, nil
	}), nil
}

func decodeBody(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}
	doc, err := jsoncodec.UnmarshalAny(body)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "request body is not valid JSON").WithCause(err)
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "request body must be a JSON object")
	}
	return m, nil
}

// coerceValues converts raw string values using the declared property type.
// Array properties take every value; other properties take the first.
func coerceValues(root *jsonschema.Schema, name string, values []string) any {
	prop, ok := schemagen.Property(root, name)
	if !ok {
		return values[0]
	}
	if prop.Type == "array" {
		items := schemagen.Resolve(root, prop.Items)
		out := make([]any, len(values))
		for i, v := range values {
			out[i] = coerce(items, v)
		}
		return out
	}
	return coerce(prop, values[0])
}

func coerce(s *jsonschema.Schema, raw string) any {
	if s == nil {
		return raw
	}
	switch s.Type {
	case "integer":
		if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return json.Number(raw)
		}
	case "number":
		if _, err := strconv.ParseFloat(raw, 64); err == nil {
			return json.Number(raw)
		}
	case "boolean":
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	case "object", "array":
		if strings.HasPrefix(strings.TrimSpace(raw), "{") || strings.HasPrefix(strings.TrimSpace(raw), "[") {
			if doc, err := jsoncodec.UnmarshalAny([]byte(raw)); err == nil {
				return doc
			}
		}
	}
	return raw
}
