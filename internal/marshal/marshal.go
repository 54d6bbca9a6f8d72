// Package marshal converts between wire documents and the Go values actions
// consume and produce. Every marshaller is bound to the schema derived for
// its type, which supplies defaults and formats.
package marshal

import (
	"fmt"
	"maps"
	"reflect"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/rendis/actuator/internal/jsoncodec"
	"github.com/rendis/actuator/internal/schemagen"
	"github.com/rendis/actuator/pkg/schema"
)

// Params loads action parameters from a wire object and dumps them back.
type Params struct {
	typ    reflect.Type
	schema *jsonschema.Schema
}

// NewParams creates a parameter marshaller for t, which may be a struct or a
// pointer to one.
func NewParams(t reflect.Type, s *jsonschema.Schema) *Params {
	return &Params{typ: t, schema: s}
}

// Type returns the Go type produced by Load.
func (p *Params) Type() reflect.Type { return p.typ }

// Schema returns the schema the marshaller was built from.
func (p *Params) Schema() *jsonschema.Schema { return p.schema }

// Load fills defaults for missing optional properties and decodes the result
// into a new value of the parameter type. Unknown properties are rejected.
func (p *Params) Load(wire map[string]any) (reflect.Value, error) {
	if wire == nil {
		wire = map[string]any{}
	}
	filled := FillDefaults(p.schema, wire)
	return decode(p.typ, filled, true)
}

// Dump renders a parameter value as a wire object. Fields tagged omitempty
// are written even when zero; only nil slices, maps and pointers stay absent.
func (p *Params) Dump(v any) (map[string]any, error) {
	doc, err := encode(v)
	if err != nil {
		return nil, err
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameters encoded as %T, want object", doc)
	}
	rv, ok := v.(reflect.Value)
	if !ok {
		rv = reflect.ValueOf(v)
	}
	if err := restoreOmitted(rv, m); err != nil {
		return nil, err
	}
	return m, nil
}

// restoreOmitted adds the zero values encoding dropped for omitempty fields
// of the struct rv, recursing into nested structs present in m.
func restoreOmitted(rv reflect.Value, m map[string]any) error {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" && opts == "" {
			continue
		}
		if f.Anonymous && name == "" {
			if err := restoreOmitted(rv.Field(i), m); err != nil {
				return err
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if cur, ok := m[name]; ok {
			if nested, ok := cur.(map[string]any); ok {
				if err := restoreOmitted(rv.Field(i), nested); err != nil {
					return err
				}
			}
			continue
		}
		if !hasTagOption(opts, "omitempty") && !hasTagOption(opts, "omitzero") {
			continue
		}
		fv := rv.Field(i)
		switch fv.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
			if fv.IsNil() {
				continue
			}
		}
		doc, err := encode(fv.Interface())
		if err != nil {
			return err
		}
		m[name] = doc
	}
	return nil
}

func hasTagOption(opts, want string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == want {
			return true
		}
	}
	return false
}

// Result dumps action results to wire documents and loads them back.
type Result struct {
	typ    reflect.Type
	schema *jsonschema.Schema
}

// NewResult creates a result marshaller for t.
func NewResult(t reflect.Type, s *jsonschema.Schema) *Result {
	return &Result{typ: t, schema: s}
}

// Type returns the Go type produced by Load.
func (r *Result) Type() reflect.Type { return r.typ }

// Schema returns the schema the marshaller was built from.
func (r *Result) Schema() *jsonschema.Schema { return r.schema }

// Dump renders a result as a wire document. date-time values are truncated
// to whole seconds.
func (r *Result) Dump(v any) (any, error) {
	doc, err := encode(v)
	if err != nil {
		return nil, err
	}
	return truncateTimes(r.schema, r.schema, doc), nil
}

// Load decodes a wire document into a new value of the result type.
func (r *Result) Load(wire any) (reflect.Value, error) {
	return decode(r.typ, wire, false)
}

func encode(v any) (any, error) {
	if rv, ok := v.(reflect.Value); ok {
		v = rv.Interface()
	}
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	doc, err := jsoncodec.UnmarshalAny(data)
	if err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return doc, nil
}

func decode(t reflect.Type, wire any, strict bool) (reflect.Value, error) {
	data, err := jsoncodec.Marshal(wire)
	if err != nil {
		return reflect.Value{}, schema.NewErrorf(schema.ErrCodeValidation, "encode arguments: %s", err).WithCause(err)
	}

	base := t
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	ptr := reflect.New(base)

	unmarshal := jsoncodec.Unmarshal
	if strict {
		unmarshal = jsoncodec.UnmarshalStrict
	}
	if err := unmarshal(data, ptr.Interface()); err != nil {
		return reflect.Value{}, schema.NewErrorf(schema.ErrCodeValidation, "invalid arguments: %s", err).WithCause(err)
	}

	if t.Kind() == reflect.Pointer {
		return ptr, nil
	}
	return ptr.Elem(), nil
}

// FillDefaults returns a copy of wire with schema defaults set for missing
// properties, recursing into nested objects and arrays of objects that are
// present. wire itself is not modified.
func FillDefaults(root *jsonschema.Schema, wire map[string]any) map[string]any {
	return fillObject(root, root, wire)
}

func fillObject(root, s *jsonschema.Schema, in map[string]any) map[string]any {
	out := maps.Clone(in)
	s = schemagen.Resolve(root, s)
	if s == nil || s.Properties == nil {
		return out
	}
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		name, prop := pair.Key, pair.Value
		v, ok := out[name]
		if !ok {
			if prop.Default != nil {
				out[name] = prop.Default
			}
			continue
		}
		out[name] = fillValue(root, prop, v)
	}
	return out
}

func fillValue(root, s *jsonschema.Schema, v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return fillObject(root, s, tv)
	case []any:
		items := schemagen.Resolve(root, s).Items
		if items == nil {
			return tv
		}
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = fillValue(root, items, item)
		}
		return out
	default:
		return v
	}
}

func truncateTimes(root, s *jsonschema.Schema, v any) any {
	s = schemagen.Resolve(root, s)
	if s == nil {
		return v
	}
	switch tv := v.(type) {
	case string:
		if s.Format == "date-time" {
			return truncateTime(tv)
		}
	case map[string]any:
		if s.Properties != nil {
			for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
				if pv, ok := tv[pair.Key]; ok {
					tv[pair.Key] = truncateTimes(root, pair.Value, pv)
				}
			}
		}
		if s.AdditionalProperties != nil && s.AdditionalProperties != jsonschema.FalseSchema {
			for k, pv := range tv {
				if s.Properties != nil {
					if _, declared := s.Properties.Get(k); declared {
						continue
					}
				}
				tv[k] = truncateTimes(root, s.AdditionalProperties, pv)
			}
		}
	case []any:
		if s.Items != nil {
			for i := range tv {
				tv[i] = truncateTimes(root, s.Items, tv[i])
			}
		}
	}
	return v
}

func truncateTime(s string) string {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return t.Truncate(time.Second).Format(time.RFC3339)
}
