// Package schemagen derives JSON Schemas for action parameters and results
// from Go types.
package schemagen

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/rendis/actuator/internal/auth"
	"github.com/rendis/actuator/pkg/schema"
)

// Schemas holds the derived parameter and result schemas of one action.
type Schemas struct {
	Params *jsonschema.Schema
	Result *jsonschema.Schema
}

// MapFunc produces the schema for a mapped Go type.
type MapFunc func() *jsonschema.Schema

// Deriver derives action schemas. It is safe for concurrent use once built.
type Deriver struct {
	mappers map[reflect.Type]MapFunc
}

// Option configures a Deriver.
type Option func(*Deriver)

// WithMapper maps a Go type to a fixed schema. Mapped types are accepted even
// when they are interfaces.
func WithMapper(t reflect.Type, fn MapFunc) Option {
	return func(d *Deriver) {
		d.mappers[t] = fn
	}
}

// NewDeriver creates a Deriver with the built-in mappings for
// auth.Authorization and time.Duration.
func NewDeriver(opts ...Option) *Deriver {
	d := &Deriver{
		mappers: map[reflect.Type]MapFunc{
			auth.Type:                       authorizationSchema,
			reflect.TypeOf(time.Duration(0)): durationSchema,
		},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

var defaultDeriver = NewDeriver()

// Default returns the shared Deriver with built-in mappings only.
func Default() *Deriver {
	return defaultDeriver
}

// Derive builds the parameter and result schemas for an action. params must
// be a struct (or pointer to one) whose exported fields all carry a json tag
// and a concrete type. result may be any type other than an unmapped interface.
func (d *Deriver) Derive(action string, params, result reflect.Type) (*Schemas, error) {
	if params == nil || result == nil {
		return nil, derivationError(action, "parameter and result types are required")
	}

	pt := params
	if pt.Kind() == reflect.Pointer {
		pt = pt.Elem()
	}
	if pt.Kind() != reflect.Struct || pt == timeType {
		return nil, derivationError(action, fmt.Sprintf("parameters must be a struct, got %s", params))
	}
	if err := d.checkStruct(action, pt, "", map[reflect.Type]bool{}); err != nil {
		return nil, err
	}
	if d.isOpaque(result) {
		return nil, derivationError(action, fmt.Sprintf("result type %s has no schema", result))
	}

	r := d.reflector()
	r.ExpandedStruct = expandable(pt)
	ps := r.ReflectFromType(pt)
	applyDefaults(ps)
	zeroDefaults(ps, ps, pt, map[reflect.Type]bool{})

	return &Schemas{
		Params: ps,
		Result: d.reflectResult(result),
	}, nil
}

// reflector builds a fresh Reflector. Reflectors carry no state between
// calls, so building one per derivation keeps Derive free of side effects.
func (d *Deriver) reflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		ExpandedStruct:            true,
		Anonymous:                 true,
		AllowAdditionalProperties: false,
		Mapper:                    d.mapType,
	}
}

func (d *Deriver) mapType(t reflect.Type) *jsonschema.Schema {
	if fn, ok := d.mappers[t]; ok {
		return fn()
	}
	return nil
}

func (d *Deriver) reflectResult(t reflect.Type) *jsonschema.Schema {
	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if s := d.mapType(base); s != nil {
		s.Version = jsonschema.Version
		return s
	}
	r := d.reflector()
	r.ExpandedStruct = expandable(base)
	s := r.ReflectFromType(base)
	applyDefaults(s)
	return s
}

// isOpaque reports whether a type has no meaningful schema.
func (d *Deriver) isOpaque(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if _, ok := d.mappers[t]; ok {
		return false
	}
	switch t.Kind() {
	case reflect.Interface, reflect.Func, reflect.Chan, reflect.UnsafePointer,
		reflect.Complex64, reflect.Complex128, reflect.Invalid:
		return true
	}
	return false
}

func (d *Deriver) checkStruct(action string, t reflect.Type, prefix string, seen map[reflect.Type]bool) error {
	if seen[t] {
		return nil
	}
	seen[t] = true

	for i := range t.NumField() {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")

		if f.Anonymous && name == "" {
			et := f.Type
			if et.Kind() == reflect.Pointer {
				et = et.Elem()
			}
			if et.Kind() == reflect.Struct {
				if err := d.checkStruct(action, et, prefix, seen); err != nil {
					return err
				}
				continue
			}
		}
		if !f.IsExported() || name == "-" {
			continue
		}

		path := prefix + f.Name
		if name == "" {
			return derivationError(action, fmt.Sprintf("field %s has no json name", path)).
				WithDetails(map[string]any{"field": path})
		}
		if d.isOpaque(f.Type) {
			return derivationError(action, fmt.Sprintf("field %s has no concrete type (%s)", path, f.Type)).
				WithDetails(map[string]any{"field": path})
		}

		if nested := structElem(f.Type); nested != nil && d.mapType(nested) == nil && nested != timeType {
			if err := d.checkStruct(action, nested, path+".", seen); err != nil {
				return err
			}
		}
	}
	return nil
}

var timeType = reflect.TypeOf(time.Time{})

// structElem returns the struct type reached through pointers, slices and map
// values, or nil.
func structElem(t reflect.Type) reflect.Type {
	for {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
			t = t.Elem()
		case reflect.Struct:
			return t
		default:
			return nil
		}
	}
}

// expandable reports whether the reflector can inline t at the root. Only
// named structs are stored as definitions, and time.Time is a string.
func expandable(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t.Name() != "" && t != timeType
}

// applyDefaults drops properties carrying a default from every required list
// in the schema tree.
func applyDefaults(s *jsonschema.Schema) {
	walk(s, map[*jsonschema.Schema]bool{}, pruneRequired)
}

func walk(s *jsonschema.Schema, seen map[*jsonschema.Schema]bool, fn func(*jsonschema.Schema)) {
	if s == nil || seen[s] {
		return
	}
	seen[s] = true
	fn(s)
	if s.Properties != nil {
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			walk(pair.Value, seen, fn)
		}
	}
	walk(s.Items, seen, fn)
	walk(s.AdditionalProperties, seen, fn)
	for _, sub := range s.OneOf {
		walk(sub, seen, fn)
	}
	for _, def := range s.Definitions {
		walk(def, seen, fn)
	}
}

func pruneRequired(s *jsonschema.Schema) {
	if s.Properties == nil || len(s.Required) == 0 {
		return
	}
	kept := s.Required[:0]
	for _, name := range s.Required {
		if p, ok := s.Properties.Get(name); ok && p.Default != nil {
			continue
		}
		kept = append(kept, name)
	}
	s.Required = kept
}

// zeroDefaults gives optional omitempty scalar properties their zero value as
// default, so a loaded parameter value dumps back to the filled wire object.
func zeroDefaults(root, s *jsonschema.Schema, t reflect.Type, seen map[reflect.Type]bool) {
	s = Resolve(root, s)
	if s == nil || s.Properties == nil || seen[t] {
		return
	}
	seen[t] = true
	defer delete(seen, t)

	for i := range t.NumField() {
		f := t.Field(i)
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if f.Anonymous && name == "" {
			if et := structElem(f.Type); et != nil && f.Type.Kind() != reflect.Slice {
				zeroDefaults(root, s, et, seen)
			}
			continue
		}
		if !f.IsExported() || name == "" || name == "-" {
			continue
		}
		prop, ok := s.Properties.Get(name)
		if !ok {
			continue
		}
		if prop.Default == nil && strings.Contains(","+opts+",", ",omitempty,") {
			if z, ok := zeroOf(f.Type.Kind()); ok {
				prop.Default = z
			}
		}
		if et := structElem(f.Type); et != nil && et != timeType {
			target := prop
			if k := f.Type.Kind(); k == reflect.Slice || k == reflect.Array {
				target = Resolve(root, prop).Items
			}
			if k := f.Type.Kind(); k != reflect.Map {
				zeroDefaults(root, target, et, seen)
			}
		}
	}
}

func zeroOf(k reflect.Kind) (any, bool) {
	switch k {
	case reflect.String:
		return "", true
	case reflect.Bool:
		return false, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return 0, true
	case reflect.Float32, reflect.Float64:
		return 0.0, true
	}
	return nil, false
}

func derivationError(action, msg string) *schema.ActionError {
	return schema.NewError(schema.ErrCodeSchemaDerivation, msg).WithAction(action)
}

func authorizationSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	props.Set("subject", &jsonschema.Schema{Type: "string"})
	props.Set("scopes", &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}})
	props.Set("claims", &jsonschema.Schema{Type: "object"})
	return &jsonschema.Schema{
		Type:        "object",
		Description: "Authenticated principal, supplied by the server.",
		Properties:  props,
		Required:    []string{"subject"},
	}
}

func durationSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "integer",
		Description: "Duration in nanoseconds.",
	}
}
