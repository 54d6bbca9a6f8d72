package schemagen

import (
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/rendis/actuator/internal/jsoncodec"
)

const defsPrefix = "#/$defs/"

// Clone returns a deep copy of s.
func Clone(s *jsonschema.Schema) (*jsonschema.Schema, error) {
	data, err := jsoncodec.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone schema: %w", err)
	}
	out := new(jsonschema.Schema)
	if err := jsoncodec.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("clone schema: %w", err)
	}
	return out, nil
}

// Resolve follows a local $defs reference of s within root. Schemas without a
// reference, or with one that cannot be resolved, are returned unchanged.
func Resolve(root, s *jsonschema.Schema) *jsonschema.Schema {
	for i := 0; s != nil && s.Ref != "" && i < 8; i++ {
		name, ok := strings.CutPrefix(s.Ref, defsPrefix)
		if !ok || root == nil {
			return s
		}
		def, ok := root.Definitions[name]
		if !ok {
			return s
		}
		s = def
	}
	return s
}

// Property returns the resolved schema of a top-level property.
func Property(root *jsonschema.Schema, name string) (*jsonschema.Schema, bool) {
	if root == nil || root.Properties == nil {
		return nil, false
	}
	p, ok := root.Properties.Get(name)
	if !ok {
		return nil, false
	}
	return Resolve(root, p), true
}

// Strip returns a copy of root with the properties at the given paths
// removed. A path of length one names a top-level property; longer paths walk
// through nested object properties, following $defs references. Removed
// properties are dropped from the enclosing required list, and an enclosing
// object left with no required properties stops being required itself.
func Strip(root *jsonschema.Schema, paths [][]string) (*jsonschema.Schema, error) {
	out, err := Clone(root)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		if len(path) == 0 {
			continue
		}
		// chain[i] holds the object that contains path[i].
		chain := []*jsonschema.Schema{out}
		for _, seg := range path[:len(path)-1] {
			next, ok := Property(chain[len(chain)-1], seg)
			if !ok {
				return nil, fmt.Errorf("strip %s: no property %q", strings.Join(path, "."), seg)
			}
			// Definitions live on the root only.
			chain = append(chain, Resolve(out, next))
		}
		removeProperty(chain[len(chain)-1], path[len(path)-1])
		for i := len(chain) - 1; i > 0 && len(chain[i].Required) == 0; i-- {
			unrequire(chain[i-1], path[i-1])
		}
	}
	return out, nil
}

func removeProperty(s *jsonschema.Schema, name string) {
	if s.Properties != nil {
		s.Properties.Delete(name)
	}
	unrequire(s, name)
}

func unrequire(s *jsonschema.Schema, name string) {
	kept := s.Required[:0]
	for _, r := range s.Required {
		if r != name {
			kept = append(kept, r)
		}
	}
	s.Required = kept
}

// JSON renders a schema as a generic document, the form used in metadata
// responses and by the validator.
func JSON(s *jsonschema.Schema) (any, error) {
	data, err := jsoncodec.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	return jsoncodec.UnmarshalAny(data)
}
