package actions

import (
	"reflect"
	"strings"
	"unicode"
)

var queryPrefixes = []string{"get", "read", "list"}

// inferType resolves the action type: an explicit type wins, then a GET or
// HEAD web trigger, then the name prefix.
func inferType(name string, explicit ActionType, triggers []Trigger) ActionType {
	if explicit != "" {
		return explicit
	}
	for _, t := range triggers {
		if wt, ok := t.(WebTrigger); ok && wt.IsQuery() {
			return Query
		}
	}
	lower := strings.ToLower(name)
	for _, p := range queryPrefixes {
		if strings.HasPrefix(lower, p) {
			return Query
		}
	}
	return Mutation
}

// SnakeCase converts a Go identifier to snake_case. Acronyms are kept
// together: GetHTTPStatus becomes get_http_status.
func SnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prev != '_' && (unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower)) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type jsonField struct {
	name string
	typ  reflect.Type
}

// jsonFields lists the exported, json-named fields of a struct, flattening
// embedded structs the way encoding/json does.
func jsonFields(t reflect.Type) []jsonField {
	var out []jsonField
	for i := range t.NumField() {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if f.Anonymous && name == "" {
			et := f.Type
			if et.Kind() == reflect.Pointer {
				et = et.Elem()
			}
			if et.Kind() == reflect.Struct {
				out = append(out, jsonFields(et)...)
				continue
			}
		}
		if !f.IsExported() || name == "" || name == "-" {
			continue
		}
		out = append(out, jsonField{name: name, typ: f.Type})
	}
	return out
}
