package validation

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/actuator/internal/jsoncodec"
	"github.com/rendis/actuator/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// JSONSchemaValidator implements the Validator interface using JSON Schema Draft 2020-12.
// Compiled schemas are cached by document, so actions sharing a schema share
// a compiled checker. It is safe for concurrent use.
type JSONSchemaValidator struct {
	mu    sync.RWMutex
	cache map[string]*Compiled
	seq   int
}

// NewJSONSchemaValidator creates an empty validator.
func NewJSONSchemaValidator() *JSONSchemaValidator {
	return &JSONSchemaValidator{
		cache: make(map[string]*Compiled),
	}
}

// Compiled is a compiled schema ready to validate documents.
type Compiled struct {
	schema *jsonschema.Schema
}

// Compile compiles a schema document, returning the cached result for a
// document seen before.
func (v *JSONSchemaValidator) Compile(schemaDoc []byte) (*Compiled, error) {
	if len(schemaDoc) == 0 {
		return nil, errors.New("empty schema document")
	}
	key := string(schemaDoc)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each schema gets a unique URL to avoid collisions in the compiler.
	v.seq++
	url := fmt.Sprintf("actuator://schemas/%d", v.seq)

	// Use a fresh compiler per schema; $defs are local to each document.
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	out := &Compiled{schema: compiled}
	v.cache[key] = out
	return out, nil
}

// Validate checks a Go value against the schema. The value is normalised
// through JSON first, so structs, maps and json.Number all validate alike.
// Failures are returned as a VALIDATION_ERROR ActionError listing every violation.
func (c *Compiled) Validate(value any) error {
	doc, err := toJSONValue(value)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize value").WithCause(err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return toActionError(err)
	}
	return nil
}

// newCompiler creates a Compiler configured for parameter/result validation.
func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

// toActionError converts a jsonschema.ValidationError into an ActionError
// with one violation per failing leaf.
func toActionError(err error) error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}

	res := &schema.ValidationResult{}
	collectViolations(verr, res)
	if res.Valid() {
		return schema.NewError(schema.ErrCodeValidation, verr.Error()).WithCause(err)
	}
	return res.ToError(schema.ErrCodeValidation)
}

// collectViolations walks a ValidationError tree and collects leaf error messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError, res *schema.ValidationResult) {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		res.Add(loc, verr.ErrorKind.LocalizedString(printer))
		return
	}

	for _, cause := range verr.Causes {
		collectViolations(cause, res)
	}
}

var _ Validator = (*JSONSchemaValidator)(nil)
