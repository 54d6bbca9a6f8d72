package validation

// Validator compiles derived action schemas into reusable checkers.
// Uses JSON Schema Draft 2020-12.
type Validator interface {
	Compile(schemaDoc []byte) (*Compiled, error)
}
