package schema

import "fmt"

// Violation is a single schema violation with its instance location.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult aggregates the violations found for one document.
type ValidationResult struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Valid returns true if there are no violations.
func (r *ValidationResult) Valid() bool {
	return len(r.Violations) == 0
}

// Add appends a violation.
func (r *ValidationResult) Add(path, message string) {
	r.Violations = append(r.Violations, Violation{Path: path, Message: message})
}

// ToError converts the result to an ActionError with the given code,
// or nil if valid.
func (r *ValidationResult) ToError(code string) error {
	if r.Valid() {
		return nil
	}

	msg := fmt.Sprintf("%s: %s", r.Violations[0].Path, r.Violations[0].Message)
	if len(r.Violations) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Violations))
	}

	return NewError(code, msg).
		WithDetails(map[string]any{"violations": r.Violations})
}
