// Package auth defines the authenticated principal, the authorizers that
// produce it from bearer tokens, and the access-control policies evaluated
// against it before an action runs.
package auth

import (
	"context"
	"reflect"
	"slices"
)

// Authorization is the authenticated principal of a request.
// An action receives it by declaring a parameter field of this type; the
// field is populated by the server and never read from the wire.
type Authorization struct {
	Subject string         `json:"subject"`
	Scopes  []string       `json:"scopes,omitempty"`
	Claims  map[string]any `json:"claims,omitempty"`
}

// Type is the reflected type of Authorization, used to locate injection points.
var Type = reflect.TypeOf(Authorization{})

// HasScope reports whether the principal holds the scope.
func (a *Authorization) HasScope(scope string) bool {
	if a == nil {
		return false
	}
	return slices.Contains(a.Scopes, scope)
}

// HasAnyScope reports whether the principal holds at least one of the scopes.
// An empty scope list is satisfied by any principal.
func (a *Authorization) HasAnyScope(scopes ...string) bool {
	if len(scopes) == 0 {
		return a != nil
	}
	for _, s := range scopes {
		if a.HasScope(s) {
			return true
		}
	}
	return false
}

// HasAllScopes reports whether the principal holds every one of the scopes.
func (a *Authorization) HasAllScopes(scopes ...string) bool {
	if a == nil {
		return false
	}
	for _, s := range scopes {
		if !a.HasScope(s) {
			return false
		}
	}
	return true
}

// AsMap renders the principal for expression evaluation.
func (a *Authorization) AsMap() map[string]any {
	if a == nil {
		return map[string]any{}
	}
	scopes := a.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	claims := a.Claims
	if claims == nil {
		claims = map[string]any{}
	}
	return map[string]any{
		"subject": a.Subject,
		"scopes":  scopes,
		"claims":  claims,
	}
}

type ctxKey struct{}

// WithAuthorization returns a context carrying the request's principal.
func WithAuthorization(ctx context.Context, a *Authorization) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the request's principal, or nil if unauthenticated.
func FromContext(ctx context.Context) *Authorization {
	a, _ := ctx.Value(ctxKey{}).(*Authorization)
	return a
}
