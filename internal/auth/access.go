package auth

import (
	"context"
	"log/slog"

	"github.com/rendis/actuator/internal/expressions"
)

// AccessControl decides whether a principal may invoke an action.
// A nil principal means the request carried no credentials.
type AccessControl interface {
	IsAllowed(principal *Authorization) bool
}

// Unrestricted is implemented by access controls that admit anonymous
// requests. Parser factories use it to skip authentication entirely.
type Unrestricted interface {
	Unrestricted() bool
}

// IsUnrestricted reports whether ac admits every request, including
// anonymous ones. A nil access control is unrestricted.
func IsUnrestricted(ac AccessControl) bool {
	if ac == nil {
		return true
	}
	u, ok := ac.(Unrestricted)
	return ok && u.Unrestricted()
}

type allowAll struct{}

func (allowAll) IsAllowed(*Authorization) bool { return true }
func (allowAll) Unrestricted() bool            { return true }
func (allowAll) String() string                { return "allow_all" }

type allowNone struct{}

func (allowNone) IsAllowed(*Authorization) bool { return false }
func (allowNone) String() string                { return "allow_none" }

type allowAuthenticated struct{}

func (allowAuthenticated) IsAllowed(p *Authorization) bool { return p != nil }
func (allowAuthenticated) String() string                  { return "authenticated" }

var (
	// AllowAll admits every request.
	AllowAll AccessControl = allowAll{}
	// AllowNone rejects every request.
	AllowNone AccessControl = allowNone{}
	// AllowAuthenticated admits any request with a valid principal.
	AllowAuthenticated AccessControl = allowAuthenticated{}
)

// ScopeMode selects how ScopeAccess combines its required scopes.
type ScopeMode string

const (
	ScopeAny ScopeMode = "any"
	ScopeAll ScopeMode = "all"
)

// ScopeAccess admits principals holding the required scopes.
type ScopeAccess struct {
	Mode   ScopeMode
	Scopes []string
}

// RequireAnyScope admits principals holding at least one of the scopes.
func RequireAnyScope(scopes ...string) *ScopeAccess {
	return &ScopeAccess{Mode: ScopeAny, Scopes: scopes}
}

// RequireAllScopes admits principals holding every scope.
func RequireAllScopes(scopes ...string) *ScopeAccess {
	return &ScopeAccess{Mode: ScopeAll, Scopes: scopes}
}

func (s *ScopeAccess) IsAllowed(p *Authorization) bool {
	if p == nil {
		return false
	}
	if s.Mode == ScopeAll {
		return p.HasAllScopes(s.Scopes...)
	}
	return p.HasAnyScope(s.Scopes...)
}

func (s *ScopeAccess) String() string {
	return "scopes:" + string(s.Mode)
}

// ExpressionAccess admits principals for which a CEL expression evaluates to
// true. The expression sees `principal` (subject, scopes, claims) and
// `action`. Evaluation errors deny.
type ExpressionAccess struct {
	engine     *expressions.CELEngine
	expression string
	action     string
	logger     *slog.Logger
}

// NewExpressionAccess compiles the expression up front so malformed
// policies fail at registration rather than per request.
func NewExpressionAccess(engine *expressions.CELEngine, expression string) (*ExpressionAccess, error) {
	if err := engine.Compile(expression); err != nil {
		return nil, err
	}
	return &ExpressionAccess{
		engine:     engine,
		expression: expression,
		logger:     slog.Default(),
	}, nil
}

// ForAction returns a copy of the policy bound to an action name.
func (e *ExpressionAccess) ForAction(name string) *ExpressionAccess {
	cp := *e
	cp.action = name
	return &cp
}

func (e *ExpressionAccess) IsAllowed(p *Authorization) bool {
	if p == nil {
		return false
	}
	ok, err := e.engine.EvaluateBool(context.Background(), e.expression, map[string]any{
		"principal": p.AsMap(),
		"action":    e.action,
	})
	if err != nil {
		e.logger.Warn("access policy evaluation failed",
			slog.String("expression", e.expression),
			slog.String("action", e.action),
			slog.Any("error", err))
		return false
	}
	return ok
}

func (e *ExpressionAccess) String() string {
	return "expression:" + e.expression
}

var (
	_ AccessControl = (*ScopeAccess)(nil)
	_ AccessControl = (*ExpressionAccess)(nil)
)
