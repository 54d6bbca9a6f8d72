package parser

import (
	"context"
	"errors"

	"github.com/rendis/actuator/internal/auth"
	"github.com/rendis/actuator/internal/schemagen"
	"github.com/rendis/actuator/pkg/schema"
)

// AuthorizationPriority places authorization ahead of every other factory.
const AuthorizationPriority = 100

// AuthorizationFactory authenticates requests, enforces the action's access
// control and injects the principal into Authorization-typed parameters.
// Injected parameters are removed from the wire schema, so clients cannot
// supply them.
type AuthorizationFactory struct {
	authorizer auth.Authorizer
}

// NewAuthorizationFactory creates the factory. authorizer may be nil when no
// action requires authentication.
func NewAuthorizationFactory(authorizer auth.Authorizer) *AuthorizationFactory {
	return &AuthorizationFactory{authorizer: authorizer}
}

func (f *AuthorizationFactory) Name() string  { return "authorization" }
func (f *AuthorizationFactory) Priority() int { return AuthorizationPriority }

func (f *AuthorizationFactory) Create(target Target, next Next) (Parser, error) {
	meta := target.Action
	unrestricted := auth.IsUnrestricted(meta.AccessControl)
	if unrestricted && len(meta.Injections) == 0 {
		return nil, nil
	}

	stripped := target
	if len(meta.Injections) > 0 {
		s, err := schemagen.Strip(target.Params, meta.Injections)
		if err != nil {
			return nil, err
		}
		stripped.Params = s
	}

	inner, err := next(stripped)
	if err != nil {
		return nil, err
	}

	ac := meta.AccessControl
	if ac == nil {
		ac = auth.AllowAll
	}
	return &authorizingParser{
		inner:        inner,
		authorizer:   f.authorizer,
		access:       ac,
		unrestricted: unrestricted,
		paths:        meta.Injections,
	}, nil
}

type authorizingParser struct {
	inner        Parser
	authorizer   auth.Authorizer
	access       auth.AccessControl
	unrestricted bool
	paths        [][]string
}

func (p *authorizingParser) Parse(ctx context.Context, req *schema.Request) (*Arguments, error) {
	principal, err := p.authenticate(ctx, req)
	if err != nil {
		return nil, err
	}

	if !p.access.IsAllowed(principal) {
		if principal == nil {
			return nil, schema.NewError(schema.ErrCodeUnauthorized, "authentication required")
		}
		return nil, schema.NewErrorf(schema.ErrCodeForbidden, "%s may not invoke this action", principal.Subject)
	}

	args, err := p.inner.Parse(auth.WithAuthorization(ctx, principal), req)
	if err != nil {
		return nil, err
	}

	for _, path := range p.paths {
		inject(args.Kwargs, path, principal)
	}
	args.Principal = principal
	return args, nil
}

// authenticate resolves the principal. Unrestricted actions accept requests
// without a token, but a token that is present must be valid.
func (p *authorizingParser) authenticate(ctx context.Context, req *schema.Request) (*auth.Authorization, error) {
	token := auth.BearerToken(req.Header("Authorization"))
	if token == "" && p.unrestricted {
		return nil, nil
	}
	if p.authorizer == nil {
		return nil, schema.NewError(schema.ErrCodeUnauthorized, "authentication is not configured")
	}

	principal, err := p.authorizer.Authorize(ctx, token)
	if err != nil {
		var ae *schema.ActionError
		if errors.As(err, &ae) {
			return nil, ae
		}
		return nil, schema.NewError(schema.ErrCodeUnauthorized, "authentication failed").WithCause(err)
	}
	return principal, nil
}

// inject sets value at path, creating intermediate objects as needed.
func inject(kwargs map[string]any, path []string, principal *auth.Authorization) {
	m := kwargs
	for _, seg := range path[:len(path)-1] {
		child, ok := m[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			m[seg] = child
		}
		m = child
	}
	m[path[len(path)-1]] = principal
}
