package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rendis/actuator/pkg/schema"
)

// Authorizer turns a bearer token into a principal.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (*Authorization, error)
}

// BearerToken extracts the token from an Authorization header value.
// It returns "" when the header is absent or uses another scheme.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// StaticAuthorizer resolves tokens from a fixed table.
type StaticAuthorizer struct {
	tokens map[string]Authorization
}

// NewStaticAuthorizer creates an authorizer over a token table.
func NewStaticAuthorizer(tokens map[string]Authorization) *StaticAuthorizer {
	cp := make(map[string]Authorization, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &StaticAuthorizer{tokens: cp}
}

func (s *StaticAuthorizer) Authorize(_ context.Context, token string) (*Authorization, error) {
	if token == "" {
		return nil, schema.NewError(schema.ErrCodeUnauthorized, "missing bearer token")
	}
	a, ok := s.tokens[token]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeUnauthorized, "invalid bearer token")
	}
	return &a, nil
}

// JWTAuthorizer validates HS256 tokens. The subject comes from the "sub"
// claim and scopes from a space separated "scope" claim.
type JWTAuthorizer struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// JWTOption configures a JWTAuthorizer.
type JWTOption func(*JWTAuthorizer)

// WithIssuer requires a matching "iss" claim.
func WithIssuer(iss string) JWTOption {
	return func(a *JWTAuthorizer) { a.issuer = iss }
}

// WithLeeway allows clock skew when checking time based claims.
func WithLeeway(d time.Duration) JWTOption {
	return func(a *JWTAuthorizer) { a.leeway = d }
}

// NewJWTAuthorizer creates a JWT authorizer with the shared secret.
func NewJWTAuthorizer(secret []byte, opts ...JWTOption) *JWTAuthorizer {
	a := &JWTAuthorizer{secret: secret}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *JWTAuthorizer) Authorize(_ context.Context, token string) (*Authorization, error) {
	if token == "" {
		return nil, schema.NewError(schema.ErrCodeUnauthorized, "missing bearer token")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.leeway),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeUnauthorized, "invalid bearer token").WithCause(err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, schema.NewError(schema.ErrCodeUnauthorized, "token has no subject")
	}

	var scopes []string
	if s, ok := claims["scope"].(string); ok {
		scopes = strings.Fields(s)
	}

	return &Authorization{
		Subject: sub,
		Scopes:  scopes,
		Claims:  map[string]any(claims),
	}, nil
}

// Sign issues an HS256 token for the principal, valid for ttl.
func (a *JWTAuthorizer) Sign(principal Authorization, ttl time.Duration) (string, error) {
	if principal.Subject == "" {
		return "", errors.New("principal subject is empty")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": principal.Subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if len(principal.Scopes) > 0 {
		claims["scope"] = strings.Join(principal.Scopes, " ")
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Chain tries each authorizer in order and returns the first success.
// When all fail, the last error is returned.
type Chain []Authorizer

func (c Chain) Authorize(ctx context.Context, token string) (*Authorization, error) {
	err := error(schema.NewError(schema.ErrCodeUnauthorized, "authentication is not configured"))
	for _, a := range c {
		var principal *Authorization
		principal, err = a.Authorize(ctx, token)
		if err == nil {
			return principal, nil
		}
	}
	return nil, err
}

var (
	_ Authorizer = (*StaticAuthorizer)(nil)
	_ Authorizer = (*JWTAuthorizer)(nil)
	_ Authorizer = Chain(nil)
)
