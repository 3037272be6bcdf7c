// Package callerauth mints and verifies the bearer token a
// ToolContextFactory attaches per call (§6) once the daemon's transport
// collaborator has authenticated a caller. The daemon itself never
// terminates a network listener (that is the transport's job, explicitly
// out of scope per §1); this package only gives that collaborator a
// signed, inspectable identity to hand through to operation execution.
package callerauth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/reins-ai/agentd/pkg/agentderr"
)

type bearerTokenKey struct{}

// WithBearerToken attaches a raw bearer token string to ctx, for the
// transport collaborator to set before invoking a tool.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenKey{}, token)
}

func bearerTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerTokenKey{}).(string)
	return token, ok && token != ""
}

// ContextFactory builds an integrationsvc.ToolContextFactory-shaped
// function (kept untyped here to avoid an import cycle) that verifies
// whatever bearer token the transport attached to ctx and hands the
// resulting claims through as the tool's opaque per-call context. A
// request with no token, or a token that fails verification, yields a nil
// context rather than failing the call outright: enforcement of whether a
// nil caller may proceed belongs to the transport, not this factory.
func ContextFactory(tm *TokenManager) func(ctx context.Context) any {
	return func(ctx context.Context) any {
		token, ok := bearerTokenFromContext(ctx)
		if !ok {
			return nil
		}
		claims, err := tm.Verify(token)
		if err != nil {
			return nil
		}
		return claims
	}
}

// CallerClaims identifies the principal a tool call is executing on behalf
// of, and which integrations it's allowed to reach.
type CallerClaims struct {
	jwt.RegisteredClaims
	CallerID     string   `json:"callerId"`
	Integrations []string `json:"integrations,omitempty"`
}

// TokenManager signs and verifies CallerClaims with a single symmetric key.
// A per-user local daemon has no need for a JWKS or asymmetric keyset; the
// key is whatever secret the daemon process was started with.
type TokenManager struct {
	key []byte
}

func NewTokenManager(key []byte) *TokenManager {
	return &TokenManager{key: key}
}

// Issue signs a token for callerID, scoped to the given integration ids,
// valid for ttl.
func (tm *TokenManager) Issue(callerID string, integrations []string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := CallerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   callerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "agentd",
		},
		CallerID:     callerID,
		Integrations: integrations,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.key)
	if err != nil {
		return "", agentderr.Wrap(agentderr.CodeAuth, "callerauth: sign token", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, returning its claims.
func (tm *TokenManager) Verify(tokenString string) (*CallerClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &CallerClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, agentderr.New(agentderr.CodeAuth, "callerauth: unexpected signing method")
		}
		return tm.key, nil
	})
	if err != nil {
		return nil, agentderr.Wrap(agentderr.CodeAuth, "callerauth: verify token", err)
	}

	claims, ok := parsed.Claims.(*CallerClaims)
	if !ok || !parsed.Valid {
		return nil, agentderr.New(agentderr.CodeAuth, "callerauth: token invalid")
	}
	return claims, nil
}

// Allows reports whether claims grants access to integrationID. An empty
// Integrations list means "every integration" (a daemon running a single
// local caller never needs per-tool scoping).
func (c *CallerClaims) Allows(integrationID string) bool {
	if len(c.Integrations) == 0 {
		return true
	}
	for _, id := range c.Integrations {
		if id == integrationID {
			return true
		}
	}
	return false
}
