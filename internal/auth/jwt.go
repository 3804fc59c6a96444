package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims the ops API consumes.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// ParseJWT verifies an HS256 token and returns its claims.
func ParseJWT(token string, secret []byte) (*Claims, error) {
	if token == "" || len(secret) == 0 {
		return nil, ErrUnauthorized
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type identityKey struct{}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	Subject string
	Role    Role
}

// WithIdentity attaches the caller identity to the context.
func WithIdentity(ctx context.Context, subject string, role Role) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{Subject: subject, Role: role})
}

// IdentityFromContext returns the caller identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
