package auth

import (
	"net/http"
	"strings"
)

// Middleware validates JWTs and enforces role requirements on the ops API.
// Read requests need at least viewer; mutations need at least operator.
type Middleware struct {
	Secret []byte
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte) *Middleware {
	return &Middleware{Secret: secret}
}

// Wrap applies auth to the handler. With no secret configured the ops API is
// open; that is the local-development mode.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil || len(m.Secret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := ParseJWT(extractBearer(r), m.Secret)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		role, ok := NormalizeRole(claims.Role)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !RoleAtLeast(role, requiredRole(r)) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ctx := WithIdentity(r.Context(), claims.Subject, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requiredRole(r *http.Request) Role {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return RoleViewer
	default:
		return RoleOperator
	}
}

func extractBearer(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
