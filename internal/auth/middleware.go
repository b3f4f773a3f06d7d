package auth

import (
	"context"
	"net/http"

	"github.com/BradenHooton/thermo/internal/models"
	pkghttp "github.com/BradenHooton/thermo/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing verified claims in context
	UserContextKey  contextKey = "user"
	tokenContextKey contextKey = "token"
)

// TokenVerifier is the part of TokenManager the gate needs.
type TokenVerifier interface {
	ValidateToken(token string) (*models.TokenClaims, error)
}

// TokenLiveness is the part of TokenRegistry the gate needs.
type TokenLiveness interface {
	IsBlacklisted(token string) bool
	IsRefreshActive(username, token string) bool
}

// RequireAccessToken admits requests carrying a valid, non-revoked access
// token and stores its claims and raw string in the request context.
func RequireAccessToken(tv TokenVerifier, registry TokenLiveness) func(next http.Handler) http.Handler {
	return requireToken(tv, registry, models.TokenTypeAccess)
}

// RequireRefreshToken is the refresh-token variant. The token must also be
// registered as active for its subject.
func RequireRefreshToken(tv TokenVerifier, registry TokenLiveness) func(next http.Handler) http.Handler {
	return requireToken(tv, registry, models.TokenTypeRefresh)
}

func requireToken(tv TokenVerifier, registry TokenLiveness, tokenType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := pkghttp.BearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "Authorization token is missing")
				return
			}

			if registry.IsBlacklisted(tokenString) {
				pkghttp.WriteUnauthorized(w, "Token has been revoked")
				return
			}

			claims, err := tv.ValidateToken(tokenString)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "Invalid or expired token")
				return
			}

			if claims.Type != tokenType {
				pkghttp.WriteUnauthorized(w, "Invalid token type")
				return
			}

			if tokenType == models.TokenTypeRefresh && !registry.IsRefreshActive(claims.Username, tokenString) {
				pkghttp.WriteUnauthorized(w, "Refresh token is no longer active")
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			ctx = context.WithValue(ctx, tokenContextKey, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserFromContext extracts verified claims from the request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// UsernameFromContext returns the authenticated username, or "".
func UsernameFromContext(ctx context.Context) string {
	claims, ok := ctx.Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return ""
	}
	return claims.Username
}

// TokenFromContext returns the raw bearer token admitted by the gate.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}
