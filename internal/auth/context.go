// Package auth provides session context plumbing for authenticated requests.
package auth

import (
	"context"

	"github.com/labpod/labpod/internal/model"
	"github.com/labpod/labpod/internal/token"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// claimsContextKey is the context key for storing session claims.
	claimsContextKey contextKey = "session_claims"
)

// ContextWithClaims adds session claims to the context.
func ContextWithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext retrieves session claims from the context.
// Returns nil if not present.
func ClaimsFromContext(ctx context.Context) *token.Claims {
	claims, ok := ctx.Value(claimsContextKey).(*token.Claims)
	if !ok {
		return nil
	}
	return claims
}

// MustClaimsFromContext retrieves session claims from the context.
// Panics if not present (use only when auth middleware has run).
func MustClaimsFromContext(ctx context.Context) *token.Claims {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		panic("session claims not found - ensure auth middleware is applied")
	}
	return claims
}

// UserIDFromContext is a convenience function to get the user ID from context.
// Returns empty string if not authenticated.
func UserIDFromContext(ctx context.Context) string {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// IsAdminFromContext reports whether the session holds the admin role.
func IsAdminFromContext(ctx context.Context) bool {
	claims := ClaimsFromContext(ctx)
	return claims != nil && claims.Role == model.RoleAdmin
}
