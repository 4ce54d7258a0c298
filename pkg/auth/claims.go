// Package auth provides JWT-based authentication for classify-engine.
// It validates bearer tokens issued by the platform auth server using a
// JWKS endpoint.
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
)

// Claims represents the JWT claims structure from the platform auth server.
// It embeds RegisteredClaims for standard JWT fields (sub, iss, exp, etc.)
// and adds custom claims for store context.
type Claims struct {
	jwt.RegisteredClaims
	StoreID string   `json:"sid,omitempty"`   // Store UUID
	Email   string   `json:"email,omitempty"` // User email address
	Roles   []string `json:"roles,omitempty"` // User roles within the store
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// ActorID extracts the authenticated user's UUID from claims in context.
// Returns nil when the context is unauthenticated or the subject is not a
// UUID (service tokens); history rows then record "system".
func ActorID(ctx context.Context) *uuid.UUID {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil || claims.Subject == "" {
		return nil
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil
	}
	return &id
}

// ExtractStoreID extracts and validates the store ID from JWT claims in context.
// Returns an error if not authenticated or claims are invalid.
func ExtractStoreID(ctx context.Context) (uuid.UUID, error) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return uuid.Nil, fmt.Errorf("authentication required: no claims in context")
	}

	if claims.StoreID == "" {
		return uuid.Nil, fmt.Errorf("missing store ID in JWT claims")
	}

	storeID, err := uuid.Parse(claims.StoreID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid store ID format: %w", err)
	}

	return storeID, nil
}
