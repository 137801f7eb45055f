// Package service provides the business logic layer (use cases).
// Every privileged operation re-derives the caller's role and company from
// the verified identity on each request; nothing is trusted from the body.
package service

import (
	"fmt"
	"strings"

	"github.com/boddenberg/crm-consignado-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================
// TokenVerifier: validates identity-provider access tokens
// ============================================================

// SupabaseClaims are the claims carried by a GoTrue access token.
type SupabaseClaims struct {
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 access tokens signed with the project JWT secret.
type TokenVerifier struct {
	secret   []byte
	audience string
}

// NewTokenVerifier creates a verifier. An empty audience skips the aud check.
func NewTokenVerifier(secret, audience string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), audience: audience}
}

// Verify parses the token and returns the authenticated identity.
func (v *TokenVerifier) Verify(tokenString string) (*domain.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SupabaseClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido ou expirado"}
	}

	claims, ok := token.Claims.(*SupabaseClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "Token inválido"}
	}
	// The anon key is itself a valid JWT; it has no subject.
	if claims.Subject == "" {
		return nil, &domain.ErrUnauthorized{Message: "Token sem usuário autenticado"}
	}

	return &domain.Identity{
		UserID:   claims.Subject,
		Email:    strings.ToLower(claims.Email),
		FullName: metadataString(claims.UserMetadata, "full_name", "name"),
	}, nil
}

func metadataString(meta map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := meta[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
