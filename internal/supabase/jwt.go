// Package supabase covers the two narrow surfaces of Supabase Auth this
// application touches: verifying client access tokens (HS256 JWTs signed
// with the project's shared secret) and pushing subscription metadata back
// onto the auth user via the admin REST API.
package supabase

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"aromazen-backend-go/internal/models"
)

// AccessClaims are the claims this application reads from a Supabase access
// token. user_metadata.subscription_tier is the JWT fast path for gate
// checks; it is a cache of the profiles row, refreshed by the webhook
// reconciler's metadata sync.
type AccessClaims struct {
	Email        string                 `json:"email"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
	jwt.RegisteredClaims
}

// Tier returns the JWT-cached subscription tier, defaulting to free when
// the claim is absent or malformed. A missing claim is normal for tokens
// issued before the first webhook ran for the user.
func (c *AccessClaims) Tier() models.SubscriptionTier {
	if c.UserMetadata != nil {
		if raw, ok := c.UserMetadata["subscription_tier"].(string); ok && raw == string(models.TierPremium) {
			return models.TierPremium
		}
	}
	return models.TierFree
}

// FullName returns user_metadata.full_name, or "" when absent.
func (c *AccessClaims) FullName() string {
	if c.UserMetadata != nil {
		if raw, ok := c.UserMetadata["full_name"].(string); ok {
			return raw
		}
	}
	return ""
}

// TokenVerifier validates Supabase access tokens.
type TokenVerifier struct {
	secret   []byte
	audience string
}

// NewTokenVerifier creates a verifier for the project's JWT secret.
// Supabase issues access tokens with aud "authenticated".
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), audience: "authenticated"}
}

// Verify parses and validates an access token, returning its claims.
func (v *TokenVerifier) Verify(tokenString string) (*AccessClaims, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}

	tok, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*AccessClaims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}
