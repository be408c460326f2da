package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aromazen-backend-go/internal/supabase"
)

// ErrorResponse is a local definition for sending standardized error
// messages. It mirrors the one in internal/api/dto_models.go to avoid
// import cycles.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Context keys populated by the auth middleware for downstream handlers.
const (
	CtxUserID    = "userID"
	CtxUserEmail = "userEmail"
	CtxUserName  = "userName"
	CtxJWTTier   = "jwtTier"
)

// AuthMiddleware provides Gin middleware for Supabase access token
// authentication.
type AuthMiddleware struct {
	verifier *supabase.TokenVerifier
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
func NewAuthMiddleware(verifier *supabase.TokenVerifier, logger *zap.Logger) *AuthMiddleware {
	if verifier == nil {
		panic("Supabase token verifier is not initialized for AuthMiddleware")
	}
	return &AuthMiddleware{verifier: verifier, logger: logger}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// VerifyToken is a Gin middleware handler that verifies a Supabase access
// token from the Authorization header. If valid, it sets the user ID, email
// and JWT-cached tier in the Gin context.
func (m *AuthMiddleware) VerifyToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Authorization header format must be 'Bearer {token}'"})
			return
		}

		claims, err := m.verifier.Verify(token)
		if err != nil {
			// Specific failure reasons are logged server-side; the client
			// only sees a generic message.
			m.logger.Warn("AuthMiddleware: token verification failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid or expired authentication token"})
			return
		}

		c.Set(CtxUserID, claims.Subject)
		c.Set(CtxUserEmail, claims.Email)
		c.Set(CtxUserName, claims.FullName())
		c.Set(CtxJWTTier, claims.Tier())

		c.Next()
	}
}

// OptionalToken verifies a token when one is present but lets anonymous
// requests through untouched. Used by fail-open read paths such as the
// usage-counter status endpoint.
func (m *AuthMiddleware) OptionalToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}
		claims, err := m.verifier.Verify(token)
		if err != nil {
			m.logger.Debug("AuthMiddleware: ignoring invalid token on optional route", zap.Error(err))
			c.Next()
			return
		}
		c.Set(CtxUserID, claims.Subject)
		c.Set(CtxUserEmail, claims.Email)
		c.Set(CtxUserName, claims.FullName())
		c.Set(CtxJWTTier, claims.Tier())
		c.Next()
	}
}
