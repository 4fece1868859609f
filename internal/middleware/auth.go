package middleware

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/auth"
	"storefront/internal/logging"
)

const (
	userIDKey = "userId"
	roleKey   = "role"
	emailKey  = "email"
)

// TokenParser verifies an access token.
type TokenParser interface {
	Parse(raw string) (*auth.Claims, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's id and role on the context.
func RequireAuth(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := logging.FromContext(c.Request.Context(), nil)

		raw, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		if !authenticate(c, tokens, raw) {
			logger.Debug("access token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// RequireRole must run after RequireAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(roleKey)
		if !slices.Contains(roles, role) {
			logging.FromContext(c.Request.Context(), nil).Warn("forbidden",
				slog.String("role", role),
				slog.String("path", c.FullPath()),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// OptionalAuth identifies the caller when a valid token is present and lets
// guests through otherwise. A malformed or expired token is still rejected.
func OptionalAuth(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}
		if !authenticate(c, tokens, raw) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	raw := strings.TrimSpace(c.GetHeader("Authorization"))
	if raw == "" {
		return "", false
	}
	parts := strings.Fields(raw)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", true
	}
	return parts[1], true
}

func authenticate(c *gin.Context, tokens TokenParser, raw string) bool {
	if raw == "" {
		return false
	}
	claims, err := tokens.Parse(raw)
	if err != nil {
		return false
	}
	userID, err := claims.UserID()
	if err != nil {
		return false
	}

	c.Set(userIDKey, userID)
	c.Set(roleKey, claims.Role)
	c.Set(emailKey, claims.Email)

	ctx := logging.WithLogger(c.Request.Context(),
		logging.FromContext(c.Request.Context(), nil).With(slog.String("user_id", userID.Hex())),
	)
	c.Request = c.Request.WithContext(ctx)
	return true
}
