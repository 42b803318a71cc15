package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ClaimsKey is the gin context key holding the verified token claims.
const ClaimsKey = "claims"

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

// AuthMiddleware returns a Gin middleware that verifies Bearer tokens using the provided verifier
func AuthMiddleware(ver Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		// Expect 'Bearer <token>'
		var token string
		if n, _ := fmt.Sscanf(auth, "Bearer %s", &token); n != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
			return
		}

		verified, err := ver.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "details": err.Error()})
			return
		}

		var claims map[string]interface{}
		if err := verified.Claims(&claims); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "failed to parse claims"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// Claims returns the verified claims, or nil when the request was not authenticated.
func Claims(c *gin.Context) map[string]interface{} {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil
	}
	cm, _ := v.(map[string]interface{})
	return cm
}

func stringClaim(c *gin.Context, name string) string {
	s, _ := Claims(c)[name].(string)
	return s
}

// IssuedAt reads the iat claim. Zero when absent.
func IssuedAt(c *gin.Context) time.Time {
	switch v := Claims(c)["iat"].(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC()
	case int64:
		return time.Unix(v, 0).UTC()
	}
	return time.Time{}
}

// RequireOrganization rejects tokens whose org claim names another organization
// than the :param path segment. Tokens without an org claim are platform-wide
// and pass.
func RequireOrganization(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		org := stringClaim(c, "org")
		if org != "" && org != c.Param(param) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token not valid for organization"})
			return
		}
		c.Next()
	}
}
