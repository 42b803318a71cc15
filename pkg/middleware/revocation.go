package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RevocationChecker answers whether a user's token was revoked by a logout.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, org, userID string, issuedAt time.Time) (bool, error)
}

// RejectRevoked refuses requests from users who logged out of the
// organization in the :orgParam path segment. The user comes from the
// userHeader request header, falling back to the token subject.
func RejectRevoked(checker RevocationChecker, orgParam, userHeader string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.GetHeader(userHeader)
		if user == "" {
			user = stringClaim(c, "sub")
		}
		revoked, err := checker.IsRevoked(c.Request.Context(), c.Param(orgParam), user, IssuedAt(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "revocation check failed"})
			return
		}
		if revoked {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user logged out"})
			return
		}
		c.Next()
	}
}
