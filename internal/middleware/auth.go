package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Identity extracts the verified user id forwarded by the API gateway.
// Credential checks happen upstream; this service trusts the X-User-ID header
// completely and only rejects requests that carry no identity at all.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}
