package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyHeaderKey is the header carrying the operator API key
const APIKeyHeaderKey = "X-API-Key"

// APIKeyMiddleware guards mutating routes with a single operator key.
// An empty configured key disables the check, which is the expected setup
// for local development. Peer-to-peer traffic is never authenticated; this
// only covers the HTTP surface.
func APIKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		provided := c.GetHeader(APIKeyHeaderKey)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or missing API key",
				"hint":  "provide the " + APIKeyHeaderKey + " header",
			})
			return
		}
		c.Next()
	}
}
