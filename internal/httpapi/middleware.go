package httpapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// apiKeyAuth is a constant-time API-key check (§6: "auth failures with
// 401"). An empty configured key disables auth for the route, matching the
// teacher's opt-in HTTP_API_KEY behavior.
func apiKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errBody("unauthorized", "UNAUTHORIZED", nil))
			return
		}
		c.Next()
	}
}

// errBody is the structured error shape §6 specifies for non-2xx responses.
func errBody(message, code string, details any) gin.H {
	body := gin.H{"error": message, "code": code}
	if details != nil {
		body["details"] = details
	}
	return body
}
