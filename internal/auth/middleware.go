package auth

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireJobToken guards the scheduler trigger endpoints with a shared
// secret from UD_JOB_TOKEN, checked before any core state is touched.
// UD_AUTH_DISABLED is a local-dev escape hatch.
func RequireJobToken() gin.HandlerFunc {
	disabled := strings.EqualFold(os.Getenv("UD_AUTH_DISABLED"), "true") || os.Getenv("UD_AUTH_DISABLED") == "1"
	secret := strings.TrimSpace(os.Getenv("UD_JOB_TOKEN"))

	return func(c *gin.Context) {
		if disabled {
			c.Next()
			return
		}
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "job token not configured"})
			return
		}
		token := strings.TrimSpace(c.GetHeader("X-Job-Token"))
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid job token"})
			return
		}
		c.Next()
	}
}
