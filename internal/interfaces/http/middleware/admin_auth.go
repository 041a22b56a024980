package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const adminPasswordHeader = "X-Admin-Password"

// AdminAuthMiddleware guards the operator endpoints with a shared password.
// The configured value may be a bcrypt hash; a plain value is compared in
// constant time. An empty configuration disables the admin surface entirely.
func AdminAuthMiddleware(configured string) gin.HandlerFunc {
	isBcrypt := strings.HasPrefix(configured, "$2a$") ||
		strings.HasPrefix(configured, "$2b$") ||
		strings.HasPrefix(configured, "$2y$")

	return func(c *gin.Context) {
		if configured == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "admin interface disabled"})
			return
		}

		presented := c.GetHeader(adminPasswordHeader)
		var ok bool
		if isBcrypt {
			ok = bcrypt.CompareHashAndPassword([]byte(configured), []byte(presented)) == nil
		} else {
			ok = subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin credentials"})
			return
		}
		c.Next()
	}
}
