package middleware

import (
	"net/http"
	"strings"

	"github.com/ds124wfegd/appointly/internal/service"
	"github.com/gin-gonic/gin"
)

const adminContextKey = "admin"

// AdminAuth requires a valid admin bearer token.
func AdminAuth(auth service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing bearer token"})
			return
		}

		claims, err := auth.ParseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid or expired token"})
			return
		}

		c.Set(adminContextKey, claims.Username)
		c.Next()
	}
}
