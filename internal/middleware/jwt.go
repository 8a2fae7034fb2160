package middleware

import (
	"net/http"
	"strings"

	"opsdash/internal/pkg/jwt"
	"opsdash/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// JWTAuth protects dashboard endpoints with a user session token.
func JWTAuth(j *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			response.AbortError(c, http.StatusUnauthorized, "AUTH_HEADER_MISSING", "Missing Authorization header")
			return
		}

		if !strings.HasPrefix(h, "Bearer ") {
			response.AbortError(c, http.StatusUnauthorized, "INVALID_AUTH_FORMAT", "Invalid Authorization header")
			return
		}

		tokenStr := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		claims, err := j.ValidateToken(tokenStr)
		if err != nil {
			response.AbortError(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("login", claims.Login)
		c.Set("role", claims.Role)
		c.Next()
	}
}
