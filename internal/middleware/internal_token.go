package middleware

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"opsdash/internal/pkg/identity"
	"opsdash/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// IngestGate is the admission policy in front of the ingestion endpoints.
type IngestGate struct {
	Enabled    bool
	AllowedIPs []string
}

// CredentialAuth resolves the request credential to an identity and stores
// it under identity.ContextKey. The credential comes from "Authorization:
// Bearer <key>" or "X-API-Key". Rejections are terminal.
func CredentialAuth(authn identity.Authenticator, gate IngestGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !gate.Enabled {
			logAuthFailure(c, http.StatusForbidden, "disabled")
			response.AbortError(c, http.StatusForbidden, "FORBIDDEN", "Ingestion is disabled")
			return
		}

		if !ipAllowed(c, gate.AllowedIPs) {
			logAuthFailure(c, http.StatusForbidden, "ip_not_allowed")
			response.AbortError(c, http.StatusForbidden, "FORBIDDEN", "IP not allowed")
			return
		}

		credential, ok := extractCredential(c)
		if !ok {
			logAuthFailure(c, http.StatusUnauthorized, "invalid_auth_format")
			response.AbortError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header must be 'Bearer <token>'")
			return
		}
		if credential == "" {
			logAuthFailure(c, http.StatusUnauthorized, "missing_auth")
			response.AbortError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Credential is required")
			return
		}

		id, err := authn.Authenticate(c.Request.Context(), credential)
		if err != nil {
			if errors.Is(err, identity.ErrDisabledKey) {
				logAuthFailure(c, http.StatusForbidden, "disabled_key")
				response.AbortError(c, http.StatusForbidden, "FORBIDDEN", "Credential has been disabled")
				return
			}
			logAuthFailure(c, http.StatusUnauthorized, "invalid_credential")
			response.AbortError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credential")
			return
		}

		c.Set(identity.ContextKey, id)
		c.Set("user_id", id.UserID)
		c.Set("role", id.Role)
		c.Next()
	}
}

// extractCredential returns ok=false only for a malformed Authorization
// header; a missing credential is ("", true).
func extractCredential(c *gin.Context) (string, bool) {
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key, true
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", true
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func ipAllowed(c *gin.Context, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	clientIP := c.ClientIP()
	for _, ip := range allowed {
		if strings.TrimSpace(ip) == clientIP {
			return true
		}
	}
	return false
}

func logAuthFailure(c *gin.Context, status int, reason string) {
	log.Printf("ingest_auth status=%d request_id=%s client_ip=%s reason=%s", status, requestID(c), c.ClientIP(), reason)
}
