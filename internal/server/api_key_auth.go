package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/intentflow/pkg/tenantctx"
)

const (
	HeaderAPIKey = "X-API-Key"

	contextAPIKey = "api_key"
)

// APIKeyRequired reads the tenant key from X-API-Key. Whether the key is
// known and active is decided by the orchestrator, not here.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader(HeaderAPIKey))
		if apiKey == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextAPIKey, apiKey)
		c.Request = c.Request.WithContext(tenantctx.WithAPIKey(c.Request.Context(), apiKey))
		c.Next()
	}
}

// AdminRequired guards tenant management with the ADMIN_TOKEN bearer token.
// An unset token disables the admin routes.
func (s *Server) AdminRequired() gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(s.cfg.AdminToken))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			AbortWithError(c, ErrForbidden)
			return
		}

		parts := strings.Fields(strings.TrimSpace(c.GetHeader("Authorization")))
		if len(parts) != 2 || parts[0] != "Bearer" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), expected) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func apiKeyFromContext(c *gin.Context) string {
	return c.GetString(contextAPIKey)
}
