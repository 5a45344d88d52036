package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/amara-dev/chatflow/internal/auth"
)

// Context keys for claims stored in gin.Context. Constants so a typo fails
// to compile instead of silently returning nil.
const (
	ContextKeyAgentID   = "agent_id"
	ContextKeyCompanyID = "company_id"
	ContextKeyEmail     = "email"
)

// AuthMiddleware validates the bearer JWT on agent/CRM routes and stores
// the claims in the request context. The customer-facing surfaces (web
// widget turn, provider webhooks) do not pass through here.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization format, expected: Bearer <token>",
			})
			return
		}

		claims, err := auth.ParseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ContextKeyAgentID, claims.AgentID)
		c.Set(ContextKeyCompanyID, claims.CompanyID)
		c.Set(ContextKeyEmail, claims.Email)

		c.Next()
	}
}

func GetAgentID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(ContextKeyAgentID)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func GetCompanyID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(ContextKeyCompanyID)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func GetEmail(c *gin.Context) string {
	val, exists := c.Get(ContextKeyEmail)
	if !exists {
		return ""
	}
	email, ok := val.(string)
	if !ok {
		return ""
	}
	return email
}
