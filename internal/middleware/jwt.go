package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-roster-import/internal/models"
	appErrors "github.com/noah-isme/sma-roster-import/pkg/errors"
	"github.com/noah-isme/sma-roster-import/pkg/response"
)

// ContextIdentityKey is the gin context key storing the caller's identity claims.
const ContextIdentityKey = "identity"

type tokenValidator interface {
	ValidateToken(token string) (*models.IdentityClaims, error)
}

// Identity requires a valid bearer token and stores its claims for audit fields.
func Identity(validator tokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextIdentityKey, claims)
		c.Next()
	}
}

// IdentityFromContext returns the claims stored by Identity, or nil.
func IdentityFromContext(c *gin.Context) *models.IdentityClaims {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.IdentityClaims)
	if !ok {
		return nil
	}
	return claims
}
