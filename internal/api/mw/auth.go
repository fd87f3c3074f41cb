package mw

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gateway-fleet-backend/internal/auth"
)

// claimsKey is where BearerAuth stores the verified claims on the context.
const claimsKey = "gateway_claims"

// BearerAuth verifies the Authorization header carries a valid gateway
// credential and stores its claims for the handler.
func BearerAuth(creds *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": "TOKEN_MISSING", "message": "missing bearer token",
			})
			return
		}

		claims, err := creds.Verify(token)
		if err != nil {
			code := "TOKEN_INVALID"
			if errors.Is(err, auth.ErrTokenExpired) {
				code = "TOKEN_EXPIRED"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": code, "message": "credential rejected",
			})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// Claims returns the verified claims stored by BearerAuth.
func Claims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	return v.(*auth.Claims)
}
