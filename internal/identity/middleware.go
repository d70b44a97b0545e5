package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxClaims = "docchain_claims"

// RequireScope returns a Gin middleware that enforces a valid Bearer token
// granting scope. A nil issuer disables authentication, which is how the
// server runs when no secret is configured.
//
// On success it injects the *AccessClaims into the context.
func RequireScope(tokens *TokenIssuer, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}
		if !HasScope(claims, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "token lacks scope " + scope,
			})
			return
		}

		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx retrieves the claims injected by RequireScope, or nil when
// authentication is disabled.
func ClaimsFromCtx(c *gin.Context) *AccessClaims {
	v, _ := c.Get(ctxClaims)
	claims, _ := v.(*AccessClaims)
	return claims
}

// Subject returns the authenticated subject, or "anonymous".
func Subject(c *gin.Context) string {
	if claims := ClaimsFromCtx(c); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return "anonymous"
}
