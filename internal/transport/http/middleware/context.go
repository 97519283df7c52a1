package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/arklim/taskhub-auth/internal/core/domain"
)

const (
	principalKey   = "auth.principal"
	accessTokenKey = "auth.access_token"
	requestIDKey   = "request_id"
)

func setPrincipal(c *gin.Context, principal domain.Principal, token string) {
	c.Set(principalKey, principal)
	c.Set(accessTokenKey, token)
}

// GetPrincipal returns the identity attached by Authenticate.
func GetPrincipal(c *gin.Context) (domain.Principal, bool) {
	value, exists := c.Get(principalKey)
	if !exists {
		return domain.Principal{}, false
	}
	principal, ok := value.(domain.Principal)
	return principal, ok
}

// GetAccessToken returns the raw bearer token that authenticated the request.
func GetAccessToken(c *gin.Context) string {
	return c.GetString(accessTokenKey)
}

// GetRequestID returns the correlation identifier assigned by RequestID.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
