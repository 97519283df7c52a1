package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/taskhub-auth/internal/infra/security"
)

const jwksCacheControl = "public, max-age=3600"

// KeyPublisher renders the verification keys of the active signing strategy.
type KeyPublisher interface {
	PublicKeySet() (*security.JSONWebKeySet, error)
}

// JWKSHandler provides the JSON Web Key Set used for offline JWT validation.
type JWKSHandler struct {
	keys KeyPublisher
}

// NewJWKSHandler constructs a JWKS handler backed by the supplied publisher.
func NewJWKSHandler(keys KeyPublisher) *JWKSHandler {
	return &JWKSHandler{keys: keys}
}

// Keys serves /.well-known/jwks.json. HMAC deployments have nothing to publish and answer 503.
func (h *JWKSHandler) Keys(c *gin.Context) {
	if h == nil || h.keys == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "jwks not available"))
		return
	}

	set, err := h.keys.PublicKeySet()
	if err != nil {
		if errors.Is(err, security.ErrNoPublicKeys) {
			c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "jwks not available"))
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to render jwks"))
		return
	}

	c.Header("Cache-Control", jwksCacheControl)
	c.JSON(http.StatusOK, set)
}
