package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/taskhub-auth/internal/core/domain"
	"github.com/arklim/taskhub-auth/internal/infra/security"
)

const (
	bearerScheme      = "Bearer"
	invalidTokenError = "invalid_token"
)

// TokenVerifier verifies access tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*security.Claims, error)
}

// RevocationChecker reports whether an access token's jti has been blacklisted.
type RevocationChecker interface {
	IsJTIBlacklisted(ctx context.Context, jti string) (bool, error)
}

// ValidationObserver records gate outcomes.
type ValidationObserver interface {
	ObserveTokenValidation(result string)
}

// AuthErrorResponse is the body of every 401 written by the gate.
type AuthErrorResponse struct {
	Error     string  `json:"error"`
	Message   *string `json:"message"`
	Path      string  `json:"path"`
	Timestamp string  `json:"timestamp"`
}

// GateOptions configures Authenticate. Revocations and Observer are optional.
type GateOptions struct {
	Verifier    TokenVerifier
	Revocations RevocationChecker
	Observer    ValidationObserver
	Logger      *zap.Logger
	Now         func() time.Time
}

// Authenticate attaches the bearer token's principal to the request. Requests without a
// bearer token pass through unauthenticated; requests with an unusable token stop here with 401.
func Authenticate(opts GateOptions) gin.HandlerFunc {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	observe := func(result string) {
		if opts.Observer != nil {
			opts.Observer.ObserveTokenValidation(result)
		}
	}

	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		claims, err := opts.Verifier.Verify(ctx, token)
		if err == nil {
			_, err = claims.UserID()
		}
		if err != nil {
			kind := security.TokenErrorKindOf(err)
			observe(string(kind))
			log.Debug("rejected access token", zap.String("kind", string(kind)), zap.String("path", c.Request.URL.Path))
			abortUnauthorized(c, "access token is invalid or expired", now)
			return
		}

		if opts.Revocations != nil {
			revoked, err := opts.Revocations.IsJTIBlacklisted(ctx, claims.ID)
			if err != nil {
				observe("revocation_unavailable")
				log.Error("blacklist lookup failed", zap.Error(err))
				abortUnauthorized(c, "token revocation status unavailable", now)
				return
			}
			if revoked {
				observe("blacklisted")
				abortUnauthorized(c, "access token has been revoked", now)
				return
			}
		}

		observe("valid")
		setPrincipal(c, domain.Principal{
			UserID:    claims.Subject,
			Email:     claims.Email,
			TokenID:   claims.ID,
			ExpiresAt: claims.ExpiresAtTime(),
		}, token)
		c.Next()
	}
}

// RequireAuth rejects requests that Authenticate did not attach a principal to.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetPrincipal(c); !ok {
			abortUnauthorized(c, "authentication required", time.Now)
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortUnauthorized(c *gin.Context, message string, now func() time.Time) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, AuthErrorResponse{
		Error:     invalidTokenError,
		Message:   &message,
		Path:      c.Request.URL.Path,
		Timestamp: now().UTC().Format(time.RFC3339),
	})
}
