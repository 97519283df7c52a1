package security

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
)

// Claims is the access token payload.
type Claims struct {
	Email   string `json:"email"`
	Version int    `json:"v"`
	jwt.RegisteredClaims
}

// ClaimsOptions configures creation of access token claims.
type ClaimsOptions struct {
	UserID   string
	Email    string
	Issuer   string
	Audience string
	Version  int
	TTL      time.Duration
	IssuedAt time.Time
	JTI      string
}

// NewClaims constructs claims with nbf = iat and exp = iat + ttl.
func NewClaims(opts ClaimsOptions) *Claims {
	now := opts.IssuedAt.UTC().Truncate(time.Second)

	jti := strings.TrimSpace(opts.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	var audience jwt.ClaimStrings
	if opts.Audience != "" {
		audience = jwt.ClaimStrings{opts.Audience}
	}

	return &Claims{
		Email:   opts.Email,
		Version: opts.Version,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   opts.UserID,
			Issuer:    opts.Issuer,
			Audience:  audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(opts.TTL)),
		},
	}
}

// ExpiresAtTime returns the exp claim in UTC, or the zero time.
func (c *Claims) ExpiresAtTime() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time.UTC()
}

// UserID parses the subject claim as a user identifier.
func (c *Claims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Subject))
	if err != nil {
		return uuid.Nil, newTokenError(TokenInvalidClaim, err)
	}
	return id, nil
}
