package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
)

const (
	defaultAccessTokenTTL = 15 * time.Minute
	defaultClockSkew      = 60 * time.Second
)

// TokenCodec issues and verifies access tokens. Only one strategy is active per deployment.
type TokenCodec interface {
	GenerateToken(userID, email string) (string, error)
	Verify(ctx context.Context, token string) (*Claims, error)
	IsValid(ctx context.Context, token string) bool
	ExtractUserID(ctx context.Context, token string) (uuid.UUID, error)
	ExtractEmail(ctx context.Context, token string) (string, error)
	Algorithm() string
	TTL() time.Duration
}

// CodecOptions holds the claim and validation parameters shared by all strategies.
type CodecOptions struct {
	Issuer       string
	Audience     string
	TTL          time.Duration
	ClockSkew    time.Duration
	ClaimVersion int
}

// signingStrategy isolates what differs between HS384 and RS256.
type signingStrategy interface {
	method() jwt.SigningMethod
	signingKey() any
	headers() map[string]any
	verificationKey(ctx context.Context, token *jwt.Token) (any, error)
}

// Codec implements TokenCodec on top of a signing strategy.
type Codec struct {
	opts     CodecOptions
	strategy signingStrategy
	now      func() time.Time
	parser   *jwt.Parser
}

func newCodec(opts CodecOptions, strategy signingStrategy) (*Codec, error) {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrInvalidKeyMaterial)
	}
	if opts.Audience == "" {
		return nil, fmt.Errorf("%w: audience is required", ErrInvalidKeyMaterial)
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultAccessTokenTTL
	}
	if opts.ClockSkew < 0 {
		opts.ClockSkew = defaultClockSkew
	}

	c := &Codec{
		opts:     opts,
		strategy: strategy,
		now:      func() time.Time { return time.Now().UTC() },
	}
	c.parser = c.buildParser()
	return c, nil
}

// WithClock overrides the codec clock for deterministic tests.
func (c *Codec) WithClock(clock func() time.Time) *Codec {
	if clock != nil {
		c.now = clock
		c.parser = c.buildParser()
	}
	return c
}

func (c *Codec) buildParser() *jwt.Parser {
	now := c.now
	return jwt.NewParser(
		jwt.WithValidMethods([]string{c.strategy.method().Alg()}),
		jwt.WithIssuer(c.opts.Issuer),
		jwt.WithAudience(c.opts.Audience),
		jwt.WithLeeway(c.opts.ClockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now() }),
	)
}

// Algorithm returns the pinned JWS algorithm.
func (c *Codec) Algorithm() string {
	return c.strategy.method().Alg()
}

// TTL returns the access token lifetime.
func (c *Codec) TTL() time.Duration {
	return c.opts.TTL
}

// GenerateToken signs a fresh access token for the user.
func (c *Codec) GenerateToken(userID, email string) (string, error) {
	signed, _, err := c.Issue(userID, email)
	return signed, err
}

// Issue signs a fresh access token and also returns its claims.
func (c *Codec) Issue(userID, email string) (string, *Claims, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", nil, fmt.Errorf("jwt: user id is required")
	}

	claims := NewClaims(ClaimsOptions{
		UserID:   userID,
		Email:    strings.TrimSpace(email),
		Issuer:   c.opts.Issuer,
		Audience: c.opts.Audience,
		Version:  c.opts.ClaimVersion,
		TTL:      c.opts.TTL,
		IssuedAt: c.now(),
	})

	token := jwt.NewWithClaims(c.strategy.method(), claims)
	for key, value := range c.strategy.headers() {
		token.Header[key] = value
	}

	signed, err := token.SignedString(c.strategy.signingKey())
	if err != nil {
		return "", nil, fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify performs full verification and returns the claims or a *TokenError.
func (c *Codec) Verify(ctx context.Context, raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, newTokenError(TokenMalformed, errors.New("token is empty"))
	}

	claims := &Claims{}
	parsed, err := c.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return c.strategy.verificationKey(ctx, t)
	})
	if err != nil {
		return nil, c.classify(parsed, err)
	}
	if parsed == nil || !parsed.Valid {
		return nil, newTokenError(TokenBadSignature, nil)
	}
	return claims, nil
}

// IsValid reports whether the token passes full verification.
func (c *Codec) IsValid(ctx context.Context, raw string) bool {
	_, err := c.Verify(ctx, raw)
	return err == nil
}

// ExtractUserID returns the verified subject as a user id.
func (c *Codec) ExtractUserID(ctx context.Context, raw string) (uuid.UUID, error) {
	claims, err := c.Verify(ctx, raw)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.UserID()
}

// ExtractEmail returns the verified email claim.
func (c *Codec) ExtractEmail(ctx context.Context, raw string) (string, error) {
	claims, err := c.Verify(ctx, raw)
	if err != nil {
		return "", err
	}
	return claims.Email, nil
}

func (c *Codec) classify(token *jwt.Token, err error) *TokenError {
	var tokenErr *TokenError
	if errors.As(err, &tokenErr) {
		return tokenErr
	}

	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return newTokenError(TokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if token != nil && token.Method != nil && token.Method.Alg() != c.Algorithm() {
			return newTokenError(TokenAlgorithmMismatch, err)
		}
		return newTokenError(TokenBadSignature, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		if token == nil || token.Method == nil {
			return newTokenError(TokenAlgorithmMismatch, err)
		}
		return newTokenError(TokenKeyUnavailable, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return newTokenError(TokenExpired, err)
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return newTokenError(TokenIssuedInFuture, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return newTokenError(TokenNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return newTokenError(TokenIssuerMismatch, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return newTokenError(TokenAudienceMismatch, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return newTokenError(TokenInvalidClaim, err)
	default:
		return newTokenError(TokenMalformed, err)
	}
}

// Strategy tags the signing strategy selected by configuration.
type Strategy string

const (
	StrategyHS384 Strategy = "HS384"
	StrategyRS256 Strategy = "RS256"
)

// KeyMaterial is the configured signing material for one strategy.
type KeyMaterial struct {
	Strategy         Strategy
	HMACSecretBase64 string
	RSAPrivateKeyPEM string
	RSAKeyID         string
}

// NewTokenCodec selects and constructs the configured strategy.
// keys may be nil for HS384; it resolves verification keys for RS256.
func NewTokenCodec(opts CodecOptions, material KeyMaterial, keys KeyResolver) (*Codec, error) {
	switch material.Strategy {
	case StrategyHS384, "":
		return NewHMACCodec(opts, material.HMACSecretBase64)
	case StrategyRS256:
		return NewRSACodec(opts, RSAOptions{
			PrivateKeyPEM: material.RSAPrivateKeyPEM,
			KeyID:         material.RSAKeyID,
			Keys:          keys,
		})
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidKeyMaterial, material.Strategy)
	}
}

var _ TokenCodec = (*Codec)(nil)
