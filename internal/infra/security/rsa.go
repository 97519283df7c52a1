package security

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoPublicKeys is returned when the active strategy has nothing to publish.
var ErrNoPublicKeys = errors.New("jwt: strategy has no public keys")

// KeyResolver resolves RS256 verification keys by kid.
type KeyResolver interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// RSAOptions configures the RS256 strategy.
type RSAOptions struct {
	PrivateKeyPEM string
	KeyID         string
	Keys          KeyResolver
}

type rsaStrategy struct {
	private *rsa.PrivateKey
	kid     string
	keys    KeyResolver
}

// NewRSACodec builds an RS256 codec. Tokens are signed locally and verified through the resolver.
func NewRSACodec(opts CodecOptions, rsaOpts RSAOptions) (*Codec, error) {
	private, err := LoadRSAPrivateKey(rsaOpts.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	if private.N.BitLen() < 2048 {
		return nil, fmt.Errorf("%w: rsa key must be at least 2048 bits", ErrInvalidKeyMaterial)
	}
	kid := strings.TrimSpace(rsaOpts.KeyID)
	if kid == "" {
		return nil, fmt.Errorf("%w: rsa key id is required", ErrInvalidKeyMaterial)
	}
	if rsaOpts.Keys == nil {
		return nil, fmt.Errorf("%w: rsa strategy requires a key resolver", ErrInvalidKeyMaterial)
	}

	return newCodec(opts, &rsaStrategy{
		private: private,
		kid:     kid,
		keys:    rsaOpts.Keys,
	})
}

func (s *rsaStrategy) method() jwt.SigningMethod { return jwt.SigningMethodRS256 }

func (s *rsaStrategy) signingKey() any { return s.private }

func (s *rsaStrategy) headers() map[string]any {
	return map[string]any{"kid": s.kid}
}

func (s *rsaStrategy) verificationKey(ctx context.Context, token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, newTokenError(TokenAlgorithmMismatch, fmt.Errorf("unexpected signing method %v", token.Header["alg"]))
	}

	kid, _ := token.Header["kid"].(string)
	key, err := s.keys.Key(ctx, kid)
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, ErrKeyNotFound):
		return nil, newTokenError(TokenUnknownKey, err)
	default:
		return nil, newTokenError(TokenKeyUnavailable, err)
	}
}

// PublicKeySet returns the signing key's public half for publication at a JWKS endpoint.
func (c *Codec) PublicKeySet() (*JSONWebKeySet, error) {
	strategy, ok := c.strategy.(*rsaStrategy)
	if !ok {
		return nil, ErrNoPublicKeys
	}
	return &JSONWebKeySet{
		Keys: []JSONWebKey{NewJSONWebKey(strategy.kid, &strategy.private.PublicKey)},
	}, nil
}
