package security

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// MinHMACSecretBytes is the smallest accepted HS384 secret.
const MinHMACSecretBytes = 48

type hmacStrategy struct {
	secret []byte
}

// NewHMACCodec builds an HS384 codec from a base64 encoded shared secret.
func NewHMACCodec(opts CodecOptions, secretBase64 string) (*Codec, error) {
	secret, err := DecodeHMACSecret(secretBase64)
	if err != nil {
		return nil, err
	}
	return newCodec(opts, &hmacStrategy{secret: secret})
}

// DecodeHMACSecret accepts standard or URL-safe base64, padded or raw.
func DecodeHMACSecret(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%w: hmac secret is empty", ErrInvalidKeyMaterial)
	}

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}

	var secret []byte
	for _, enc := range encodings {
		decoded, err := enc.DecodeString(value)
		if err == nil {
			secret = decoded
			break
		}
	}
	if secret == nil {
		return nil, fmt.Errorf("%w: hmac secret is not valid base64", ErrInvalidKeyMaterial)
	}
	if len(secret) < MinHMACSecretBytes {
		return nil, fmt.Errorf("%w: hmac secret must be at least %d bytes, got %d", ErrInvalidKeyMaterial, MinHMACSecretBytes, len(secret))
	}
	return secret, nil
}

func (s *hmacStrategy) method() jwt.SigningMethod { return jwt.SigningMethodHS384 }

func (s *hmacStrategy) signingKey() any { return s.secret }

func (s *hmacStrategy) headers() map[string]any { return nil }

func (s *hmacStrategy) verificationKey(_ context.Context, token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, newTokenError(TokenAlgorithmMismatch, fmt.Errorf("unexpected signing method %v", token.Header["alg"]))
	}
	return s.secret, nil
}
