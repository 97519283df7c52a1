package security

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is matched by every token verification failure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidTokenClaim indicates a verified token carries an unusable claim value.
	ErrInvalidTokenClaim = errors.New("invalid token claim")
	// ErrKeyNotFound indicates no verification key matches the token's kid.
	ErrKeyNotFound = errors.New("jwt: key not found for kid")
	// ErrKeyResolution indicates the key set could not be fetched and nothing was cached.
	ErrKeyResolution = errors.New("jwt: key resolution failed")
	// ErrInvalidKeyMaterial indicates unusable signing or verification key configuration.
	ErrInvalidKeyMaterial = errors.New("jwt: invalid key material")
)

// TokenErrorKind classifies why a token was rejected.
type TokenErrorKind string

const (
	TokenMalformed         TokenErrorKind = "malformed"
	TokenBadSignature      TokenErrorKind = "bad_signature"
	TokenAlgorithmMismatch TokenErrorKind = "algorithm_mismatch"
	TokenIssuerMismatch    TokenErrorKind = "issuer_mismatch"
	TokenAudienceMismatch  TokenErrorKind = "audience_mismatch"
	TokenExpired           TokenErrorKind = "expired"
	TokenNotYetValid       TokenErrorKind = "not_yet_valid"
	TokenIssuedInFuture    TokenErrorKind = "issued_in_future"
	TokenUnknownKey        TokenErrorKind = "unknown_key"
	TokenKeyUnavailable    TokenErrorKind = "key_unavailable"
	TokenInvalidClaim      TokenErrorKind = "invalid_claim"
)

// TokenError is the single error type returned by token verification.
type TokenError struct {
	Kind TokenErrorKind
	Err  error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid token: %s", e.Kind)
	}
	return fmt.Sprintf("invalid token: %s: %v", e.Kind, e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// Is makes every TokenError match ErrInvalidToken, and claim failures match ErrInvalidTokenClaim.
func (e *TokenError) Is(target error) bool {
	switch target {
	case ErrInvalidToken:
		return true
	case ErrInvalidTokenClaim:
		return e.Kind == TokenInvalidClaim
	}
	return false
}

func newTokenError(kind TokenErrorKind, err error) *TokenError {
	return &TokenError{Kind: kind, Err: err}
}

// TokenErrorKindOf extracts the rejection kind, or "" when err is not a token error.
func TokenErrorKindOf(err error) TokenErrorKind {
	var tokenErr *TokenError
	if errors.As(err, &tokenErr) {
		return tokenErr.Kind
	}
	return ""
}
