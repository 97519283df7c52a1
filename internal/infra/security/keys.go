package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"strings"
)

// LoadRSAPrivateKey parses an inline PEM value or, when the value is not PEM, reads it as a file path.
func LoadRSAPrivateKey(value string) (*rsa.PrivateKey, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%w: rsa private key is empty", ErrInvalidKeyMaterial)
	}

	data := []byte(value)
	if !strings.Contains(value, "-----BEGIN") {
		raw, err := os.ReadFile(value)
		if err != nil {
			return nil, fmt.Errorf("%w: read rsa private key %s: %v", ErrInvalidKeyMaterial, value, err)
		}
		data = raw
	}
	return ParseRSAPrivateKey(data)
}

// ParseRSAPrivateKey decodes a PKCS#8 or PKCS#1 PEM block.
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode PEM block", ErrInvalidKeyMaterial)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: PKCS#8 key is not RSA", ErrInvalidKeyMaterial)
		}
		return rsaKey, nil
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	return nil, fmt.Errorf("%w: unsupported private key encoding %q", ErrInvalidKeyMaterial, block.Type)
}

// JSONWebKey is the RSA subset of RFC 7517 used for publishing and fetching keys.
type JSONWebKey struct {
	KeyType   string `json:"kty"`
	Use       string `json:"use,omitempty"`
	Algorithm string `json:"alg,omitempty"`
	KeyID     string `json:"kid,omitempty"`
	Modulus   string `json:"n"`
	Exponent  string `json:"e"`
}

// JSONWebKeySet is the document served at a JWKS endpoint.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// NewJSONWebKey renders an RSA public key for publication.
func NewJSONWebKey(kid string, key *rsa.PublicKey) JSONWebKey {
	return JSONWebKey{
		KeyType:   "RSA",
		Use:       "sig",
		Algorithm: "RS256",
		KeyID:     kid,
		Modulus:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		Exponent:  base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

// PublicKey decodes the modulus and exponent.
func (k JSONWebKey) PublicKey() (*rsa.PublicKey, error) {
	if !strings.EqualFold(k.KeyType, "RSA") {
		return nil, fmt.Errorf("%w: unsupported key type %q", ErrInvalidKeyMaterial, k.KeyType)
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(k.Modulus, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: decode modulus: %v", ErrInvalidKeyMaterial, err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(k.Exponent, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: decode exponent: %v", ErrInvalidKeyMaterial, err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, fmt.Errorf("%w: empty modulus or exponent", ErrInvalidKeyMaterial)
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() <= 1 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("%w: exponent out of range", ErrInvalidKeyMaterial)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}

// KeySet is an ordered collection of verification keys.
type KeySet struct {
	byID  map[string]*rsa.PublicKey
	order []*rsa.PublicKey
}

// NewKeySet returns an empty key set.
func NewKeySet() *KeySet {
	return &KeySet{byID: make(map[string]*rsa.PublicKey)}
}

// Add registers a key. Keys without a kid are only reachable through the kid-less fallback.
func (s *KeySet) Add(kid string, key *rsa.PublicKey) {
	if key == nil {
		return
	}
	kid = strings.TrimSpace(kid)
	if kid != "" {
		if _, exists := s.byID[kid]; exists {
			return
		}
		s.byID[kid] = key
	}
	s.order = append(s.order, key)
}

// Lookup returns the key for kid. An empty kid selects the first key in document order.
func (s *KeySet) Lookup(kid string) (*rsa.PublicKey, bool) {
	if s == nil {
		return nil, false
	}
	kid = strings.TrimSpace(kid)
	if kid == "" {
		if len(s.order) == 0 {
			return nil, false
		}
		return s.order[0], true
	}
	key, ok := s.byID[kid]
	return key, ok
}

// Len returns the number of keys.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// ParseKeySet decodes a JWKS document, keeping only RSA signing keys usable for RS256.
func ParseKeySet(data []byte) (*KeySet, error) {
	var doc JSONWebKeySet
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	set := NewKeySet()
	for _, jwk := range doc.Keys {
		if !strings.EqualFold(jwk.KeyType, "RSA") {
			continue
		}
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		if jwk.Algorithm != "" && jwk.Algorithm != "RS256" {
			continue
		}
		key, err := jwk.PublicKey()
		if err != nil {
			continue
		}
		set.Add(jwk.KeyID, key)
	}
	return set, nil
}
