package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/arklim/taskhub-auth/internal/core/port"
)

const (
	argon2Variant = "argon2id"
	argon2Version = "v=19"
	argon2Params  = "m=%d,t=%d,p=%d"
)

var (
	errMalformedHash  = errors.New("argon2: malformed encoded hash")
	errWeakParameters = errors.New("argon2: parameters below minimum")
)

// Argon2Config defines tunable parameters for Argon2id password hashing.
type Argon2Config struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config returns the production Argon2id parameters.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{Memory: 64 * 1024, Iterations: 3, Parallelism: 4, SaltLength: 16, KeyLength: 32}
}

// Validate rejects parameters too weak to store credentials with.
func (cfg Argon2Config) Validate() error {
	var problems []string
	if cfg.Memory < 8*1024 {
		problems = append(problems, "memory < 8192 KiB")
	}
	if cfg.Iterations == 0 {
		problems = append(problems, "iterations = 0")
	}
	if cfg.Parallelism == 0 {
		problems = append(problems, "parallelism = 0")
	}
	if cfg.SaltLength < 8 {
		problems = append(problems, "salt < 8 bytes")
	}
	if cfg.KeyLength < 16 {
		problems = append(problems, "key < 16 bytes")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", errWeakParameters, strings.Join(problems, ", "))
	}
	return nil
}

func (cfg Argon2Config) derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, cfg.Iterations, cfg.Memory, cfg.Parallelism, cfg.KeyLength)
}

// Argon2Hasher is the default password hashing capability consumed by the auth flows.
type Argon2Hasher struct {
	cfg Argon2Config
}

// NewArgon2Hasher validates cfg and returns a hasher.
func NewArgon2Hasher(cfg Argon2Config) (*Argon2Hasher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Argon2Hasher{cfg: cfg}, nil
}

// Hash returns argon2id$v=19$m=..,t=..,p=..$salt$key with unpadded base64 segments.
func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2: read salt: %w", err)
	}

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("%s$%s$"+argon2Params+"$%s$%s",
		argon2Variant, argon2Version,
		h.cfg.Memory, h.cfg.Iterations, h.cfg.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(h.cfg.derive(password, salt)),
	), nil
}

// Verify recomputes the key with the parameters stored in encoded, so hashes
// written under older settings keep verifying after the config changes.
func (h *Argon2Hasher) Verify(password, encoded string) (bool, error) {
	if password == "" || encoded == "" {
		return false, nil
	}

	cfg, salt, want, err := parseArgon2Hash(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(cfg.derive(password, salt), want) == 1, nil
}

func parseArgon2Hash(encoded string) (Argon2Config, []byte, []byte, error) {
	var cfg Argon2Config
	fields := strings.Split(encoded, "$")
	if len(fields) != 5 || fields[0] != argon2Variant || fields[1] != argon2Version {
		return cfg, nil, nil, errMalformedHash
	}
	if _, err := fmt.Sscanf(fields[2], argon2Params, &cfg.Memory, &cfg.Iterations, &cfg.Parallelism); err != nil {
		return cfg, nil, nil, fmt.Errorf("%w: parameters: %v", errMalformedHash, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(fields[3])
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("%w: salt: %v", errMalformedHash, err)
	}
	key, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("%w: key: %v", errMalformedHash, err)
	}
	cfg.SaltLength = uint32(len(salt))
	cfg.KeyLength = uint32(len(key))

	if err := cfg.Validate(); err != nil {
		return cfg, nil, nil, err
	}
	return cfg, salt, key, nil
}

var _ port.PasswordHasher = (*Argon2Hasher)(nil)
