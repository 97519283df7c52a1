package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_APP_STORAGE", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.JWT.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected 15m access ttl, got %v", cfg.JWT.AccessTokenTTL)
	}
	if cfg.JWT.ClockSkew != 60*time.Second {
		t.Fatalf("expected 60s skew, got %v", cfg.JWT.ClockSkew)
	}
	if cfg.RefreshToken.TTL != 720*time.Hour {
		t.Fatalf("expected 720h refresh ttl, got %v", cfg.RefreshToken.TTL)
	}
	if cfg.LoginGuard.MaxAttempts != 5 || cfg.LoginGuard.Window != 15*time.Minute || cfg.LoginGuard.LockoutDuration != 15*time.Minute {
		t.Fatalf("unexpected login guard defaults: %+v", cfg.LoginGuard)
	}
	if cfg.JWT.JWKSCacheTTL != time.Hour || cfg.JWT.JWKSCacheRefreshMargin != 5*time.Minute || cfg.JWT.JWKSFetchTimeout != 5*time.Second {
		t.Fatalf("unexpected jwks defaults: %+v", cfg.JWT)
	}
	if cfg.App.Address() != "0.0.0.0:8080" {
		t.Fatalf("unexpected address %s", cfg.App.Address())
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("AUTH_APP_STORAGE", "memory")
	t.Setenv("AUTH_JWT_ISSUER", "https://auth.example.com")
	t.Setenv("AUTH_JWT_ACCESS_TOKEN_TTL", "5m")
	t.Setenv("AUTH_LOGIN_GUARD_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.JWT.Issuer != "https://auth.example.com" {
		t.Fatalf("expected issuer override, got %q", cfg.JWT.Issuer)
	}
	if cfg.JWT.AccessTokenTTL != 5*time.Minute {
		t.Fatalf("expected 5m, got %v", cfg.JWT.AccessTokenTTL)
	}
	if cfg.LoginGuard.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", cfg.LoginGuard.MaxAttempts)
	}
}

func validConfig() AppConfig {
	return AppConfig{
		App: AppSettings{Storage: StorageMemory},
		JWT: JWTSettings{
			Issuer:                 "issuer",
			Audience:               "audience",
			AccessTokenTTL:         15 * time.Minute,
			JWKSCacheTTL:           time.Hour,
			JWKSCacheRefreshMargin: 5 * time.Minute,
		},
		RefreshToken: RefreshTokenSettings{TTL: 720 * time.Hour},
		LoginGuard: LoginGuardSettings{
			MaxAttempts:     5,
			Window:          15 * time.Minute,
			LockoutDuration: 15 * time.Minute,
			Store:           StorageMemory,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*AppConfig) {}},
		{
			name:    "unknown storage",
			mutate:  func(c *AppConfig) { c.App.Storage = "sqlite" },
			wantErr: "app.storage",
		},
		{
			name:    "redis guard without redis",
			mutate:  func(c *AppConfig) { c.LoginGuard.Store = StoreRedis },
			wantErr: "requires redis.enabled",
		},
		{
			name:    "rs256 without key material",
			mutate:  func(c *AppConfig) { c.JWT.AcceptRS256 = true },
			wantErr: "jwt.rsa_private_key_pem",
		},
		{
			name: "margin beyond ttl",
			mutate: func(c *AppConfig) {
				c.JWT.AcceptRS256 = true
				c.JWT.RSAPrivateKeyPEM = "/keys/private.pem"
				c.JWT.RSAKeyID = "kid-1"
				c.JWT.JWKSURI = "https://auth.example.com/.well-known/jwks.json"
				c.JWT.JWKSCacheRefreshMargin = 2 * time.Hour
			},
			wantErr: "refresh_margin",
		},
		{
			name:    "non-positive refresh ttl",
			mutate:  func(c *AppConfig) { c.RefreshToken.TTL = 0 },
			wantErr: "refresh_token.ttl",
		},
		{
			name:    "missing audience",
			mutate:  func(c *AppConfig) { c.JWT.Audience = " " },
			wantErr: "jwt.audience",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}
