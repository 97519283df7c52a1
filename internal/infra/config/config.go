package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig marks configuration the service refuses to start with.
var ErrInvalidConfig = errors.New("invalid configuration")

// Storage backends selectable through app.storage and login_guard.store.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StoreRedis      = "redis"
)

type AppConfig struct {
	App          AppSettings          `mapstructure:"app"`
	Postgres     PostgresSettings     `mapstructure:"postgres"`
	Redis        RedisSettings        `mapstructure:"redis"`
	Kafka        KafkaSettings        `mapstructure:"kafka"`
	JWT          JWTSettings          `mapstructure:"jwt"`
	RefreshToken RefreshTokenSettings `mapstructure:"refresh_token"`
	LoginGuard   LoginGuardSettings   `mapstructure:"login_guard"`
	Maintenance  MaintenanceSettings  `mapstructure:"maintenance"`
	Telemetry    TelemetrySettings    `mapstructure:"telemetry"`
	Argon2       Argon2Settings       `mapstructure:"argon2"`
}

type AppSettings struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Storage string `mapstructure:"storage"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// RedisSettings configures the shared Redis used for login attempts and the revocation cache.
type RedisSettings struct {
	Enabled            bool   `mapstructure:"enabled"`
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	DB                 int    `mapstructure:"db"`
	Password           string `mapstructure:"password"`
	TLSEnabled         bool   `mapstructure:"tls_enabled"`
	LoginAttemptPrefix string `mapstructure:"login_attempt_prefix"`
	RevocationPrefix   string `mapstructure:"revocation_prefix"`
}

// KafkaSettings configures the auth event producer.
type KafkaSettings struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// JWTSettings configures access token signing and verification.
type JWTSettings struct {
	Issuer                 string        `mapstructure:"issuer"`
	Audience               string        `mapstructure:"audience"`
	HMACSecretBase64       string        `mapstructure:"hmac_secret_base64"`
	AccessTokenTTL         time.Duration `mapstructure:"access_token_ttl"`
	ClockSkew              time.Duration `mapstructure:"clock_skew"`
	ClaimVersion           int           `mapstructure:"claim_version"`
	AcceptRS256            bool          `mapstructure:"accept_rs256"`
	RSAPrivateKeyPEM       string        `mapstructure:"rsa_private_key_pem"`
	RSAKeyID               string        `mapstructure:"rsa_key_id"`
	JWKSURI                string        `mapstructure:"jwks_uri"`
	JWKSCacheTTL           time.Duration `mapstructure:"jwks_cache_ttl"`
	JWKSCacheRefreshMargin time.Duration `mapstructure:"jwks_cache_refresh_margin"`
	JWKSFetchTimeout       time.Duration `mapstructure:"jwks_fetch_timeout"`
}

type RefreshTokenSettings struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// LoginGuardSettings configures the failed-login lockout.
type LoginGuardSettings struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Window          time.Duration `mapstructure:"window"`
	LockoutDuration time.Duration `mapstructure:"lockout_duration"`
	Store           string        `mapstructure:"store"`
}

type MaintenanceSettings struct {
	Interval time.Duration `mapstructure:"interval"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

var envKeys = []string{
	"app.name",
	"app.env",
	"app.host",
	"app.port",
	"app.storage",
	"postgres.host",
	"postgres.port",
	"postgres.user",
	"postgres.password",
	"postgres.database",
	"postgres.ssl_mode",
	"postgres.max_conns",
	"postgres.min_conns",
	"postgres.max_conn_lifetime",
	"postgres.max_conn_idle_time",
	"postgres.health_check_period",
	"postgres.auto_migrate",
	"redis.enabled",
	"redis.host",
	"redis.port",
	"redis.db",
	"redis.password",
	"redis.tls_enabled",
	"redis.login_attempt_prefix",
	"redis.revocation_prefix",
	"kafka.enabled",
	"kafka.brokers",
	"kafka.topic_prefix",
	"kafka.async",
	"jwt.issuer",
	"jwt.audience",
	"jwt.hmac_secret_base64",
	"jwt.access_token_ttl",
	"jwt.clock_skew",
	"jwt.claim_version",
	"jwt.accept_rs256",
	"jwt.rsa_private_key_pem",
	"jwt.rsa_key_id",
	"jwt.jwks_uri",
	"jwt.jwks_cache_ttl",
	"jwt.jwks_cache_refresh_margin",
	"jwt.jwks_fetch_timeout",
	"refresh_token.ttl",
	"login_guard.max_attempts",
	"login_guard.window",
	"login_guard.lockout_duration",
	"login_guard.store",
	"maintenance.interval",
	"telemetry.tracing_enabled",
	"telemetry.otlp_endpoint",
	"telemetry.service_name",
	"telemetry.sampling_rate",
	"argon2.memory",
	"argon2.iterations",
	"argon2.parallelism",
	"argon2.salt_length",
	"argon2.key_length",
}

// Load reads configuration from AUTH_-prefixed environment variables over defaults.
func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AUTH")

	setDefaults(v)

	if err := bindEnvs(v, envKeys); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects combinations the service cannot run with.
func (c *AppConfig) Validate() error {
	var problems []string

	switch c.App.Storage {
	case StorageMemory, StoragePostgres:
	default:
		problems = append(problems, fmt.Sprintf("app.storage must be %q or %q", StorageMemory, StoragePostgres))
	}

	switch c.LoginGuard.Store {
	case StorageMemory:
	case StoreRedis:
		if !c.Redis.Enabled {
			problems = append(problems, "login_guard.store=redis requires redis.enabled")
		}
	default:
		problems = append(problems, fmt.Sprintf("login_guard.store must be %q or %q", StorageMemory, StoreRedis))
	}

	jwt := c.JWT
	if strings.TrimSpace(jwt.Issuer) == "" || strings.TrimSpace(jwt.Audience) == "" {
		problems = append(problems, "jwt.issuer and jwt.audience are required")
	}
	if jwt.AccessTokenTTL <= 0 {
		problems = append(problems, "jwt.access_token_ttl must be positive")
	}
	if c.RefreshToken.TTL <= 0 {
		problems = append(problems, "refresh_token.ttl must be positive")
	}
	if c.LoginGuard.MaxAttempts <= 0 || c.LoginGuard.Window <= 0 || c.LoginGuard.LockoutDuration <= 0 {
		problems = append(problems, "login_guard limits must be positive")
	}

	if jwt.AcceptRS256 {
		if strings.TrimSpace(jwt.RSAPrivateKeyPEM) == "" {
			problems = append(problems, "jwt.rsa_private_key_pem is required when jwt.accept_rs256 is set")
		}
		if strings.TrimSpace(jwt.RSAKeyID) == "" {
			problems = append(problems, "jwt.rsa_key_id is required when jwt.accept_rs256 is set")
		}
		if strings.TrimSpace(jwt.JWKSURI) == "" {
			problems = append(problems, "jwt.jwks_uri is required when jwt.accept_rs256 is set")
		}
		if jwt.JWKSCacheTTL <= 0 {
			problems = append(problems, "jwt.jwks_cache_ttl must be positive")
		}
		if jwt.JWKSCacheRefreshMargin > jwt.JWKSCacheTTL {
			problems = append(problems, "jwt.jwks_cache_refresh_margin must not exceed jwt.jwks_cache_ttl")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Address returns the HTTP listen address.
func (s AppSettings) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "taskhub-auth")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.storage", StoragePostgres)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "taskhub")
	v.SetDefault("postgres.password", "taskhub")
	v.SetDefault("postgres.database", "taskhub")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.login_attempt_prefix", "auth:login_attempts")
	v.SetDefault("redis.revocation_prefix", "auth:blacklist")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "auth")
	v.SetDefault("kafka.async", true)

	v.SetDefault("jwt.issuer", "taskhub-auth")
	v.SetDefault("jwt.audience", "taskhub-api")
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.clock_skew", "60s")
	v.SetDefault("jwt.claim_version", 1)
	v.SetDefault("jwt.accept_rs256", false)
	v.SetDefault("jwt.jwks_cache_ttl", "1h")
	v.SetDefault("jwt.jwks_cache_refresh_margin", "5m")
	v.SetDefault("jwt.jwks_fetch_timeout", "5s")

	v.SetDefault("refresh_token.ttl", "720h")

	v.SetDefault("login_guard.max_attempts", 5)
	v.SetDefault("login_guard.window", "15m")
	v.SetDefault("login_guard.lockout_duration", "15m")
	v.SetDefault("login_guard.store", StorageMemory)

	v.SetDefault("maintenance.interval", "1h")

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "taskhub-auth")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "AUTH_"+envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
