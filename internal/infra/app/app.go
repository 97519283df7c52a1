package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/taskhub-auth/internal/core/port"
	"github.com/arklim/taskhub-auth/internal/infra/config"
	"github.com/arklim/taskhub-auth/internal/infra/database"
	kafkainfra "github.com/arklim/taskhub-auth/internal/infra/kafka"
	redisinfra "github.com/arklim/taskhub-auth/internal/infra/redis"
	"github.com/arklim/taskhub-auth/internal/infra/security"
	"github.com/arklim/taskhub-auth/internal/infra/telemetry"
	"github.com/arklim/taskhub-auth/internal/repository/memory"
	postgresrepo "github.com/arklim/taskhub-auth/internal/repository/postgres"
	redisrepo "github.com/arklim/taskhub-auth/internal/repository/redis"
	"github.com/arklim/taskhub-auth/internal/transport/http/middleware"
	"github.com/arklim/taskhub-auth/internal/transport/http/routes"
	"github.com/arklim/taskhub-auth/internal/usecase"
)

const (
	metricsNamespace = "auth"
	shutdownTimeout  = 10 * time.Second
)

// Application owns the HTTP server and every resource it must release on shutdown.
type Application struct {
	cfg         *config.AppConfig
	engine      *gin.Engine
	logger      *zap.Logger
	pool        *pgxpool.Pool
	redis       *redisinfra.Client
	producer    *kafkainfra.Producer
	tracer      *telemetry.TracerProvider
	maintenance *usecase.MaintenanceRunner
}

type storage struct {
	users         port.UserRepository
	refreshTokens port.RefreshTokenRepository
	blacklist     port.BlacklistRepository
	loginAttempts port.LoginAttemptStore
	revocations   port.RevocationCache
}

// New wires the configured backends, services and routes.
func New(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (_ *Application, err error) {
	a := &Application{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	if a.tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	store, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewAuthMetrics(prometheus.DefaultRegisterer, metricsNamespace)
	if err != nil {
		return nil, fmt.Errorf("init auth metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Namespace: metricsNamespace})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	codec, err := newCodec(ctx, cfg.JWT, metrics, log)
	if err != nil {
		return nil, fmt.Errorf("init token codec: %w", err)
	}

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	events, err := a.newPublisher()
	if err != nil {
		return nil, err
	}

	refresh := usecase.NewRefreshTokenService(store.refreshTokens, cfg.RefreshToken.TTL, log)
	blacklist := usecase.NewBlacklistService(store.blacklist, store.revocations, log)
	guard := usecase.NewLoginAttemptGuard(store.loginAttempts, usecase.LoginGuardOptions{
		MaxAttempts:     cfg.LoginGuard.MaxAttempts,
		Window:          cfg.LoginGuard.Window,
		LockoutDuration: cfg.LoginGuard.LockoutDuration,
	}, log)

	auth := usecase.NewAuthService(
		store.users,
		hasher,
		security.NewPasswordPolicy(security.DefaultPasswordPolicyOptions()),
		codec,
		refresh,
		blacklist,
		guard,
		events,
		log,
	)
	auth.WithMetrics(metrics)

	a.maintenance = usecase.NewMaintenanceRunner(cfg.Maintenance.Interval, metrics, log,
		usecase.MaintenanceTask{Name: "refresh_tokens", Sweep: refresh.Sweep},
		usecase.MaintenanceTask{Name: "blacklist", Sweep: blacklist.Sweep},
		usecase.MaintenanceTask{Name: "login_attempts", Sweep: guard.Sweep},
	)

	deps := routes.Dependencies{
		Config: cfg,
		Logger: log,
		Auth:   auth,
		Gate: middleware.GateOptions{
			Verifier:    codec,
			Revocations: blacklist,
			Observer:    metrics,
			Logger:      log,
		},
		Keys:        codec,
		HTTPMetrics: httpMetrics,
	}
	if a.pool != nil {
		deps.Database = a.pool
	}
	if a.redis != nil {
		deps.Cache = a.redis
	}
	a.engine = routes.Register(deps)

	return a, nil
}

func (a *Application) openStorage(ctx context.Context) (*storage, error) {
	cfg := a.cfg
	store := &storage{}

	switch cfg.App.Storage {
	case config.StoragePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		a.pool = pool
		if cfg.Postgres.AutoMigrate {
			if err := postgresrepo.Migrate(ctx, pool); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
			a.logger.Info("database migrations applied")
		}
		repos := postgresrepo.NewRepositories(pool)
		store.users = repos.Users
		store.refreshTokens = repos.RefreshTokens
		store.blacklist = repos.Blacklist
	default:
		a.logger.Warn("using in-memory storage; state is lost on restart")
		store.users = memory.NewUserRepository()
		store.refreshTokens = memory.NewRefreshTokenRepository()
		store.blacklist = memory.NewBlacklistRepository()
	}

	if cfg.Redis.Enabled {
		client, err := redisinfra.NewClient(ctx, cfg.Redis, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		a.redis = client
		store.revocations = redisrepo.NewRevocationCache(client.Client(), cfg.Redis.RevocationPrefix)
	}

	if cfg.LoginGuard.Store == config.StoreRedis && a.redis != nil {
		store.loginAttempts = redisrepo.NewLoginAttemptRepository(a.redis.Client(), cfg.Redis.LoginAttemptPrefix)
	} else {
		store.loginAttempts = memory.NewLoginAttemptStore()
	}

	return store, nil
}

func (a *Application) newPublisher() (port.EventPublisher, error) {
	if !a.cfg.Kafka.Enabled || len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("kafka disabled, using stub publisher")
		return kafkainfra.NewStubPublisher(a.logger), nil
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init kafka producer: %w", err)
	}
	a.producer = producer
	a.logger.Info("kafka event publisher initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return kafkainfra.NewEventPublisher(producer, a.cfg.App, a.logger), nil
}

// newCodec builds the HS384 codec, or the RS256 codec verifying through a JWKS cache.
func newCodec(ctx context.Context, cfg config.JWTSettings, metrics *telemetry.AuthMetrics, log *zap.Logger) (*security.Codec, error) {
	opts := security.CodecOptions{
		Issuer:       cfg.Issuer,
		Audience:     cfg.Audience,
		TTL:          cfg.AccessTokenTTL,
		ClockSkew:    cfg.ClockSkew,
		ClaimVersion: cfg.ClaimVersion,
	}
	if !cfg.AcceptRS256 {
		return security.NewTokenCodec(opts, security.KeyMaterial{
			Strategy:         security.StrategyHS384,
			HMACSecretBase64: cfg.HMACSecretBase64,
		}, nil)
	}

	fetcher, err := security.NewHTTPKeySetFetcher(cfg.JWKSURI, cfg.JWKSFetchTimeout, nil)
	if err != nil {
		return nil, err
	}
	keys := security.NewJWKSCache(fetcher, security.JWKSCacheOptions{
		TTL:           cfg.JWKSCacheTTL,
		RefreshMargin: cfg.JWKSCacheRefreshMargin,
	}, log).WithObserver(metrics)

	codec, err := security.NewTokenCodec(opts, security.KeyMaterial{
		Strategy:         security.StrategyRS256,
		RSAPrivateKeyPEM: cfg.RSAPrivateKeyPEM,
		RSAKeyID:         cfg.RSAKeyID,
	}, keys)
	if err != nil {
		return nil, err
	}

	// The JWKS URI may point at this service, which is not serving yet.
	if err := keys.Refresh(ctx); err != nil {
		log.Warn("initial jwks fetch failed; keys load on first verification",
			zap.String("jwks_uri", cfg.JWKSURI), zap.Error(err))
	}
	return codec, nil
}

// Run serves HTTP and runs maintenance until ctx is cancelled, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	defer a.close(context.Background())

	srv := &http.Server{
		Addr:              a.cfg.App.Address(),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	maintenanceCtx, stopMaintenance := context.WithCancel(ctx)
	defer stopMaintenance()
	go a.maintenance.Run(maintenanceCtx)

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("storage", a.cfg.App.Storage),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down auth API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func (a *Application) close(ctx context.Context) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("failed to close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to shutdown tracer", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
