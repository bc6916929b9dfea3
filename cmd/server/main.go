package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/bootstrap"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/config"
	httptransport "github.com/Abdullahkhan871/echoSphere-BACKEND/internal/http"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/http/handler"
	httpmiddleware "github.com/Abdullahkhan871/echoSphere-BACKEND/internal/http/middleware"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/mail"
	apimiddleware "github.com/Abdullahkhan871/echoSphere-BACKEND/internal/middleware"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/presence"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/repository"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/server"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/service"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/storage"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/telemetry"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newUserRepository,
			newKeyRepository,
			newRedisClient,
			newPresenceTracker,
			newMailSender,
			newObjectStorage,
			newRateLimiter,
			newKeyManager,
			newTokenGenerator,
			service.NewSessionService,
			handler.NewAuthHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureAdmin, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newKeyRepository(pool *pgxpool.Pool) repository.KeyRepository {
	return repository.NewPostgresKeyRepo(pool)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newPresenceTracker(client redis.UniversalClient, cfg config.Config) service.Presence {
	return presence.NewTracker(client, cfg.PresenceTTL)
}

func newMailSender(cfg config.Config, logger *zap.Logger) (mail.Sender, error) {
	if cfg.Mailgun.Domain != "" && cfg.Mailgun.APIKey != "" {
		return mail.NewMailgunSender(cfg.Mailgun, logger)
	}
	logger.Warn("mailgun not configured, logging outbound mail instead")
	return mail.NewLogSender(logger), nil
}

func newObjectStorage(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (storage.ObjectStorage, error) {
	if cfg.Minio.Endpoint == "" {
		logger.Warn("object storage not configured, avatar uploads disabled")
		return nil, nil
	}
	store, err := storage.NewMinioStorage(cfg.Minio)
	if err != nil {
		return nil, fmt.Errorf("object storage init: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return store.EnsureBucket(ctx)
		},
	})
	return store, nil
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newKeyManager(repo repository.KeyRepository, node *snowflake.Node) *token.KeyManager {
	return token.NewKeyManager(repo, node)
}

func newTokenGenerator(manager *token.KeyManager, cfg config.Config) *token.Generator {
	return token.NewGenerator(manager, cfg.BaseURL, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
}

func newAuthMiddleware(sessions *service.SessionService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Sessions: sessions}
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
