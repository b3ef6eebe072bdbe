/**
 * @description
 * This is the main entry point for the wallet backend. It wires the TropiPay
 * session facade to its cache store, event publisher, rate limiter and HTTP API,
 * and shuts everything down gracefully on SIGINT/SIGTERM.
 *
 * Key features:
 * - Loads configuration from .env and environment variables.
 * - Uses PostgreSQL for the offline cache when DATABASE_URL is set, SQLite otherwise.
 * - Publishes wallet events to RabbitMQ, or logs them when no broker is configured.
 * - Limits transfer routes through Redis when REDIS_URL is set, in memory otherwise.
 * - Prunes stale cache rows and idle sessions on a cron schedule.
 *
 * @dependencies
 * - pgxpool for the database, godotenv for local config, go-redis and rabbitmq for
 *   shared infrastructure.
 */
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/tropiwallet/wallet-service/internal/api"
	"github.com/tropiwallet/wallet-service/internal/app"
	"github.com/tropiwallet/wallet-service/internal/config"
	"github.com/tropiwallet/wallet-service/internal/logger"
	"github.com/tropiwallet/wallet-service/internal/store"
	"github.com/tropiwallet/wallet-service/pkg/rabbitmq"
	"github.com/tropiwallet/wallet-service/pkg/validation"
)

var version = "dev"

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}
	logg := logger.Init(cfg.LogLevel)

	cache, err := openCache(context.Background(), cfg, logg)
	if err != nil {
		logg.Error("failed to open cache store", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	publisher := openPublisher(cfg, logg)
	defer publisher.Close()
	bridge := app.NewEventBridge(publisher, cfg.EventExchange, logg)

	limiter, redisClient := openRateLimiter(cfg, logg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	sessions := app.NewSessionRegistry(cfg.SessionTTL(), logg)
	tokens := app.NewSessionTokens(cfg.SessionJWTSecret, cfg.SessionTTL())
	if !tokens.Enabled() {
		logg.Warn("SESSION_JWT_SECRET not set, routes are not protected by session tokens")
	}

	serviceConfig := app.ServiceConfig{
		Environment:       cfg.TropiPayEnvironment,
		BaseURLs:          cfg.TropiPayBaseURLs(),
		DeviceID:          cfg.DeviceID,
		Timeout:           cfg.RequestTimeout(),
		LogAPICalls:       cfg.LogAPICalls,
		AutoRefresh:       cfg.AutoRefreshToken,
		RetryOnRateLimit:  cfg.RetryOnRateLimit,
		DefaultRetryAfter: cfg.DefaultRetryAfter(),
		Currencies:        validation.NewCurrencySet(cfg.Currencies()),
		HTTPClient:        &http.Client{Timeout: cfg.RequestTimeout()},
	}
	if cfg.DemoSMSEnabled() {
		serviceConfig.DemoSMSCode = cfg.DemoSMSCode
		logg.Warn("demo SMS mode enabled, security codes are not sent")
	}
	service := app.NewService(serviceConfig, cache, sessions, tokens, bridge, logg)

	jobs := app.NewJobs(cache, sessions, cfg.CacheRetention(), logg)
	scheduler := app.NewScheduler(jobs, logg, cfg.CachePruneSchedule)
	if err := scheduler.Start(); err != nil {
		logg.Error("failed to start scheduler", "schedule", cfg.CachePruneSchedule, "error", err)
		os.Exit(1)
	}

	router := api.WalletRoutes(api.NewWalletHandlers(service, logg, version), api.RouterOptions{
		AllowedOrigins:  cfg.AllowedOrigins(),
		Tokens:          tokens,
		TransferLimiter: limiter,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logg.Info("starting HTTP server", "port", cfg.ServerPort, "environment", cfg.TropiPayEnvironment, "version", version)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Error("could not start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info("shutting down wallet-service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logg.Error("server shutdown failed", "error", err)
	}
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		logg.Warn("scheduler did not stop in time")
	}
	bridge.Wait()

	logg.Info("server gracefully stopped")
}

func openCache(ctx context.Context, cfg *config.Config, logg *slog.Logger) (store.CacheRepository, error) {
	if cfg.DatabaseURL == "" {
		logg.Info("using SQLite cache", "path", cfg.CachePath)
		return store.NewSQLiteCacheRepository(ctx, cfg.CachePath)
	}

	dbConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	dbConfig.MaxConns = 20
	dbConfig.MinConns = 2
	dbConfig.MaxConnLifetime = 30 * time.Minute
	dbConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers.
	dbConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	repo, err := store.NewPostgresCacheRepository(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	logg.Info("database connection established")
	return repo, nil
}

func openPublisher(cfg *config.Config, logg *slog.Logger) rabbitmq.Publisher {
	if cfg.RabbitMQURL == "" {
		logg.Info("RABBITMQ_URL not set, wallet events are only logged")
		return &rabbitmq.EventProducerFallback{Logger: logg}
	}
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logg)
	if err != nil {
		logg.Warn("failed to connect to RabbitMQ, wallet events are only logged", "error", err)
		return &rabbitmq.EventProducerFallback{Logger: logg}
	}
	return producer
}

func openRateLimiter(cfg *config.Config, logg *slog.Logger) (app.RateLimiter, *redis.Client) {
	if cfg.TransferRateLimitPerMinute <= 0 {
		return nil, nil
	}
	if cfg.RedisURL == "" {
		return app.NewMemoryRateLimiter(cfg.TransferRateLimitPerMinute, time.Minute), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logg.Warn("invalid REDIS_URL, using in-memory rate limiting", "error", err)
		return app.NewMemoryRateLimiter(cfg.TransferRateLimitPerMinute, time.Minute), nil
	}
	client := redis.NewClient(opts)
	limiter := app.NewRedisRateLimiter(client, cfg.RedisRateLimitPrefix, "transfer", cfg.TransferRateLimitPerMinute, time.Minute)
	return limiter, client
}
