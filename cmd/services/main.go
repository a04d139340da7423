/**
 * @description
 * Entry point for the customer-facing services tier. It registers customers, issues their
 * tokens, keeps a cache of their ledger state and sends their transfers through the relay.
 *
 * @dependencies
 * - github.com/joho/godotenv: .env loading for local development.
 * - github.com/redis/go-redis/v9: Shared transfer rate limiting.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/transfa/corebank/internal/config"
	"github.com/transfa/corebank/internal/logging"
	"github.com/transfa/corebank/internal/postgres"
	"github.com/transfa/corebank/internal/services/api"
	"github.com/transfa/corebank/internal/services/app"
	"github.com/transfa/corebank/internal/services/relayclient"
	"github.com/transfa/corebank/internal/services/store"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		l := logging.WithComponent("bootstrap")
		l.Fatal().Err(err).Msg("config load failed")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "services"})
	logger := logging.WithComponent("bootstrap")
	if envErr != nil {
		logger.Debug().Msg("no .env file found; using environment variables")
	}

	if err := config.Require(
		"DATABASE_URL", cfg.DatabaseURL,
		"RELAY_BASE_URL", cfg.RelayBaseURL,
		"RELAY_API_KEY", cfg.RelayAPIKey,
		"JWT_SECRET", cfg.JWTSecret,
	); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Info().Str("port", cfg.ServerPort).Str("relay", cfg.RelayBaseURL).Msg("starting services")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolConfig{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool, store.Schema); err != nil {
		logger.Fatal().Err(err).Msg("schema migration failed")
	}
	logger.Info().Msg("database connected")

	var limiter app.TransferLimiter
	if redisClient := connectRedis(cfg); redisClient != nil {
		defer redisClient.Close()
		limiter = app.NewRedisTransferLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.TransferRateLimitPerMinute, time.Minute)
	}

	cache := store.NewPostgresStore(pool)
	txManager := postgres.NewTxManager(pool)
	relay := relayclient.NewClient(cfg.RelayBaseURL, cfg.RelayAPIKey, time.Duration(cfg.DownstreamTimeoutSeconds)*time.Second)

	handlers := api.NewHandlers(
		app.NewAuthService(cache, txManager, relay, cfg.JWTSecret, time.Duration(cfg.JWTTTLMinutes)*time.Minute),
		app.NewReconciler(cache, txManager, relay, limiter),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           api.Routes(handlers, cfg.CORSAllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		l := logging.WithComponent("http")
		l.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l := logging.WithComponent("http")
			l.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	l := logging.WithComponent("http")
	l.Info().Msg("shutdown started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		l := logging.WithComponent("http")
		l.Error().Err(err).Msg("shutdown failed")
	}
	l = logging.WithComponent("http")
	l.Info().Msg("shutdown complete")
}

// connectRedis returns nil when rate limiting is off or Redis cannot be reached.
func connectRedis(cfg config.Config) *redis.Client {
	logger := logging.WithComponent("bootstrap")
	if cfg.TransferRateLimitPerMinute <= 0 {
		logger.Info().Msg("transfer rate limiting disabled")
		return nil
	}
	if cfg.RedisURL == "" {
		logger.Warn().Msg("redis url missing; transfer rate limiting disabled")
		return nil
	}
	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis url parse failed; transfer rate limiting disabled")
		return nil
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis ping failed; transfer rate limiting disabled")
		_ = client.Close()
		return nil
	}
	logger.Info().Int("per_minute", cfg.TransferRateLimitPerMinute).Msg("redis connected; transfer rate limiting enabled")
	return client
}
