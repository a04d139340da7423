/**
 * @description
 * Entry point for the core (ledger) tier. It owns the authoritative balances, opens accounts
 * and executes internal transfers; only the relay talks to it.
 *
 * @dependencies
 * - github.com/joho/godotenv: .env loading for local development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/rabbitmq/amqp091-go (via events): TransferCommitted publishing.
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

	"github.com/transfa/corebank/internal/config"
	"github.com/transfa/corebank/internal/ledger/api"
	"github.com/transfa/corebank/internal/ledger/app"
	"github.com/transfa/corebank/internal/ledger/events"
	"github.com/transfa/corebank/internal/ledger/store"
	"github.com/transfa/corebank/internal/logging"
	"github.com/transfa/corebank/internal/postgres"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		l := logging.WithComponent("bootstrap")
		l.Fatal().Err(err).Msg("config load failed")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "core"})
	logger := logging.WithComponent("bootstrap")
	if envErr != nil {
		logger.Debug().Msg("no .env file found; using environment variables")
	}

	if err := config.Require("DATABASE_URL", cfg.DatabaseURL, "INTERNAL_API_KEY", cfg.InternalAPIKey); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Info().Str("port", cfg.ServerPort).Msg("starting core")

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

	var publisher events.Publisher = events.FallbackProducer{}
	if cfg.RabbitMQURL == "" {
		logger.Warn().Msg("rabbitmq url missing; transfer events disabled")
	} else if producer, err := events.NewEventProducer(cfg.RabbitMQURL, cfg.LedgerExchange); err != nil {
		logger.Warn().Err(err).Msg("rabbitmq producer unavailable; using fallback")
	} else {
		publisher = producer
		logger.Info().Str("exchange", cfg.LedgerExchange).Msg("rabbitmq producer connected")
	}
	defer publisher.Close()

	ids, err := app.NewSnowflakeIDs(cfg.SnowflakeNode)
	if err != nil {
		logger.Fatal().Err(err).Msg("id generator init failed")
	}

	repo := store.NewPostgresRepository(pool)
	txManager := postgres.NewTxManager(pool)
	handlers := api.NewHandlers(
		app.NewTransferExecutor(repo, txManager, ids, publisher),
		app.NewAccountService(repo, txManager, ids),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           api.Routes(handlers, cfg.InternalAPIKey),
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
