/**
 * @description
 * Entry point for the relay tier. The relay forwards customer-side requests to the ledger,
 * records every exchange in its audit log and prunes old audit rows on a cron schedule.
 *
 * @dependencies
 * - github.com/joho/godotenv: .env loading for local development.
 * - github.com/robfig/cron/v3 (via app): Audit retention job.
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
	"github.com/transfa/corebank/internal/httpx"
	"github.com/transfa/corebank/internal/logging"
	"github.com/transfa/corebank/internal/postgres"
	"github.com/transfa/corebank/internal/relay/api"
	"github.com/transfa/corebank/internal/relay/app"
	"github.com/transfa/corebank/internal/relay/store"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		l := logging.WithComponent("bootstrap")
		l.Fatal().Err(err).Msg("config load failed")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "relay"})
	logger := logging.WithComponent("bootstrap")
	if envErr != nil {
		logger.Debug().Msg("no .env file found; using environment variables")
	}

	if err := config.Require(
		"DATABASE_URL", cfg.DatabaseURL,
		"INTERNAL_API_KEY", cfg.InternalAPIKey,
		"CORE_BASE_URL", cfg.CoreBaseURL,
	); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Info().Str("port", cfg.ServerPort).Str("core", cfg.CoreBaseURL).Msg("starting relay")

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

	audit := store.NewPostgresAuditStore(pool)
	core := httpx.NewClient("core", cfg.CoreBaseURL, cfg.CoreAPIKey, time.Duration(cfg.DownstreamTimeoutSeconds)*time.Second)

	var scheduler *app.Scheduler
	if cfg.AuditRetentionDays > 0 {
		scheduler = app.NewScheduler(app.NewAuditPruner(audit, cfg.AuditRetentionDays), cfg.AuditPruneSchedule)
		if err := scheduler.Start(); err != nil {
			logger.Fatal().Err(err).Str("schedule", cfg.AuditPruneSchedule).Msg("audit pruning schedule invalid")
		}
		logger.Info().Int("retention_days", cfg.AuditRetentionDays).Str("schedule", cfg.AuditPruneSchedule).Msg("audit pruning scheduled")
	} else {
		logger.Warn().Msg("audit retention disabled; audit rows are kept forever")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           api.Routes(api.NewHandlers(app.NewForwarder(audit, core)), cfg.InternalAPIKey),
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
	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			l := logging.WithComponent("cron")
			l.Warn().Msg("audit pruning still running at shutdown")
		}
	}
	l = logging.WithComponent("http")
	l.Info().Msg("shutdown complete")
}
