// Command server runs the inbox backend: the conversation, notification, and
// badge service for the licensing platform.
//
// Startup order:
//  1. Load .env (best effort) and environment configuration
//  2. Configure zerolog (level, optional pretty console output)
//  3. Open SQLite and run migrations
//  4. Construct the event broker, realtime hub, and badge manager
//  5. Set up OpenTelemetry (when enabled)
//  6. Register routes and serve until SIGINT/SIGTERM, then drain
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/permitdesk/go-inbox-backend/internal/bus"
	"github.com/permitdesk/go-inbox-backend/internal/config"
	httpapi "github.com/permitdesk/go-inbox-backend/internal/http"
	"github.com/permitdesk/go-inbox-backend/internal/observability"
	"github.com/permitdesk/go-inbox-backend/internal/realtime"
	"github.com/permitdesk/go-inbox-backend/internal/repo"
	"github.com/permitdesk/go-inbox-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting inbox backend")

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}

	broker := bus.NewBroker(log.Logger)
	hub := realtime.NewHub(log.Logger)
	badges := httpapi.NewBadgeManager(db, broker, cfg, log.Logger)

	ctx := context.Background()
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{
		DB:     db,
		Broker: broker,
		Hub:    hub,
		Badges: badges,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
	}

	// Stop accepting requests first, then unwind the realtime plumbing so
	// in-flight pushes see closed components rather than a vanished process.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete")
	}

	badges.Close()
	hub.Close()
	broker.Close()

	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown incomplete")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	log.Info().Msg("stopped")
}
