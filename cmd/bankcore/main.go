package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"bankcore/internal/api"
	"bankcore/internal/config"
	"bankcore/internal/engine"
	"bankcore/internal/events"
	"bankcore/internal/pool"
	"bankcore/internal/store"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.HTTPPort).
		Str("environment", cfg.Environment).
		Msg("starting bankcore service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize the connection pool
	p, err := pool.New(pool.Config{
		Min:            cfg.PoolMin,
		Max:            cfg.PoolMax,
		AcquireTimeout: cfg.PoolAcquireTimeout,
		IdleTTL:        cfg.PoolIdleTTL,
	}, pool.PostgresDialer(cfg.DatabaseURL))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid pool configuration")
	}
	p.Warmup(ctx)
	defer p.Close(context.Background())

	repo := store.NewRepository(p)
	if err := repo.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	log.Info().Msg("connected to PostgreSQL")

	// Run migrations
	if err := store.RunMigrations(ctx, p); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("migrations complete")

	// Connect to NATS (optional: no URLs disables event publishing)
	var pub engine.Publisher
	if cfg.NATSURLs != "" {
		nc, err := events.ConnectNATS(cfg.NATSURLs, cfg.NATSCredsFile, cfg.NATSCreds)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Close()
		pub = events.NewPublisher(nc)
	} else {
		log.Info().Msg("NATS disabled, payment events will not be published")
	}

	// Assemble the transaction engine
	eng := engine.New(p, repo, engine.Config{
		CommissionRate:    cfg.CommissionRate,
		CardCosts:         cfg.CardCosts,
		CardsPerAccount:   cfg.CardsPerAccount,
		CardValidityYears: cfg.CardValidityYears,
		TopUpLimit:        cfg.TopUpLimit,
		TopUpWindow:       cfg.TopUpWindow,
	}, pub)

	// Start HTTP server
	srv := api.NewServer(eng, repo)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: srv.Router(),
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info().Msg("shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("shutdown complete")
}
