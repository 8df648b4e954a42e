package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/drluca/shopcommerce/config"
	"github.com/drluca/shopcommerce/internal/catalog"
	"github.com/drluca/shopcommerce/internal/database"
	"github.com/drluca/shopcommerce/internal/eventbus"
	"github.com/drluca/shopcommerce/internal/httpapi"
	"github.com/drluca/shopcommerce/internal/like"
	"github.com/drluca/shopcommerce/internal/metrics"
	"github.com/drluca/shopcommerce/internal/order"
	"github.com/drluca/shopcommerce/internal/processor"
	"github.com/drluca/shopcommerce/internal/stock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level from config
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("appName", cfg.AppName).Msg("Application starting")

	// --- Initializations ---

	m := metrics.New(prometheus.DefaultRegisterer, "commerce")

	// Initialize RabbitMQ Connection Manager
	bus, err := eventbus.NewManager(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize RabbitMQ Manager")
	}
	defer bus.Close()

	// Initialize Database with the post-commit event publisher attached
	db, err := database.New(cfg, eventbus.NewEventPublisher(bus))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Database")
	}
	defer db.Close()

	// Domain services
	deducter := stock.NewCoordinator(db)
	orders := order.NewService(db, deducter, db)
	likes := like.NewService(db, db)
	cat := catalog.NewService(db, db)

	// Async event pipeline
	proc := processor.New(cat, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bus.StartConsuming(ctx, proc.MessageHandler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start consumer")
	}

	// HTTP boundary
	server := httpapi.NewServer(orders, likes, cat, m)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			log.Info().Msg("Shutdown signal received")
		case <-groupCtx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		cancel() // stop the consumer
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Application terminated with error")
	}
	log.Info().Msg("Application shut down cleanly")
}
