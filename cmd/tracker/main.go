package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/visited-countries/internal/adapter/history"
	"github.com/couchcryptid/visited-countries/internal/adapter/httpapi"
	kafkaadapter "github.com/couchcryptid/visited-countries/internal/adapter/kafka"
	"github.com/couchcryptid/visited-countries/internal/adapter/nominatim"
	"github.com/couchcryptid/visited-countries/internal/config"
	"github.com/couchcryptid/visited-countries/internal/engine"
	"github.com/couchcryptid/visited-countries/internal/geocache"
	"github.com/couchcryptid/visited-countries/internal/ledger"
	"github.com/couchcryptid/visited-countries/internal/observability"
	"github.com/couchcryptid/visited-countries/internal/resolver"
	"github.com/couchcryptid/visited-countries/internal/scanner"
	"github.com/couchcryptid/visited-countries/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache, err := geocache.New(db, clock, metrics, logger)
	if err != nil {
		logger.Error("failed to load geocode cache", "error", err)
		os.Exit(1)
	}
	lg, err := ledger.New(db, clock, metrics, logger)
	if err != nil {
		logger.Error("failed to load visit ledger", "error", err)
		os.Exit(1)
	}

	geocoder := nominatim.NewClient(cfg.GeocoderBaseURL, cfg.GeocoderTimeout, logger)
	pacer := resolver.NewPacer(cfg.GeocoderInterval, clock)
	rs := resolver.New(cache, geocoder, pacer, clock, metrics, logger)

	// The host API is optional. Without it the engine still serves manual
	// records; with a URL but no token, only the current position is tracked.
	var (
		historySource  scanner.HistorySource
		positionSource engine.PositionSource
	)
	if cfg.HistoryURL != "" {
		hc := history.NewClient(cfg.HistoryURL, cfg.HistoryToken, cfg.GeocoderTimeout, logger)
		positionSource = hc
		if hc.HistoryAuthorized() {
			historySource = hc
			logger.Info("history scanning enabled", "url", cfg.HistoryURL, "window", cfg.HistoryWindow)
		} else {
			logger.Info("history scanning disabled, no token configured")
		}
	} else {
		logger.Info("host API not configured, location detection disabled")
	}

	sc := scanner.New(historySource, cache, cfg.ScanBatchLimit, metrics, logger)

	var publisher engine.Publisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, metrics, logger)
		publisher = writer
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	eng := engine.New(cfg.Persons, sc, rs, lg, positionSource, publisher,
		cfg.HistoryWindow, cfg.UpdateInterval, clock, metrics, logger)

	srv := httpapi.NewServer(cfg.HTTPAddr, eng, lg, cache, publisher, cfg.Persons, clock, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := eng.Run(ctx); err != nil {
			logger.Error("engine error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
