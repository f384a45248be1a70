package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/location-geocoder/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/location-geocoder/internal/adapter/kafka"
	"github.com/couchcryptid/location-geocoder/internal/adapter/mapbox"
	"github.com/couchcryptid/location-geocoder/internal/config"
	"github.com/couchcryptid/location-geocoder/internal/domain"
	"github.com/couchcryptid/location-geocoder/internal/observability"
	"github.com/couchcryptid/location-geocoder/internal/pipeline"
	"github.com/couchcryptid/location-geocoder/internal/resolver"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	metrics := observability.NewMetrics()

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	// Without it every lookup is a transient failure and records are
	// published unresolved.
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	// Completions run on the owner loop. It outlives the signal context so
	// in-flight jobs can still finalize during shutdown.
	loop := resolver.NewLoop()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(context.Background())
	}()

	pool := resolver.NewPool(cfg.GeocoderWorkers)
	res := resolver.New(geocoder, pool, loop, logger, metrics)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	p := pipeline.New(reader, res, writer, logger, metrics, pipeline.Options{
		BatchSize:      cfg.BatchSize,
		FlushInterval:  cfg.BatchFlushInterval,
		ResolveTimeout: cfg.ResolveTimeout,
	})

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, res, cfg.DisplayWait, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start geocoding pipeline.
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	select {
	case <-pipelineDone:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}

	// Order matters: the pool cancels lookups, the resolver drains their
	// completions through the still running loop, then the loop stops.
	pool.Close()
	res.Wait()
	loop.Stop()
	<-loopDone

	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// newLogger builds the service logger and makes it the slog default, so
// package-level slog calls carry the service attribute too.
func newLogger(cfg *config.Config) *slog.Logger {
	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "location-geocoder")
	slog.SetDefault(logger)
	return logger
}
