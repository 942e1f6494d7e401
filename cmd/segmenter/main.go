package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gtfs-segments/internal/config"
	"gtfs-segments/internal/db"
	"gtfs-segments/internal/metrics"
	"gtfs-segments/internal/publisher"
	"gtfs-segments/internal/runner"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Error("config error", zap.Error(err))
		return 2
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		zap.NewExample().Error("logger error", zap.Error(err))
		return 2
	}
	defer logger.Sync()

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	feeds, err := config.LoadFeeds(cfg.FeedsFile)
	if err != nil {
		logger.Error("feeds error", zap.String("file", cfg.FeedsFile), zap.Error(err))
		return 2
	}

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.Workers)
		srv := mcol.Serve(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var store *sql.DB
	if cfg.DatabaseURL != "" {
		store, err = db.OpenAndPing(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("db error", zap.Error(err))
			return 1
		}
		defer store.Close()
		if err := db.EnsureSchema(ctx, store); err != nil {
			logger.Error("db schema error", zap.Error(err))
			return 1
		}
	}

	var pub runner.FeedPublisher
	if cfg.NATSURL != "" {
		var pm publisher.PublisherMetrics
		if mcol != nil {
			pm = metrics.PublisherMetrics{C: mcol}
		}
		np, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, logger, pm)
		if err != nil {
			logger.Error("nats error", zap.Error(err))
			return 1
		}
		defer np.Close()
		pub = np
	}

	r := runner.New(runner.Options{
		OutputDir:         cfg.OutputDir,
		Workers:           cfg.Workers,
		WindowedThreshold: cfg.WindowedThreshold,
		GeoJSON:           cfg.GeoJSON,
		DatabaseURL:       cfg.DatabaseURL,
	}, store, pub, mcol, logger)

	if cfg.Schedule == "" {
		if err := r.RunAll(ctx, feeds); err != nil {
			logger.Error("run finished with failures", zap.Error(err))
			return 1
		}
		return 0
	}
	if err := r.Schedule(ctx, cfg.Schedule, feeds); err != nil {
		logger.Error("schedule error", zap.Error(err))
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

func newLogger(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
