// Command sync pulls facility and enforcement data from EPA ECHO and the
// state open-data portals, derives compliance flags, and loads the result
// into Postgres, CSV snapshots, and the optional Kafka sink.
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

	"github.com/permitwatch/permitwatch/internal/adapter/api"
	"github.com/permitwatch/permitwatch/internal/adapter/echo"
	kafkaadapter "github.com/permitwatch/permitwatch/internal/adapter/kafka"
	"github.com/permitwatch/permitwatch/internal/adapter/postgres"
	"github.com/permitwatch/permitwatch/internal/adapter/snapshot"
	"github.com/permitwatch/permitwatch/internal/adapter/socrata"
	"github.com/permitwatch/permitwatch/internal/config"
	"github.com/permitwatch/permitwatch/internal/domain"
	"github.com/permitwatch/permitwatch/internal/observability"
	"github.com/permitwatch/permitwatch/internal/pipeline"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open postgres", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.CreateSchema(ctx); err != nil {
		logger.Error("failed to create schema", "error", err)
		os.Exit(1)
	}

	echoClient := echo.NewClient(cfg.EchoBaseURL, cfg.EchoTimeout, cfg.SyncPageSize, logger)

	// PA and MD have open-data portal sources that override ECHO.
	portal := socrata.NewClient(cfg.EchoTimeout, cfg.SyncPageSize, logger)
	stateSources := map[string]domain.Source{}
	for _, state := range cfg.States {
		if socrata.Supported(state) {
			stateSources[state] = portal
			logger.Info("using open-data portal source", "state", state)
		}
	}

	opts := pipeline.Options{
		States:       cfg.States,
		Interval:     cfg.SyncInterval,
		StateDelay:   cfg.StateDelay,
		StateSources: stateSources,
	}

	if cfg.CSVOutputDir != "" {
		opts.Snapshots = snapshot.NewWriter(cfg.CSVOutputDir, logger)
	} else {
		logger.Info("csv snapshots disabled")
	}

	// The Kafka sink is feature-flagged via KAFKA_ENABLED / KAFKA_BROKERS.
	var kafkaWriter *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		kafkaWriter = kafkaadapter.NewWriter(cfg, logger)
		opts.Publisher = kafkaWriter
		logger.Info("kafka sink enabled", "topic", cfg.KafkaSinkTopic)
	} else {
		logger.Info("kafka sink disabled")
	}

	s := pipeline.New(echoClient, store, logger, metrics, opts)

	srv := api.NewOpsServer(cfg.HTTPAddr, s, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Run returns immediately after one pass when SYNC_INTERVAL is zero;
	// otherwise it loops until the context is cancelled.
	syncErr := make(chan error, 1)
	go func() {
		syncErr <- s.Run(ctx)
		stop()
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	if err := <-syncErr; err != nil {
		logger.Error("sync failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
