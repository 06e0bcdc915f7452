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

	"github.com/couchcryptid/bom-stat-service/internal/adapter/bom"
	httpadapter "github.com/couchcryptid/bom-stat-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/bom-stat-service/internal/adapter/kafka"
	"github.com/couchcryptid/bom-stat-service/internal/archive"
	"github.com/couchcryptid/bom-stat-service/internal/config"
	"github.com/couchcryptid/bom-stat-service/internal/observability"
	"github.com/couchcryptid/bom-stat-service/internal/pipeline"
)

func main() {
	// A missing .env is fine; the environment is authoritative.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	client := bom.NewClient(bom.Options{
		BaseURL:     cfg.BOMBaseURL,
		Timeout:     cfg.UpstreamTimeout,
		MaxFailures: cfg.BreakerMaxFailures,
		OpenTimeout: cfg.BreakerOpenTimeout,
	}, logger, metrics)
	extractor := archive.NewExtractor(cfg.TempDir, logger, metrics)

	// Record publishing is feature-flagged via KAFKA_ENABLED / KAFKA_BROKERS.
	var (
		publisher pipeline.Publisher
		writer    *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger, metrics)
		publisher = writer
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	p := pipeline.New(client, client, extractor, publisher, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, client, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
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
