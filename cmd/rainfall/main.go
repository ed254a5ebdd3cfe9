// Command rainfall totals NLDAS-2 precipitation around every hurricane
// landfall in the working dataset. It checkpoints after each event and can
// be rerun after any failure to pick up where it stopped.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/landfall-rainfall-etl/internal/adapter/csvstore"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/adapter/datarods"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/landfall-rainfall-etl/internal/adapter/kafka"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/adapter/sqlitestore"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/config"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/domain"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/observability"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open dataset store", "backend", cfg.DatasetBackend, "error", err)
		return 1
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("dataset store close error", "error", err)
		}
	}()

	client := datarods.NewClient(cfg, metrics, logger)
	aggregator := pipeline.NewAggregator(client, pipeline.AggregatorOptions{
		Variable:    cfg.DataRodsVariable,
		Window:      cfg.EventWindow,
		Concurrency: cfg.GridConcurrency,
	}, logger, metrics)

	// Publishing is feature-flagged via KAFKA_ENABLED.
	var publisher pipeline.ResultPublisher
	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		publisher = writer
		logger.Info("result publishing enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("result publishing disabled")
	}

	runner := pipeline.NewRunner(store, aggregator, publisher, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.HTTPAddr != "" {
		srv := httpadapter.NewServer(cfg.HTTPAddr, runner, runner, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	summary, err := runner.Run(ctx)
	if err != nil {
		logger.Error("batch failed, rerun to resume",
			"run_id", summary.RunID,
			"error_kind", domain.ErrorKind(err),
			"processed", summary.Processed,
			"remaining", summary.Remaining,
			"error", err,
		)
		return 1
	}

	logger.Info("batch finished",
		"run_id", summary.RunID,
		"rows", summary.Rows,
		"already_done", summary.AlreadyDone,
		"processed", summary.Processed,
		"finalized", summary.Finalized,
	)
	return 0
}

func openStore(cfg *config.Config, logger *slog.Logger) (pipeline.DatasetStore, func() error, error) {
	cols := domain.Columns{
		Lat:    cfg.ColumnLat,
		Lon:    cfg.ColumnLon,
		Date:   cfg.ColumnDate,
		Precip: cfg.ColumnPrecip,
	}

	switch cfg.DatasetBackend {
	case config.BackendSQLite:
		s, err := sqlitestore.Open(cfg.SQLitePath, cfg.SQLiteTable, cfg.SQLiteFinalTable, cols, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s := csvstore.New(cfg.DatasetPath, cfg.OutputPath, cols, logger)
		return s, func() error { return nil }, nil
	}
}
