package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/couchcryptid/ndvi-forecast-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/ndvi-forecast-service/internal/adapter/kafka"
	"github.com/couchcryptid/ndvi-forecast-service/internal/config"
	"github.com/couchcryptid/ndvi-forecast-service/internal/observability"
	"github.com/couchcryptid/ndvi-forecast-service/internal/pipeline"
	"github.com/couchcryptid/ndvi-forecast-service/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with an initial ingestion and optional refresh",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	store := pipeline.NewStore()
	ingestor := newIngestor(cfg, store, logger, metrics)

	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		ingestor.WithPublisher(writer)
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	predictor := newPredictor(cfg, newGeocoder(cfg, logger, metrics), logger, metrics)
	req := fetchRequest(cfg)

	api := httpadapter.NewAPI(store, predictor, ingestor, req, cfg.MonthLabels, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, api, store, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	var refresher *scheduler.Scheduler
	if cfg.RefreshInterval > 0 {
		refresher = scheduler.New(ingestor, req, cfg.RefreshInterval, logger)
		if err := refresher.Start(gctx); err != nil {
			return err
		}
	}

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Initial ingestion. /readyz reports ready once it commits.
	g.Go(func() error {
		rep := ingestor.Run(gctx, req)
		logger.Info("initial ingestion finished",
			"run_id", rep.RunID,
			"source", rep.Source,
			"outcome", rep.Outcome,
			"accepted", rep.Accepted,
		)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		if refresher != nil {
			refresher.Stop()
		}

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
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
