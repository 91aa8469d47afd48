package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/ndvi-forecast-service/internal/config"
	"github.com/couchcryptid/ndvi-forecast-service/internal/observability"
	"github.com/couchcryptid/ndvi-forecast-service/internal/pipeline"
	"github.com/couchcryptid/ndvi-forecast-service/internal/predict"
)

var (
	predictLat       float64
	predictLng       float64
	predictTolerance float64
	predictMonth     int
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Ingest once and forecast NDVI at a coordinate",
	RunE:  runPredict,
}

func init() {
	predictCmd.Flags().Float64Var(&predictLat, "lat", 0, "latitude in degrees")
	predictCmd.Flags().Float64Var(&predictLng, "lng", 0, "longitude in degrees")
	predictCmd.Flags().Float64Var(&predictTolerance, "tolerance", 0, "per-axis match tolerance in degrees (default PREDICT_TOLERANCE)")
	predictCmd.Flags().IntVar(&predictMonth, "month", 0, "target month number (default: month after the last observed)")
	_ = predictCmd.MarkFlagRequired("lat")
	_ = predictCmd.MarkFlagRequired("lng")
}

func runPredict(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLoggerTo(cmd.ErrOrStderr(), cfg)
	metrics := observability.NewMetrics()

	store := pipeline.NewStore()
	rep := newIngestor(cfg, store, logger, metrics).Run(cmd.Context(), fetchRequest(cfg))
	logger.Info("ingestion finished", "source", rep.Source, "accepted", rep.Accepted)

	predictor := newPredictor(cfg, newGeocoder(cfg, logger, metrics), logger, metrics)
	f, err := predictor.Start(cmd.Context(), store.Current(), predict.Query{
		Lat:         predictLat,
		Lng:         predictLng,
		Tolerance:   predictTolerance,
		TargetMonth: predictMonth,
	}).Wait(cmd.Context())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(f)
}
