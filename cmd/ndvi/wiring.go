package main

import (
	"log/slog"

	"github.com/couchcryptid/ndvi-forecast-service/internal/adapter/csvsource"
	"github.com/couchcryptid/ndvi-forecast-service/internal/adapter/mapbox"
	"github.com/couchcryptid/ndvi-forecast-service/internal/adapter/modis"
	"github.com/couchcryptid/ndvi-forecast-service/internal/config"
	"github.com/couchcryptid/ndvi-forecast-service/internal/domain"
	"github.com/couchcryptid/ndvi-forecast-service/internal/observability"
	"github.com/couchcryptid/ndvi-forecast-service/internal/pipeline"
	"github.com/couchcryptid/ndvi-forecast-service/internal/predict"
)

func fetchRequest(cfg *config.Config) domain.FetchRequest {
	return domain.FetchRequest{Region: cfg.Region, DateRange: cfg.DateRange}
}

func newIngestor(cfg *config.Config, store *pipeline.Store, logger *slog.Logger, metrics *observability.Metrics) *pipeline.Ingestor {
	primary := modis.NewClient(modis.Config{
		BaseURL:    cfg.ModisBaseURL,
		Product:    cfg.ModisProduct,
		Band:       cfg.ModisBand,
		Timeout:    cfg.ModisTimeout,
		MaxRetries: cfg.ModisMaxRetries,
	}, logger, metrics)
	secondary := csvsource.New(cfg.CSVPath, logger)

	return pipeline.NewIngestor(primary, secondary, store, pipeline.Options{
		Bounds:         cfg.Region.Bounds,
		MinNDVI:        cfg.MinNDVI,
		SampleStride:   cfg.SampleStride,
		MaxPoints:      cfg.MaxPoints,
		Band:           cfg.ModisBand,
		PrimaryTimeout: cfg.ModisTimeout,
	}, logger, metrics)
}

// newGeocoder returns nil when Mapbox is disabled or its cache cannot be built.
func newGeocoder(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) domain.Geocoder {
	if !cfg.MapboxEnabled {
		metrics.GeocodeEnabled.Set(0)
		logger.Info("mapbox geocoding disabled")
		return nil
	}
	client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
	cached, err := mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
	if err != nil {
		logger.Warn("mapbox cache unavailable, geocoding disabled", "error", err)
		return nil
	}
	metrics.GeocodeEnabled.Set(1)
	logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	return cached
}

func newPredictor(cfg *config.Config, geocoder domain.Geocoder, logger *slog.Logger, metrics *observability.Metrics) *predict.Predictor {
	return predict.New(predict.LinearTrainer{}, geocoder, cfg.PredictTolerance, logger, metrics)
}
