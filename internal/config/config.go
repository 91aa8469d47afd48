package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/ndvi-forecast-service/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Primary source (MODIS subset API).
	ModisBaseURL    string
	ModisProduct    string
	ModisBand       string
	ModisTimeout    time.Duration
	ModisMaxRetries int

	// Secondary source.
	CSVPath string

	Region    domain.Region
	DateRange domain.DateRange

	// Admission filters.
	MinNDVI      float64
	SampleStride int
	MaxPoints    int

	PredictTolerance float64
	MonthLabels      domain.MonthLabels
	RefreshInterval  time.Duration

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Kafka snapshot publishing.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

// DefaultMonthLabels matches the default July to September 2024 date range.
var DefaultMonthLabels = domain.MonthLabels{
	"07": "July 2024",
	"08": "August 2024",
	"09": "September 2024",
}

// Load reads configuration from an optional .env file and environment
// variables, applying defaults where unset.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env file", "error", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	modisTimeout, err := parsePositiveDuration("MODIS_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	refresh, err := time.ParseDuration(sharedcfg.EnvOrDefault("REFRESH_INTERVAL", "0s"))
	if err != nil || refresh < 0 {
		return nil, errors.New("invalid REFRESH_INTERVAL")
	}

	region, err := loadRegion()
	if err != nil {
		return nil, err
	}
	dates, err := loadDateRange()
	if err != nil {
		return nil, err
	}

	minNDVI, err := parseFloat("MIN_NDVI", 0.1)
	if err != nil {
		return nil, err
	}
	tolerance, err := parseFloat("PREDICT_TOLERANCE", 0.1)
	if err != nil {
		return nil, err
	}
	if tolerance <= 0 {
		return nil, errors.New("PREDICT_TOLERANCE must be positive")
	}

	stride, err := parseInt("SAMPLE_STRIDE", 1)
	if err != nil || stride < 1 {
		return nil, errors.New("invalid SAMPLE_STRIDE: must be >= 1")
	}
	maxPoints, err := parseInt("MAX_POINTS", 0)
	if err != nil || maxPoints < 0 {
		return nil, errors.New("invalid MAX_POINTS: must be >= 0")
	}
	retries, err := parseInt("MODIS_MAX_RETRIES", 2)
	if err != nil || retries < 0 {
		return nil, errors.New("invalid MODIS_MAX_RETRIES: must be >= 0")
	}

	labels := DefaultMonthLabels
	if path := os.Getenv("MONTH_LABELS_FILE"); path != "" {
		labels, err = LoadMonthLabels(path)
		if err != nil {
			return nil, err
		}
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		ModisBaseURL:    strings.TrimRight(sharedcfg.EnvOrDefault("MODIS_BASE_URL", "https://modis.ornl.gov/rst/api/v1"), "/"),
		ModisProduct:    sharedcfg.EnvOrDefault("MODIS_PRODUCT", "MOD13Q1"),
		ModisBand:       sharedcfg.EnvOrDefault("MODIS_BAND", domain.DefaultNDVIBand),
		ModisTimeout:    modisTimeout,
		ModisMaxRetries: retries,

		CSVPath: sharedcfg.EnvOrDefault("CSV_PATH", "data/modis_ndvi.csv"),

		Region:    region,
		DateRange: dates,

		MinNDVI:      minNDVI,
		SampleStride: stride,
		MaxPoints:    maxPoints,

		PredictTolerance: tolerance,
		MonthLabels:      labels,
		RefreshInterval:  refresh,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),

		KafkaEnabled: os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "ndvi-points"),
	}

	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
	}

	return cfg, nil
}

func loadRegion() (domain.Region, error) {
	lat, err := parseFloat("REGION_LAT", 52)
	if err != nil {
		return domain.Region{}, err
	}
	lng, err := parseFloat("REGION_LNG", 19)
	if err != nil {
		return domain.Region{}, err
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return domain.Region{}, errors.New("REGION_LAT/REGION_LNG out of range")
	}

	above, err := parseInt("REGION_KM_ABOVE_BELOW", 50)
	if err != nil || above < 0 {
		return domain.Region{}, errors.New("invalid REGION_KM_ABOVE_BELOW")
	}
	left, err := parseInt("REGION_KM_LEFT_RIGHT", 50)
	if err != nil || left < 0 {
		return domain.Region{}, errors.New("invalid REGION_KM_LEFT_RIGHT")
	}

	bounds, err := domain.ParseBBox(sharedcfg.EnvOrDefault("REGION_BBOX", "49.0,14.1,54.9,24.2"))
	if err != nil {
		return domain.Region{}, fmt.Errorf("invalid REGION_BBOX: %w", err)
	}

	return domain.Region{
		Center:       domain.Coordinate{Lat: lat, Lng: lng},
		KmAboveBelow: above,
		KmLeftRight:  left,
		Bounds:       bounds,
	}, nil
}

func loadDateRange() (domain.DateRange, error) {
	start, err := time.Parse(time.DateOnly, sharedcfg.EnvOrDefault("DATE_START", "2024-07-11"))
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("invalid DATE_START: %w", err)
	}
	end, err := time.Parse(time.DateOnly, sharedcfg.EnvOrDefault("DATE_END", "2024-09-29"))
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("invalid DATE_END: %w", err)
	}
	r := domain.DateRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return domain.DateRange{}, fmt.Errorf("invalid DATE_START/DATE_END: %w", err)
	}
	// Month keys carry no year, so the forecast axis is only monotonic within
	// a single calendar year.
	if start.Year() != end.Year() {
		return domain.DateRange{}, errors.New("invalid DATE_START/DATE_END: range must stay within one calendar year")
	}
	return r, nil
}

// LoadMonthLabels reads a YAML mapping of month keys to labels:
//
//	"07": July 2024
//	"08": August 2024
func LoadMonthLabels(path string) (domain.MonthLabels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read MONTH_LABELS_FILE: %w", err)
	}

	var labels domain.MonthLabels
	if err := yaml.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("parse MONTH_LABELS_FILE: %w", err)
	}
	for key := range labels {
		if _, err := domain.MonthNumber(key); err != nil {
			return nil, fmt.Errorf("MONTH_LABELS_FILE: %w", err)
		}
	}
	return labels, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(strings.TrimSpace(s))
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
