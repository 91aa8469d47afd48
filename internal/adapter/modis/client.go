// Package modis fetches NDVI subsets from the ORNL DAAC MODIS web service.
package modis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/couchcryptid/ndvi-forecast-service/internal/domain"
	"github.com/couchcryptid/ndvi-forecast-service/internal/observability"
)

// Config configures the subset client.
type Config struct {
	BaseURL    string // e.g. https://modis.ornl.gov/rst/api/v1
	Product    string // e.g. MOD13Q1
	Band       string
	Timeout    time.Duration
	MaxRetries int
	// RetryInterval is the first backoff delay; zero means 500ms.
	RetryInterval time.Duration
}

// Client implements the primary NDVI source.
type Client struct {
	baseURL    string
	product    string
	band       string
	httpClient *http.Client
	backoff    BackoffConfig
	circuit    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a subset client with its own circuit breaker.
func NewClient(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	band := cfg.Band
	if band == "" {
		band = domain.DefaultNDVIBand
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "modis",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL:    cfg.BaseURL,
		product:    cfg.Product,
		band:       band,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		backoff: BackoffConfig{
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: interval,
			MaxInterval:     5 * time.Second,
		},
		circuit: cb,
		logger:  logger,
		metrics: metrics,
	}
}

// Kind reports the primary source kind; values are scaled by 10000.
func (c *Client) Kind() domain.SourceKind { return domain.SourcePrimary }

// Fetch requests the region's NDVI subset for the date range. Every failure
// is folded into a FetchFailed result.
func (c *Client) Fetch(ctx context.Context, req domain.FetchRequest) domain.FetchResult {
	start := time.Now()
	defer func() { c.metrics.ModisRequestDuration.Observe(time.Since(start).Seconds()) }()

	u := c.subsetURL(req)
	resp, err := doRequestWithResilience(ctx, c.httpClient, c.backoff, c.circuit, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		r.Header.Set("Accept", "application/json")
		return r, nil
	})
	if err != nil {
		return domain.FetchFailure(fmt.Sprintf("subset request: %v", err))
	}
	defer resp.Body.Close()

	var env envelope
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return domain.FetchFailure(fmt.Sprintf("malformed response: %v", err))
	}
	if env.Subset == nil {
		return domain.FetchFailure("malformed response: missing subset")
	}
	if len(env.Subset) == 0 {
		return domain.FetchFailure("empty subset")
	}

	records := make([]domain.RawRecord, 0, len(env.Subset))
	for _, item := range env.Subset {
		records = append(records, env.record(item))
	}
	c.logger.Debug("modis subset fetched", "records", len(records), "duration", time.Since(start))
	return domain.FetchSucceeded(records)
}

func (c *Client) subsetURL(req domain.FetchRequest) string {
	params := url.Values{
		"latitude":     {strconv.FormatFloat(req.Region.Center.Lat, 'f', -1, 64)},
		"longitude":    {strconv.FormatFloat(req.Region.Center.Lng, 'f', -1, 64)},
		"band":         {c.band},
		"startDate":    {req.DateRange.OrdinalStart()},
		"endDate":      {req.DateRange.OrdinalEnd()},
		"kmAboveBelow": {strconv.Itoa(req.Region.KmAboveBelow)},
		"kmLeftRight":  {strconv.Itoa(req.Region.KmLeftRight)},
	}
	return fmt.Sprintf("%s/%s/subset?%s", c.baseURL, url.PathEscape(c.product), params.Encode())
}

// envelope is the subset response. The service reports the pixel-center
// coordinates and band at the top level; items may repeat or omit them.
type envelope struct {
	Latitude  json.Number      `json:"latitude"`
	Longitude json.Number      `json:"longitude"`
	Band      string           `json:"band"`
	Subset    []map[string]any `json:"subset"`
}

// record copies item and fills coordinates and band from the envelope when
// the item lacks them.
func (e envelope) record(item map[string]any) domain.RawRecord {
	rec := make(domain.RawRecord, len(item)+3)
	for k, v := range item {
		rec[k] = v
	}
	if _, ok := rec["latitude"]; !ok && e.Latitude != "" {
		rec["latitude"] = e.Latitude
	}
	if _, ok := rec["longitude"]; !ok && e.Longitude != "" {
		rec["longitude"] = e.Longitude
	}
	if _, ok := rec["band"]; !ok && e.Band != "" {
		rec["band"] = e.Band
	}
	return rec
}
