package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/ndvi-forecast-service/internal/domain"
	"github.com/couchcryptid/ndvi-forecast-service/internal/pipeline"
	"github.com/couchcryptid/ndvi-forecast-service/internal/predict"
)

var validate = validator.New()

// IndexReader returns the current month index snapshot.
type IndexReader interface {
	Current() *domain.MonthIndex
}

// Forecaster starts prediction tasks.
type Forecaster interface {
	Start(ctx context.Context, idx *domain.MonthIndex, q predict.Query) *predict.Task
}

// IngestRunner performs an ingestion run and commits its result.
type IngestRunner interface {
	Run(ctx context.Context, req domain.FetchRequest) pipeline.Report
}

// API serves month listings, point lookups, forecasts and ingestion triggers.
type API struct {
	index      IndexReader
	forecaster Forecaster
	ingestor   IngestRunner
	request    domain.FetchRequest
	labels     domain.MonthLabels
	logger     *slog.Logger
}

// NewAPI wires the handlers. ingestor may be nil to disable POST /api/v1/ingest.
func NewAPI(index IndexReader, forecaster Forecaster, ingestor IngestRunner, req domain.FetchRequest, labels domain.MonthLabels, logger *slog.Logger) *API {
	return &API{
		index:      index,
		forecaster: forecaster,
		ingestor:   ingestor,
		request:    req,
		labels:     labels,
		logger:     logger,
	}
}

func (a *API) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/months", a.handleMonths)
	mux.HandleFunc("GET /api/v1/months/{month}", a.handleMonth)
	mux.HandleFunc("GET /api/v1/predict", a.handlePredict)
	if a.ingestor != nil {
		mux.HandleFunc("POST /api/v1/ingest", a.handleIngest)
	}
}

type monthSummary struct {
	Month string `json:"month"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

func (a *API) handleMonths(w http.ResponseWriter, _ *http.Request) {
	idx := a.index.Current()
	out := make([]monthSummary, 0, len(idx.Months()))
	for _, m := range idx.Months() {
		out = append(out, monthSummary{Month: m, Label: a.labels.Label(m), Count: idx.Count(m)})
	}
	writeJSON(w, http.StatusOK, out)
}

type monthPoints struct {
	Month  string         `json:"month"`
	Label  string         `json:"label"`
	Points []domain.Point `json:"points"`
}

func (a *API) handleMonth(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("month")
	if _, err := domain.MonthNumber(key); err != nil || len(key) != 2 {
		writeError(w, http.StatusBadRequest, "month must be a two-digit key such as 07")
		return
	}

	points := a.index.Current().Get(key)
	if points == nil {
		points = []domain.Point{}
	}
	writeJSON(w, http.StatusOK, monthPoints{Month: key, Label: a.labels.Label(key), Points: points})
}

// predictQuery holds the validated query parameters of GET /api/v1/predict.
type predictQuery struct {
	Lat       float64 `validate:"gte=-90,lte=90"`
	Lng       float64 `validate:"gte=-180,lte=180"`
	Tolerance float64 `validate:"gte=0,lte=5"`
	Month     int     `validate:"gte=0,lte=24"`
}

func parsePredictQuery(r *http.Request) (predictQuery, error) {
	var q predictQuery
	values := r.URL.Query()

	if values.Get("lat") == "" || values.Get("lng") == "" {
		return q, errors.New("lat and lng query parameters are required")
	}

	var err error
	if q.Lat, err = strconv.ParseFloat(values.Get("lat"), 64); err != nil {
		return q, fmt.Errorf("invalid lat: %w", err)
	}
	if q.Lng, err = strconv.ParseFloat(values.Get("lng"), 64); err != nil {
		return q, fmt.Errorf("invalid lng: %w", err)
	}
	if s := values.Get("tolerance"); s != "" {
		if q.Tolerance, err = strconv.ParseFloat(s, 64); err != nil {
			return q, fmt.Errorf("invalid tolerance: %w", err)
		}
	}
	if s := values.Get("month"); s != "" {
		if q.Month, err = strconv.Atoi(s); err != nil {
			return q, fmt.Errorf("invalid month: %w", err)
		}
	}

	if err := validate.Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

type predictResponse struct {
	Available bool             `json:"available"`
	Reason    string           `json:"reason,omitempty"`
	NDVI      *float64         `json:"ndvi,omitempty"`
	Month     int              `json:"month,omitempty"`
	Label     string           `json:"label,omitempty"`
	Samples   []predict.Sample `json:"samples,omitempty"`
	Place     *domain.Place    `json:"place,omitempty"`
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	q, err := parsePredictQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task := a.forecaster.Start(r.Context(), a.index.Current(), predict.Query{
		Lat:         q.Lat,
		Lng:         q.Lng,
		Tolerance:   q.Tolerance,
		TargetMonth: q.Month,
	})
	f, err := task.Wait(r.Context())
	if err != nil {
		var unavailable *predict.UnavailableError
		if errors.As(err, &unavailable) {
			writeJSON(w, http.StatusOK, predictResponse{Available: false, Reason: unavailable.Reason()})
			return
		}
		a.logger.Warn("predict request aborted", "error", err)
		writeError(w, http.StatusServiceUnavailable, "prediction aborted")
		return
	}

	ndvi := f.NDVI
	writeJSON(w, http.StatusOK, predictResponse{
		Available: true,
		NDVI:      &ndvi,
		Month:     f.TargetMonth,
		Label:     a.labels.Label(domain.MonthKey(monthOf(f.TargetMonth))),
		Samples:   f.Samples,
		Place:     f.Place,
	})
}

// monthOf maps an unwrapped target month (13 = next January) into 1..12.
func monthOf(n int) time.Month {
	return time.Month((n-1)%12 + 1)
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	rep := a.ingestor.Run(r.Context(), a.request)
	writeJSON(w, http.StatusOK, rep)
}
