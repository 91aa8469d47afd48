// Package predict forecasts NDVI at a coordinate by fitting a fresh
// per-location regression over the months in a MonthIndex.
package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/couchcryptid/ndvi-forecast-service/internal/domain"
	"github.com/couchcryptid/ndvi-forecast-service/internal/observability"
)

// MinSamples is the fewest monthly samples a fit is attempted with.
const MinSamples = 2

var (
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrPredictionFailed    = errors.New("prediction error")
)

// UnavailableError is returned when no forecast can be produced. It wraps
// ErrInsufficientHistory or ErrPredictionFailed.
type UnavailableError struct {
	Err   error
	Cause error
}

func (e *UnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("forecast unavailable: %v: %v", e.Err, e.Cause)
	}
	return fmt.Sprintf("forecast unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Reason is the short, user-facing explanation.
func (e *UnavailableError) Reason() string { return e.Err.Error() }

// Query selects the location and month to forecast.
type Query struct {
	Lat       float64
	Lng       float64
	Tolerance float64 // <= 0 uses the predictor default
	// TargetMonth is 1..12-based but not wrapped; 0 means the month after the
	// last observed one.
	TargetMonth int
}

// Forecast is a successful prediction.
type Forecast struct {
	Location    domain.Coordinate `json:"location"`
	TargetMonth int               `json:"month"`
	NDVI        float64           `json:"ndvi"`
	Samples     []Sample          `json:"samples"`
	Place       *domain.Place     `json:"place,omitempty"`
}

// Predictor builds per-query models. It holds no model state between calls.
type Predictor struct {
	trainer   Trainer
	geocoder  domain.Geocoder
	tolerance float64
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a Predictor. A nil trainer uses LinearTrainer; a nil geocoder
// disables place names.
func New(trainer Trainer, geocoder domain.Geocoder, tolerance float64, logger *slog.Logger, metrics *observability.Metrics) *Predictor {
	if trainer == nil {
		trainer = LinearTrainer{}
	}
	return &Predictor{
		trainer:   trainer,
		geocoder:  geocoder,
		tolerance: tolerance,
		logger:    logger,
		metrics:   metrics,
	}
}

// Task is an in-flight prediction.
type Task struct {
	done     chan struct{}
	forecast Forecast
	err      error
}

// Wait blocks until the prediction finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) (Forecast, error) {
	select {
	case <-t.done:
		return t.forecast, t.err
	case <-ctx.Done():
		return Forecast{}, ctx.Err()
	}
}

// Start runs a prediction against idx in its own goroutine.
func (p *Predictor) Start(ctx context.Context, idx *domain.MonthIndex, q Query) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.forecast, t.err = p.Predict(ctx, idx, q)
	}()
	return t
}

// Predict collects one sample per month within the query tolerance, fits a
// fresh model and evaluates it at the target month.
func (p *Predictor) Predict(ctx context.Context, idx *domain.MonthIndex, q Query) (Forecast, error) {
	tol := q.Tolerance
	if tol <= 0 {
		tol = p.tolerance
	}

	samples := Samples(idx, q.Lat, q.Lng, tol)
	if len(samples) < MinSamples {
		p.metrics.Predictions.WithLabelValues("insufficient_history").Inc()
		p.logger.Debug("forecast unavailable", "lat", q.Lat, "lng", q.Lng, "samples", len(samples))
		return Forecast{}, &UnavailableError{Err: ErrInsufficientHistory}
	}

	target := q.TargetMonth
	if target == 0 {
		target = samples[len(samples)-1].Month + 1
	}

	ndvi, err := p.fitAndPredict(ctx, samples, target)
	if err != nil {
		if ctx.Err() != nil {
			return Forecast{}, ctx.Err()
		}
		p.metrics.Predictions.WithLabelValues("error").Inc()
		p.logger.Warn("prediction failed", "lat", q.Lat, "lng", q.Lng, "error", err)
		return Forecast{}, &UnavailableError{Err: ErrPredictionFailed, Cause: err}
	}

	p.metrics.Predictions.WithLabelValues("ok").Inc()
	loc := domain.Coordinate{Lat: q.Lat, Lng: q.Lng}
	f := Forecast{Location: loc, TargetMonth: target, NDVI: ndvi, Samples: samples}
	if p.geocoder != nil {
		place := domain.ResolvePlace(ctx, p.geocoder, loc, p.logger)
		f.Place = &place
	}
	return f, nil
}

// fitAndPredict turns trainer panics into errors so bad input cannot take
// down the caller.
func (p *Predictor) fitAndPredict(ctx context.Context, samples []Sample, target int) (ndvi float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trainer panic: %v", r)
		}
	}()

	model, err := p.trainer.Fit(ctx, samples)
	if err != nil {
		return 0, fmt.Errorf("fit: %w", err)
	}
	ndvi, err = model.Predict(float64(target))
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	if math.IsNaN(ndvi) || math.IsInf(ndvi, 0) {
		return 0, fmt.Errorf("predict: non-finite result %v", ndvi)
	}
	return ndvi, nil
}

// Samples returns, in ascending month order, the first point of each month
// within tol of (lat, lng). The x axis is the month number alone, which is
// only monotonic in time when the index covers a single calendar year.
func Samples(idx *domain.MonthIndex, lat, lng, tol float64) []Sample {
	var out []Sample
	for _, key := range idx.Months() {
		p, ok := idx.FirstWithin(key, lat, lng, tol)
		if !ok {
			continue
		}
		month, err := domain.MonthNumber(key)
		if err != nil {
			continue
		}
		out = append(out, Sample{Month: month, NDVI: p.NDVI})
	}
	return out
}
