package predict

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Sample is one (month, NDVI) observation at the query location.
type Sample struct {
	Month int     `json:"month"`
	NDVI  float64 `json:"ndvi"`
}

// Model is a fitted month -> NDVI function.
type Model interface {
	Predict(month float64) (float64, error)
}

// Trainer fits a Model to samples. Each call must return an independent model.
type Trainer interface {
	Fit(ctx context.Context, samples []Sample) (Model, error)
}

// LinearTrainer fits ordinary least squares on min-max scaled months.
type LinearTrainer struct{}

// Fit implements Trainer.
func (LinearTrainer) Fit(ctx context.Context, samples []Sample) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(samples) < 2 {
		return nil, fmt.Errorf("linear fit needs 2 samples, got %d", len(samples))
	}

	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = float64(s.Month)
		ys[i] = s.NDVI
	}

	lo, hi := floats.Min(xs), floats.Max(xs)
	if hi == lo {
		return nil, errors.New("linear fit needs at least two distinct months")
	}
	scaled := make([]float64, len(xs))
	for i, x := range xs {
		scaled[i] = (x - lo) / (hi - lo)
	}

	alpha, beta := stat.LinearRegression(scaled, ys, nil, false)
	if math.IsNaN(alpha) || math.IsNaN(beta) {
		return nil, errors.New("linear fit produced NaN coefficients")
	}
	return &linearModel{alpha: alpha, beta: beta, lo: lo, span: hi - lo}, nil
}

type linearModel struct {
	alpha, beta float64
	lo, span    float64
}

func (m *linearModel) Predict(month float64) (float64, error) {
	y := m.alpha + m.beta*(month-m.lo)/m.span
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("prediction for month %v is not finite", month)
	}
	return y, nil
}
