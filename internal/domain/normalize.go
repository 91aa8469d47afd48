package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrRecordRejected is wrapped by every normalization failure.
var ErrRecordRejected = errors.New("record rejected")

// RejectReason classifies why a record failed normalization.
type RejectReason string

const (
	ReasonMissingField RejectReason = "missing_field"
	ReasonNonNumeric   RejectReason = "non_numeric"
	ReasonNonFinite    RejectReason = "non_finite"
	ReasonWrongBand    RejectReason = "wrong_band"
	ReasonBadDate      RejectReason = "bad_date"
)

// RejectError describes a rejected record.
type RejectError struct {
	Reason RejectReason
	Field  string
	Value  any
}

func (e *RejectError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s %s", ErrRecordRejected, e.Reason, e.Field)
	}
	return fmt.Sprintf("%s: %s %s (%v)", ErrRecordRejected, e.Reason, e.Field, e.Value)
}

func (e *RejectError) Unwrap() error { return ErrRecordRejected }

func reject(reason RejectReason, field string, value any) error {
	return &RejectError{Reason: reason, Field: field, Value: value}
}

// accessor names a canonical field and the raw keys that may carry it,
// highest priority first.
type accessor struct {
	field string
	keys  []string
}

var (
	latitudeField  = accessor{field: "latitude", keys: []string{"latitude", "lat", "Latitude"}}
	longitudeField = accessor{field: "longitude", keys: []string{"longitude", "lon", "lng", "Longitude"}}
	dateField      = accessor{field: "date", keys: []string{"date", "acquisition_date", "calendar_date"}}
	bandField      = accessor{field: "band", keys: []string{"band"}}

	// The subset API puts the scaled integer in "value" (older responses use a
	// "data" array); CSV exports name the column NDVI.
	primaryNDVIField   = accessor{field: "ndvi", keys: []string{"value", "data", "NDVI", "ndvi"}}
	secondaryNDVIField = accessor{field: "ndvi", keys: []string{"NDVI", "value", "ndvi"}}
)

// lookup returns the first present, non-empty value.
func (a accessor) lookup(raw RawRecord) (any, bool) {
	for _, k := range a.keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

// NormalizeOptions tunes source-specific validation.
type NormalizeOptions struct {
	// Band is the required band discriminator for primary records.
	// Empty means DefaultNDVIBand.
	Band string
}

// Normalize converts one raw record into a Point using the default options.
func Normalize(raw RawRecord, kind SourceKind) (Point, error) {
	return NormalizeWith(raw, kind, NormalizeOptions{})
}

// NormalizeWith converts one raw record into a Point. Field names are resolved
// through ordered alias lists, numeric fields are coerced to float64, and the
// NDVI value is scaled according to kind. Any failure returns a *RejectError.
func NormalizeWith(raw RawRecord, kind SourceKind, opts NormalizeOptions) (Point, error) {
	ndviField := secondaryNDVIField
	if kind == SourcePrimary {
		ndviField = primaryNDVIField
		band := opts.Band
		if band == "" {
			band = DefaultNDVIBand
		}
		v, ok := bandField.lookup(raw)
		if !ok {
			return Point{}, reject(ReasonMissingField, bandField.field, nil)
		}
		if s, _ := v.(string); s != band {
			return Point{}, reject(ReasonWrongBand, bandField.field, v)
		}
	}

	lat, err := floatField(raw, latitudeField)
	if err != nil {
		return Point{}, err
	}
	lng, err := floatField(raw, longitudeField)
	if err != nil {
		return Point{}, err
	}
	ndvi, err := floatField(raw, ndviField)
	if err != nil {
		return Point{}, err
	}
	if kind == SourcePrimary {
		ndvi /= 10000
	}

	dv, ok := dateField.lookup(raw)
	if !ok {
		return Point{}, reject(ReasonMissingField, dateField.field, nil)
	}
	ds, _ := dv.(string)
	month, err := MonthKeyFromDate(ds)
	if err != nil {
		return Point{}, reject(ReasonBadDate, dateField.field, dv)
	}

	return Point{
		Lat:      lat,
		Lng:      lng,
		NDVI:     ndvi,
		MonthKey: month,
		Source:   kind,
	}, nil
}

func floatField(raw RawRecord, a accessor) (float64, error) {
	v, ok := a.lookup(raw)
	if !ok {
		return 0, reject(ReasonMissingField, a.field, nil)
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, reject(ReasonNonNumeric, a.field, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, reject(ReasonNonFinite, a.field, v)
	}
	return f, nil
}

// toFloat coerces the value shapes produced by encoding/json and CSV readers.
// Arrays yield their first element.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case []any:
		if len(n) == 0 {
			return 0, false
		}
		return toFloat(n[0])
	default:
		return 0, false
	}
}

// MonthKeyFromDate extracts the zero-padded month from a "YYYY-MM-DD" date.
// Anything after the day (a time part) is ignored.
func MonthKeyFromDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) < len(time.DateOnly) {
		return "", fmt.Errorf("date %q too short", s)
	}
	t, err := time.Parse(time.DateOnly, s[:len(time.DateOnly)])
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", s, err)
	}
	return MonthKey(t.Month()), nil
}

// MonthKey formats a calendar month as a two-character key.
func MonthKey(m time.Month) string {
	return fmt.Sprintf("%02d", int(m))
}

// MonthNumber parses a month key back into 1..12.
func MonthNumber(key string) (int, error) {
	n, err := strconv.Atoi(key)
	if err != nil || n < 1 || n > 12 {
		return 0, fmt.Errorf("invalid month key %q", key)
	}
	return n, nil
}
