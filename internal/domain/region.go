package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BBox is an inclusive latitude/longitude rectangle.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Contains reports whether the coordinate lies inside the box, edges included.
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Validate checks coordinate ranges and corner ordering.
func (b BBox) Validate() error {
	if b.MinLat < -90 || b.MinLat > 90 || b.MaxLat < -90 || b.MaxLat > 90 {
		return errors.New("latitude out of range [-90, 90]")
	}
	if b.MinLng < -180 || b.MinLng > 180 || b.MaxLng < -180 || b.MaxLng > 180 {
		return errors.New("longitude out of range [-180, 180]")
	}
	if b.MinLat > b.MaxLat || b.MinLng > b.MaxLng {
		return errors.New("min corner must not exceed max corner")
	}
	return nil
}

// ParseBBox parses "minLat,minLng,maxLat,maxLng".
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("bbox must have 4 components, got %d", len(parts))
	}

	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("bbox component %d: %w", i, err)
		}
		vals[i] = v
	}

	b := BBox{MinLat: vals[0], MinLng: vals[1], MaxLat: vals[2], MaxLng: vals[3]}
	if err := b.Validate(); err != nil {
		return BBox{}, err
	}
	return b, nil
}

// Region is the area an ingestion run targets: the window requested from the
// primary source and the box used to filter accepted points.
type Region struct {
	Center       Coordinate `json:"center"`
	KmAboveBelow int        `json:"km_above_below"`
	KmLeftRight  int        `json:"km_left_right"`
	Bounds       BBox       `json:"bounds"`
}

// DateRange bounds the acquisition dates requested from the primary source.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate rejects zero or inverted ranges.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New("date range requires start and end")
	}
	if r.End.Before(r.Start) {
		return errors.New("date range end precedes start")
	}
	return nil
}

// OrdinalStart renders the start date as a MODIS ordinal date.
func (r DateRange) OrdinalStart() string { return FormatOrdinal(r.Start) }

// OrdinalEnd renders the end date as a MODIS ordinal date.
func (r DateRange) OrdinalEnd() string { return FormatOrdinal(r.End) }

// FormatOrdinal renders t as "AYYYYDDD".
func FormatOrdinal(t time.Time) string {
	return fmt.Sprintf("A%04d%03d", t.Year(), t.YearDay())
}

// ParseOrdinal parses "AYYYYDDD" (the leading A is optional) into a UTC date.
func ParseOrdinal(s string) (time.Time, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "A")
	if len(s) != 7 {
		return time.Time{}, fmt.Errorf("ordinal date %q: want YYYYDDD", s)
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("ordinal date %q: year: %w", s, err)
	}
	day, err := strconv.Atoi(s[4:])
	if err != nil {
		return time.Time{}, fmt.Errorf("ordinal date %q: day: %w", s, err)
	}
	t := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day-1)
	if day < 1 || t.Year() != year {
		return time.Time{}, fmt.Errorf("ordinal date %q: day %d out of range", s, day)
	}
	return t, nil
}
