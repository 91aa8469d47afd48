package pipeline

import (
	"maps"
	"time"

	"github.com/couchcryptid/ndvi-forecast-service/internal/domain"
)

// dateKeys are the raw keys the normalizer accepts as the acquisition date.
var dateKeys = []string{"date", "acquisition_date", "calendar_date"}

// RecordTransformer turns raw source records into points.
type RecordTransformer struct {
	opts domain.NormalizeOptions
}

// NewTransformer creates a RecordTransformer. band selects the primary-source
// NDVI band; empty means the MOD13Q1 default.
func NewTransformer(band string) *RecordTransformer {
	return &RecordTransformer{opts: domain.NormalizeOptions{Band: band}}
}

// Transform normalizes one record. Primary records that only carry the MODIS
// ordinal date get a calendar date derived from it first.
func (t *RecordTransformer) Transform(raw domain.RawRecord, kind domain.SourceKind) (domain.Point, error) {
	if kind == domain.SourcePrimary {
		raw = withCalendarDate(raw)
	}
	return domain.NormalizeWith(raw, kind, t.opts)
}

// withCalendarDate returns raw unchanged unless it lacks a calendar date and
// has a parseable modis_date, in which case a copy with calendar_date is returned.
func withCalendarDate(raw domain.RawRecord) domain.RawRecord {
	for _, k := range dateKeys {
		if s, ok := raw[k].(string); ok && s != "" {
			return raw
		}
	}
	ord, ok := raw["modis_date"].(string)
	if !ok {
		return raw
	}
	d, err := domain.ParseOrdinal(ord)
	if err != nil {
		return raw
	}
	out := maps.Clone(raw)
	out["calendar_date"] = d.Format(time.DateOnly)
	return out
}
