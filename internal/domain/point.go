package domain

// SourceKind identifies where a raw record came from. It decides how the
// NDVI value is scaled.
type SourceKind string

const (
	// SourcePrimary is the MODIS subset web service.
	SourcePrimary SourceKind = "modis"
	// SourceSecondary is the CSV fallback file.
	SourceSecondary SourceKind = "csv"
)

// DefaultNDVIBand is the MOD13Q1 band carrying NDVI.
const DefaultNDVIBand = "250m_16_days_NDVI"

// RawRecord is one unprocessed source record: a decoded JSON object from the
// primary source or a header-keyed CSV row from the secondary source.
type RawRecord map[string]any

// Point is a validated, normalized NDVI observation.
type Point struct {
	Lat      float64    `json:"lat" csv:"latitude"`
	Lng      float64    `json:"lng" csv:"longitude"`
	NDVI     float64    `json:"ndvi" csv:"NDVI"`
	MonthKey string     `json:"month" csv:"month"`
	Source   SourceKind `json:"source" csv:"source"`
}

// Coordinate is a WGS-84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
