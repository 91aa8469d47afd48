package domain

import (
	"context"
	"log/slog"
)

// Place is the display name attached to a forecast location.
type Place struct {
	Name       string  `json:"name,omitempty"`
	Address    string  `json:"address,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Source     string  `json:"source"` // "reverse", "none", "failed"
}

// ResolvePlace reverse-geocodes a coordinate. A nil geocoder or a failed
// lookup degrades to a Place without a name.
func ResolvePlace(ctx context.Context, geocoder Geocoder, c Coordinate, logger *slog.Logger) Place {
	if geocoder == nil {
		return Place{Source: "none"}
	}

	result, err := geocoder.ReverseGeocode(ctx, c.Lat, c.Lng)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"lat", c.Lat,
			"lng", c.Lng,
			"error", err,
		)
		return Place{Source: "failed"}
	}
	if result.FormattedAddress == "" {
		return Place{Source: "none"}
	}
	return Place{
		Name:       result.PlaceName,
		Address:    result.FormattedAddress,
		Confidence: result.Confidence,
		Source:     "reverse",
	}
}
