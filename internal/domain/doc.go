// Package domain models MODIS NDVI observations and the month-keyed index
// built from them.
//
// # Data Sources
//
// The primary source is the ORNL DAAC MODIS web service, product MOD13Q1
// (16-day composite, 250 m). A subset request is centered on a coordinate and
// spans kmAboveBelow/kmLeftRight kilometers, bounded by two ordinal dates. Each
// element of the response's "subset" array looks like:
//
//	{"modis_date":"A2024193","calendar_date":"2024-07-11",
//	 "band":"250m_16_days_NDVI","latitude":52.0,"longitude":19.0,"value":6512}
//
// The secondary source is a CSV export with a header row. Column names vary
// between exports; see [Normalize] for the accepted aliases.
//
// # NDVI Encoding
//
//	Primary:   integer scaled by 10000 (6512 -> 0.6512). Fill value -3000.
//	Secondary: already in canonical range (0.6512).
//
// The scale factor is chosen from the declared [SourceKind], never inferred
// from the magnitude of the value.
//
// # Dates
//
//	Calendar:  "YYYY-MM-DD", optionally followed by a time part.
//	Ordinal:   "AYYYYDDD" (year + day of year), e.g. "A2024193" = 2024-07-11.
//
// Points are aggregated by a two-character month key ("07"). Years are not
// part of the key, so the configured date range must stay within one
// calendar year; otherwise observations of the same calendar month would fold
// together and the month axis would wrap.
//
// # Coordinate Matching
//
// [MonthIndex.FirstWithin] matches on independent per-axis degree deltas, not
// geodesic distance. A 0.1 degree window is about 11 km north-south everywhere
// but shrinks east-west toward the poles (about 6.8 km at 52N).
package domain
