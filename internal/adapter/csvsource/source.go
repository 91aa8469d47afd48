// Package csvsource reads NDVI records from a header-keyed CSV file, the
// fallback when the MODIS subset API is unavailable.
package csvsource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gocarina/gocsv"

	"github.com/couchcryptid/ndvi-forecast-service/internal/domain"
)

// Source loads raw records from a CSV file on every fetch.
type Source struct {
	path   string
	logger *slog.Logger
}

// New returns a Source for the file at path.
func New(path string, logger *slog.Logger) *Source {
	return &Source{path: path, logger: logger}
}

// Kind reports the secondary source kind; NDVI values are used unscaled.
func (s *Source) Kind() domain.SourceKind { return domain.SourceSecondary }

// Fetch reads the whole file. An unreadable or malformed file yields a failed
// result; a header-only file yields an OK result with no records.
func (s *Source) Fetch(ctx context.Context, _ domain.FetchRequest) domain.FetchResult {
	if err := ctx.Err(); err != nil {
		return domain.FetchFailure(err.Error())
	}

	f, err := os.Open(s.path)
	if err != nil {
		return domain.FetchFailure(fmt.Sprintf("open csv: %v", err))
	}
	defer f.Close()

	records, err := ReadRecords(f)
	if err != nil {
		return domain.FetchFailure(err.Error())
	}
	s.logger.Debug("csv source loaded", "path", s.path, "records", len(records))
	return domain.FetchSucceeded(records)
}

// ReadRecords parses CSV with a header row into one RawRecord per data row,
// keyed by column name. Values stay strings; the normalizer coerces them.
func ReadRecords(r io.Reader) ([]domain.RawRecord, error) {
	rows, err := gocsv.CSVToMaps(r)
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	records := make([]domain.RawRecord, 0, len(rows))
	for _, row := range rows {
		rec := make(domain.RawRecord, len(row))
		for k, v := range row {
			rec[k] = v
		}
		records = append(records, rec)
	}
	return records, nil
}

// WritePoints writes points as CSV with a header row.
func WritePoints(w io.Writer, points []domain.Point) error {
	if err := gocsv.Marshal(points, w); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}
