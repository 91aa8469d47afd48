package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/ndvi-forecast-service/internal/adapter/csvsource"
	"github.com/couchcryptid/ndvi-forecast-service/internal/config"
	"github.com/couchcryptid/ndvi-forecast-service/internal/domain"
	"github.com/couchcryptid/ndvi-forecast-service/internal/observability"
	"github.com/couchcryptid/ndvi-forecast-service/internal/pipeline"
)

var ingestOut string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion and print its report",
	Long: `Runs a single ingestion against the configured sources and prints the run
report as JSON. With --out, the accepted points are also written as CSV.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestOut, "out", "o", "", "write accepted points to this CSV file")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLoggerTo(cmd.ErrOrStderr(), cfg)
	metrics := observability.NewMetrics()

	store := pipeline.NewStore()
	rep := newIngestor(cfg, store, logger, metrics).Run(cmd.Context(), fetchRequest(cfg))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if ingestOut != "" {
		if err := exportPoints(ingestOut, store.Current()); err != nil {
			return err
		}
		logger.Info("points exported", "path", ingestOut, "points", store.Current().Len())
	}
	return nil
}

func exportPoints(path string, idx *domain.MonthIndex) error {
	points := make([]domain.Point, 0, idx.Len())
	for _, m := range idx.Months() {
		points = append(points, idx.Get(m)...)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := csvsource.WritePoints(f, points); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
