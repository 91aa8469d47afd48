package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ndvi",
	Short: "NDVI ingestion and forecasting service",
	Long: `Ingests monthly NDVI observations from the MODIS subset API, falling back
to a local CSV export, and forecasts NDVI per location with a fresh linear fit.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, ingestCmd, predictCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
