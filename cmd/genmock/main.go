// Command genmock writes a synthetic NDVI CSV in the fallback file format for
// the configured region and date range. Rows follow the 16-day MOD13Q1
// composite cadence over a small grid centred on the region, with a seasonal
// curve plus seeded noise so the output is reproducible.
//
// Usage:
//
//	go run ./cmd/genmock -out data/modis_ndvi.csv -grid 3 -seed 7
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/couchcryptid/ndvi-forecast-service/internal/config"
	"github.com/couchcryptid/ndvi-forecast-service/internal/domain"
)

// compositePeriod is the MOD13Q1 compositing interval.
const compositePeriod = 16 * 24 * time.Hour

// gridStep is the spacing between generated locations in degrees.
const gridStep = 0.25

type row struct {
	Date string  `csv:"date"`
	Lat  float64 `csv:"latitude"`
	Lng  float64 `csv:"longitude"`
	NDVI float64 `csv:"NDVI"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/modis_ndvi.csv", "output CSV path")
	grid := flag.Int("grid", 3, "grid size per axis (grid x grid locations)")
	seed := flag.Uint64("seed", 7, "noise seed")
	flag.Parse()

	if *grid < 1 {
		return fmt.Errorf("grid must be >= 1, got %d", *grid)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rows := generate(cfg.Region, cfg.DateRange, *grid, rand.New(rand.NewPCG(*seed, *seed)))

	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create %s: %w", *out, err)
	}
	if err := gocsv.Marshal(rows, f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", *out, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	log.Printf("wrote %d rows to %s", len(rows), *out)
	return nil
}

func generate(region domain.Region, dates domain.DateRange, grid int, rng *rand.Rand) []row {
	half := float64(grid-1) / 2
	var rows []row
	for d := dates.Start; !d.After(dates.End); d = d.Add(compositePeriod) {
		for i := range grid {
			for j := range grid {
				lat := round(region.Center.Lat+(float64(i)-half)*gridStep, 4)
				lng := round(region.Center.Lng+(float64(j)-half)*gridStep, 4)
				if !region.Bounds.Contains(lat, lng) {
					continue
				}
				rows = append(rows, row{
					Date: d.Format(time.DateOnly),
					Lat:  lat,
					Lng:  lng,
					NDVI: round(seasonal(d)+rng.NormFloat64()*0.02, 4),
				})
			}
		}
	}
	return rows
}

// seasonal is a mid-latitude cropland curve peaking in late July.
func seasonal(t time.Time) float64 {
	day := float64(t.YearDay())
	return 0.45 + 0.25*math.Cos(2*math.Pi*(day-205)/365)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
