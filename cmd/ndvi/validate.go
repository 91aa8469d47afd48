package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/ndvi-forecast-service/internal/adapter/csvsource"
	"github.com/couchcryptid/ndvi-forecast-service/internal/config"
	"github.com/couchcryptid/ndvi-forecast-service/internal/domain"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration and the CSV fallback file",
	Long: `Loads the configuration, then normalizes every row of the CSV fallback
file and reports accepted and rejected counts per month and reason. Exits
non-zero when the configuration is invalid or no row is usable.`,
	RunE: runValidate,
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func runValidate(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	cfgPhase := &phase{name: "config"}
	cfg, err := config.Load()
	if err != nil {
		cfgPhase.errorf("%v", err)
	}
	report(out, cfgPhase)
	if !cfgPhase.passed() {
		return errors.New("validation failed")
	}

	csvPhase := &phase{name: "csv fallback " + cfg.CSVPath}
	validateCSV(out, cfg, csvPhase)
	report(out, csvPhase)
	if !csvPhase.passed() {
		return errors.New("validation failed")
	}
	return nil
}

func validateCSV(out io.Writer, cfg *config.Config, p *phase) {
	f, err := os.Open(cfg.CSVPath)
	if err != nil {
		p.errorf("open: %v", err)
		return
	}
	defer f.Close()

	records, err := csvsource.ReadRecords(f)
	if err != nil {
		p.errorf("parse: %v", err)
		return
	}

	months := map[string]int{}
	rejected := map[string]int{}
	for _, raw := range records {
		pt, err := domain.Normalize(raw, domain.SourceSecondary)
		if err != nil {
			var re *domain.RejectError
			if errors.As(err, &re) {
				rejected[string(re.Reason)]++
			}
			continue
		}
		months[pt.MonthKey]++
	}

	fmt.Fprintf(out, "  rows: %d\n", len(records))
	for _, k := range sortedKeys(months) {
		fmt.Fprintf(out, "  month %s (%s): %d valid\n", k, cfg.MonthLabels.Label(k), months[k])
	}
	for _, k := range sortedKeys(rejected) {
		fmt.Fprintf(out, "  rejected %s: %d\n", k, rejected[k])
	}
	if len(months) == 0 {
		p.errorf("no usable rows")
	}
}

func report(out io.Writer, p *phase) {
	if p.passed() {
		fmt.Fprintf(out, "PASS %s\n", p.name)
		return
	}
	fmt.Fprintf(out, "FAIL %s\n", p.name)
	for _, e := range p.errors {
		fmt.Fprintf(out, "  - %s\n", e)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
