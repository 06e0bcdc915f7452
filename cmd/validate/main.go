// Command validate checks a locally downloaded BOM archive: that it holds a
// data file, that every data file parses and normalizes, and that the rows
// are internally consistent.
//
// Usage:
//
//	go run ./cmd/validate -archive IDCJAC0009_086071_1800.zip -station 086071
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/couchcryptid/bom-stat-service/internal/archive"
	"github.com/couchcryptid/bom-stat-service/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	archivePath := flag.String("archive", "", "path to a BOM zip archive")
	station := flag.String("station", "", "expected station number (optional)")
	metric := flag.String("metric", "rainfall", "metric the archive was downloaded for")
	flag.Parse()

	if *archivePath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*archivePath, *station, *metric); code != 0 {
		os.Exit(code)
	}
}

func run(archivePath, station, metricName string) int {
	metric, err := domain.ParseMetric(metricName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	f, err := os.Open(archivePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open archive: %v\n", err)
		return 1
	}
	defer f.Close()

	fmt.Println("=== BOM Archive Validation ===")
	fmt.Println()

	layout := &phase{name: "Phase 1: Archive layout"}
	extracted, err := archive.NewExtractor("", nil, nil).Extract(context.Background(), f)
	if err != nil {
		layout.errorf("%v", err)
		return report([]*phase{layout}, 0)
	}
	defer os.RemoveAll(extracted.Dir)

	if n := len(extracted.DataFiles); n > 1 {
		layout.errorf("%d data files in archive, only %s would be used", n, filepath.Base(extracted.DataFile))
	}

	normalized, total := validateNormalize(extracted, station, metric)
	phases := []*phase{
		layout,
		normalized,
		validateRows(extracted, station),
	}
	return report(phases, total)
}

func report(phases []*phase, records int) int {
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d normalized\n", records)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 2: Normalization ──

func validateNormalize(ex domain.ExtractedArchive, station string, metric domain.Metric) (*phase, int) {
	p := &phase{name: "Phase 2: Parse and normalize"}
	total := 0

	for _, path := range ex.DataFiles {
		name := filepath.Base(path)
		records, err := domain.ParseAndNormalize(path, domain.NormalizeContext{StationNumber: station, Metric: metric})
		if err != nil {
			p.errorf("%v", err)
			continue
		}
		if len(records) == 0 {
			p.errorf("%s: no data rows", name)
		}
		total += len(records)
		for i, r := range records {
			if r.Year == nil {
				p.errorf("%s record %d: missing Year", name, i)
			}
			if r.Format == domain.FormatMonthly && (r.Data == nil || len(r.Data.Months) != 12) {
				p.errorf("%s record %d: monthly record without 12 months", name, i)
			}
		}
	}
	return p, total
}

// ── Phase 3: Row consistency ──
// Checks the station column and calendar fields of the raw tables.

func validateRows(ex domain.ExtractedArchive, station string) *phase {
	p := &phase{name: "Phase 3: Row consistency"}

	for _, path := range ex.DataFiles {
		name := filepath.Base(path)
		table, err := readTable(path)
		if err != nil {
			// Already reported by phase 2.
			continue
		}

		stationCol := findColumn(table.Columns, "station number")
		monthly := domain.DetectFormat(name) == domain.FormatMonthly

		for _, row := range table.Rows {
			if station != "" && stationCol != "" {
				if got := row.Get(stationCol); got == nil || strings.TrimSpace(*got) != station {
					p.errorf("%s line %d: station %s, want %s", name, row.Line(), deref(got), station)
				}
			}
			if monthly {
				continue
			}
			checkRange(p, name, row, "Month", 1, 12)
			checkRange(p, name, row, "Day", 1, 31)
		}
	}
	return p
}

func readTable(path string) (domain.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Table{}, err
	}
	defer f.Close()
	return domain.ParseTable(filepath.Base(path), f)
}

func findColumn(columns []string, substr string) string {
	for _, c := range columns {
		if strings.Contains(strings.ToLower(c), substr) {
			return c
		}
	}
	return ""
}

func checkRange(p *phase, name string, row domain.Row, column string, lo, hi int) {
	v := row.Get(column)
	if v == nil {
		p.errorf("%s line %d: missing %s", name, row.Line(), column)
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(*v))
	if err != nil || n < lo || n > hi {
		p.errorf("%s line %d: %s %q out of range %d-%d", name, row.Line(), column, *v, lo, hi)
	}
}

func deref(s *string) string {
	if s == nil {
		return "<null>"
	}
	return *s
}
