// Command validate checks a finished landfall rainfall run: the final CSV
// artifact must exist, match the working checkpoint row for row, and carry a
// usable rainfall total on every event.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -dataset data/hurdat_temp.csv \
//	  -output data/landfalls_precip.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"

	"github.com/couchcryptid/landfall-rainfall-etl/internal/adapter/csvstore"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/domain"
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
	datasetPath := flag.String("dataset", "data/hurdat_temp.csv", "working checkpoint CSV")
	outputPath := flag.String("output", "data/landfalls_precip.csv", "final artifact CSV")
	latCol := flag.String("lat", "lat", "latitude column")
	lonCol := flag.String("lon", "lon", "longitude column")
	dateCol := flag.String("date", "date", "landfall date column")
	precipCol := flag.String("precip", "precip", "rainfall total column")
	flag.Parse()

	cols := domain.Columns{Lat: *latCol, Lon: *lonCol, Date: *dateCol, Precip: *precipCol}
	if code := run(os.Stdout, *datasetPath, *outputPath, cols); code != 0 {
		os.Exit(code)
	}
}

func run(out io.Writer, datasetPath, outputPath string, cols domain.Columns) int {
	fmt.Fprintln(out, "=== Landfall Rainfall Validation ===")
	fmt.Fprintln(out)

	checkpoint, err := load(datasetPath, cols)
	if err != nil {
		fmt.Fprintf(out, "FATAL: load checkpoint: %v\n", err)
		return 1
	}
	final, err := load(outputPath, cols)
	if err != nil {
		fmt.Fprintf(out, "FATAL: load final artifact: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateParity(checkpoint, final),
		validateCompleteness(final),
		validateEvents(final),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Records: %d checkpoint, %d final, %d pending\n",
		checkpoint.Len(), final.Len(), final.Pending())

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

func load(path string, cols domain.Columns) (*domain.Dataset, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return csvstore.New(path, "", cols, logger).Load(context.Background())
}

// ── Phase 1: Parity ──
// The final artifact is the last checkpoint, unchanged.

func validateParity(checkpoint, final *domain.Dataset) *phase {
	p := &phase{name: "Phase 1: Parity (final vs checkpoint)"}

	if !slices.Equal(checkpoint.Header(), final.Header()) {
		p.errorf("header mismatch: checkpoint=%q, final=%q", checkpoint.Header(), final.Header())
		return p
	}
	if checkpoint.Len() != final.Len() {
		p.errorf("row count: checkpoint has %d, final has %d", checkpoint.Len(), final.Len())
		return p
	}
	for i := range final.Len() {
		if !slices.Equal(checkpoint.Row(i), final.Row(i)) {
			p.errorf("row %d differs: checkpoint=%q, final=%q", i, checkpoint.Row(i), final.Row(i))
		}
	}
	return p
}

// ── Phase 2: Completeness ──
// Every event carries a finite, non-negative total.

func validateCompleteness(final *domain.Dataset) *phase {
	p := &phase{name: "Phase 2: Completeness (rainfall totals)"}
	for i := range final.Len() {
		v := final.Precip(i)
		switch {
		case math.IsNaN(v):
			p.errorf("row %d: precip %q is not a number", i, final.PrecipCell(i))
		case math.IsInf(v, 0):
			p.errorf("row %d: precip is infinite", i)
		case v < 0:
			p.errorf("row %d: precip %g is negative (still pending)", i, v)
		}
	}
	return p
}

// ── Phase 3: Events ──
// Coordinates and dates are usable as data rods queries.

func validateEvents(final *domain.Dataset) *phase {
	p := &phase{name: "Phase 3: Events (coordinates and dates)"}
	for i := range final.Len() {
		ev, err := final.Event(i)
		if err != nil {
			p.errorf("%v", err)
			continue
		}
		if ev.Lat < -90 || ev.Lat > 90 {
			p.errorf("row %d: latitude %g out of range", i, ev.Lat)
		}
		if ev.Lon < -180 || ev.Lon > 180 {
			p.errorf("row %d: longitude %g out of range", i, ev.Lon)
		}
	}
	return p
}
