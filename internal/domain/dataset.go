package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Columns names the dataset columns the pipeline reads and writes.
type Columns struct {
	Lat    string
	Lon    string
	Date   string
	Precip string
}

// DefaultColumns matches the HURDAT landfall table.
func DefaultColumns() Columns {
	return Columns{Lat: "lat", Lon: "lon", Date: "date", Precip: "precip"}
}

// dateLayouts covers the date and datetime forms seen in landfall tables.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"20060102",
}

// Dataset is the working table: a header row and data rows in stored order.
// Only the precip column is ever modified.
type Dataset struct {
	header []string
	rows   [][]string
	cols   Columns

	latIdx, lonIdx, dateIdx, precipIdx int
}

// NewDataset validates the header against cols. A missing precip column is
// appended with empty (pending) cells; rows shorter than the header are padded.
func NewDataset(header []string, rows [][]string, cols Columns) (*Dataset, error) {
	ds := &Dataset{
		header: append([]string(nil), header...),
		rows:   make([][]string, len(rows)),
		cols:   cols,
	}

	var missing []string
	ds.latIdx = ds.column(cols.Lat, &missing)
	ds.lonIdx = ds.column(cols.Lon, &missing)
	ds.dateIdx = ds.column(cols.Date, &missing)
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}

	ds.precipIdx = indexOf(ds.header, cols.Precip)
	if ds.precipIdx < 0 {
		ds.header = append(ds.header, cols.Precip)
		ds.precipIdx = len(ds.header) - 1
	}

	for i, row := range rows {
		r := make([]string, len(ds.header))
		copy(r, row)
		ds.rows[i] = r
	}
	return ds, nil
}

func (ds *Dataset) column(name string, missing *[]string) int {
	i := indexOf(ds.header, name)
	if i < 0 {
		*missing = append(*missing, name)
	}
	return i
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}

// Len returns the number of data rows.
func (ds *Dataset) Len() int { return len(ds.rows) }

// Header returns a copy of the header row.
func (ds *Dataset) Header() []string { return append([]string(nil), ds.header...) }

// Columns returns the column names the dataset was built with.
func (ds *Dataset) Columns() Columns { return ds.cols }

// Row returns a copy of row i.
func (ds *Dataset) Row(i int) []string { return append([]string(nil), ds.rows[i]...) }

// Records returns the header followed by all rows, ready for a CSV writer.
func (ds *Dataset) Records() [][]string {
	out := make([][]string, 0, len(ds.rows)+1)
	out = append(out, ds.Header())
	for i := range ds.rows {
		out = append(out, ds.Row(i))
	}
	return out
}

// PrecipCell returns the raw precip cell of row i.
func (ds *Dataset) PrecipCell(i int) string { return ds.rows[i][ds.precipIdx] }

// Precip returns the precip value of row i, NaN when the cell is empty or
// not a number.
func (ds *Dataset) Precip(i int) float64 {
	return parsePrecip(ds.rows[i][ds.precipIdx])
}

// Done reports whether row i already holds a computed total.
func (ds *Dataset) Done(i int) bool {
	return Event{Precip: ds.Precip(i)}.Done()
}

// Pending counts rows that still need a total.
func (ds *Dataset) Pending() int {
	n := 0
	for i := range ds.rows {
		if !ds.Done(i) {
			n++
		}
	}
	return n
}

// SetPrecip records a computed total for row i.
func (ds *Dataset) SetPrecip(i int, total float64) error {
	if math.IsNaN(total) || total < 0 {
		return fmt.Errorf("row %d: total must be non-negative, got %v", i, total)
	}
	ds.rows[i][ds.precipIdx] = strconv.FormatFloat(total, 'f', -1, 64)
	return nil
}

// Event parses row i into an Event.
func (ds *Dataset) Event(i int) (Event, error) {
	row := ds.rows[i]
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(row[ds.latIdx]), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(row[ds.lonIdx]), 64)
	date, errDate := ParseDate(row[ds.dateIdx])
	if err := errors.Join(errLat, errLon, errDate); err != nil {
		return Event{}, fmt.Errorf("row %d: %w", i, err)
	}
	return Event{
		Index:  i,
		Lat:    lat,
		Lon:    lon,
		Date:   date,
		Precip: ds.Precip(i),
	}, nil
}

// ParseDate reads a landfall date in any of the supported layouts, as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parsePrecip(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
