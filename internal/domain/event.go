package domain

import (
	"math"
	"time"
)

// Event is the landfall view of one dataset row.
type Event struct {
	Index  int       // position in the dataset, 0-based
	Lat    float64   // degrees north
	Lon    float64   // degrees east
	Date   time.Time // landfall date, UTC
	Precip float64   // NaN or negative while pending
}

// Done reports whether the event already holds a computed rainfall total.
func (e Event) Done() bool {
	return !math.IsNaN(e.Precip) && e.Precip >= 0
}

// GridPoint is one sampled coordinate near an event.
type GridPoint struct {
	Lat       float64
	Lon       float64
	LatOffset int // multiples of GridResolution
	LonOffset int
}

// Reading is one hourly value from a time series.
type Reading struct {
	Time  time.Time
	Value float64
}

// Series is a parsed data rods response.
type Series struct {
	Metadata map[string]string
	Readings []Reading
}

// PositiveSum totals the strictly positive readings. Zero and negative values
// are no-rain or fill values and are skipped.
func (s Series) PositiveSum() float64 {
	var total float64
	for _, r := range s.Readings {
		if r.Value > 0 {
			total += r.Value
		}
	}
	return total
}

// EventResult is the aggregated rainfall for one event.
type EventResult struct {
	Index      int       `json:"index"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Date       time.Time `json:"date"`
	Total      float64   `json:"total"`
	GridPoints int       `json:"grid_points"`
	Readings   int       `json:"readings"`
	ComputedAt time.Time `json:"computed_at"`
}

// NewEventResult builds a result for ev stamped with the package clock.
func NewEventResult(ev Event, total float64, gridPoints, readings int) EventResult {
	return EventResult{
		Index:      ev.Index,
		Lat:        ev.Lat,
		Lon:        ev.Lon,
		Date:       ev.Date,
		Total:      total,
		GridPoints: gridPoints,
		Readings:   readings,
		ComputedAt: clock.Now().UTC(),
	}
}
