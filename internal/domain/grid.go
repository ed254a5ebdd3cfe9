package domain

import "time"

const (
	// GridResolution is the NLDAS-2 native spacing in degrees.
	GridResolution = 0.125

	gridMinOffset = -4
	gridMaxOffset = 3 // inclusive

	// QueryTimeLayout is the hour-granularity format the service expects.
	QueryTimeLayout = "2006-01-02T15"
)

// GridSize is the number of points SampleGrid returns.
const GridSize = (gridMaxOffset - gridMinOffset + 1) * (gridMaxOffset - gridMinOffset + 1)

// SampleGrid returns the 8x8 neighborhood around (lat, lon), latitude offset
// outer and longitude offset inner.
func SampleGrid(lat, lon float64) []GridPoint {
	points := make([]GridPoint, 0, GridSize)
	for i := gridMinOffset; i <= gridMaxOffset; i++ {
		for j := gridMinOffset; j <= gridMaxOffset; j++ {
			points = append(points, GridPoint{
				Lat:       lat + GridResolution*float64(i),
				Lon:       lon + GridResolution*float64(j),
				LatOffset: i,
				LonOffset: j,
			})
		}
	}
	return points
}

// TimeWindow is the query range for one event.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// NewTimeWindow starts at 00 UTC on date's calendar day and spans d.
func NewTimeWindow(date time.Time, d time.Duration) TimeWindow {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return TimeWindow{Start: start, End: start.Add(d)}
}

// StartParam formats the window start for the startDate query parameter.
func (w TimeWindow) StartParam() string { return w.Start.Format(QueryTimeLayout) }

// EndParam formats the window end for the endDate query parameter.
func (w TimeWindow) EndParam() string { return w.End.Format(QueryTimeLayout) }
