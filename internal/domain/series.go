package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	metadataFirstLine = 2
	metadataLineCount = 9
)

// timestampLayouts are accepted in addition to Unix seconds.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseSeries parses an asc2 data rods response into its metadata and
// hourly readings. A malformed payload yields a *ParseError.
func ParseSeries(raw string) (Series, error) {
	lines := strings.Split(raw, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}

	bodyStart := metadataFirstLine + metadataLineCount
	if len(lines) < bodyStart {
		return Series{}, &ParseError{Msg: "response shorter than the metadata header (" + strconv.Itoa(len(lines)) + " lines)"}
	}

	meta := make(map[string]string, metadataLineCount)
	for i := metadataFirstLine; i < bodyStart; i++ {
		key, value, ok := strings.Cut(lines[i], "=")
		if !ok {
			return Series{}, &ParseError{Line: i + 1, Msg: "metadata line has no '=': " + strconv.Quote(lines[i])}
		}
		meta[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	readings := make([]Reading, 0, len(lines)-bodyStart)
	headerSeen := false
	for i := bodyStart; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if !headerSeen {
			// Column titles, e.g. "Date&Time\tData".
			headerSeen = true
			continue
		}
		r, err := parseRow(line, i+1)
		if err != nil {
			return Series{}, err
		}
		readings = append(readings, r)
	}

	return Series{Metadata: meta, Readings: readings}, nil
}

func parseRow(line string, lineNum int) (Reading, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 2 {
		return Reading{}, &ParseError{Line: lineNum, Msg: "want 2 tab-separated fields, got " + strconv.Itoa(len(fields))}
	}

	ts, ok := parseTimestamp(strings.TrimSpace(fields[0]))
	if !ok {
		return Reading{}, &ParseError{Line: lineNum, Msg: "bad timestamp " + strconv.Quote(fields[0])}
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return Reading{}, &ParseError{Line: lineNum, Msg: "bad value " + strconv.Quote(fields[1])}
	}

	return Reading{Time: ts, Value: value}, nil
}

// parseTimestamp reads Unix epoch seconds, falling back to ISO-style layouts.
func parseTimestamp(s string) (time.Time, bool) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), true
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(secs) && !math.IsInf(secs, 0) {
		whole := int64(secs)
		nanos := int64((secs - float64(whole)) * float64(time.Second))
		return time.Unix(whole, nanos).UTC(), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
