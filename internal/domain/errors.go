package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrOutputExists is returned by a store's Finalize when the final artifact
// has already been written.
var ErrOutputExists = errors.New("final output already exists")

// ServiceError reports a data rods request that kept failing after all
// attempts. StatusCode is 0 when no HTTP response was received.
type ServiceError struct {
	StatusCode int
	URL        string
	Body       string
	Attempts   int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("data rods request failed after %d attempts (url %s): %v", e.Attempts, e.URL, e.Err)
	}
	return fmt.Sprintf("data rods error code %d after %d attempts (url %s): %s", e.StatusCode, e.Attempts, e.URL, e.Body)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// ParseError reports a response that does not match the asc2 layout.
// Line is 1-based; 0 means the payload as a whole.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return "parse time series: " + e.Msg
	}
	return fmt.Sprintf("parse time series: line %d: %s", e.Line, e.Msg)
}

// DatasetError reports a failure to read or write durable storage.
type DatasetError struct {
	Op   string // load, checkpoint, finalize
	Path string
	Err  error
}

func (e *DatasetError) Error() string {
	return fmt.Sprintf("dataset %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DatasetError) Unwrap() error { return e.Err }

// ErrorKind classifies err for logs and metrics labels.
func ErrorKind(err error) string {
	var (
		svcErr   *ServiceError
		parseErr *ParseError
		dataErr  *DatasetError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &svcErr):
		return "service"
	case errors.As(err, &dataErr):
		return "dataset"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
