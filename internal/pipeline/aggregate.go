package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/landfall-rainfall-etl/internal/domain"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/observability"
	"golang.org/x/sync/errgroup"
)

// SeriesFetcher retrieves the raw time series for one grid point.
type SeriesFetcher interface {
	Fetch(ctx context.Context, window domain.TimeWindow, point domain.GridPoint, variable string) (string, error)
}

// AggregatorOptions tunes an Aggregator.
type AggregatorOptions struct {
	Variable    string
	Window      time.Duration
	Concurrency int // grid points fetched at once; <= 1 is sequential
}

// Aggregator totals the positive precipitation over an event's grid.
type Aggregator struct {
	fetcher SeriesFetcher
	opts    AggregatorOptions
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewAggregator creates an Aggregator backed by fetcher.
func NewAggregator(fetcher SeriesFetcher, opts AggregatorOptions, logger *slog.Logger, metrics *observability.Metrics) *Aggregator {
	return &Aggregator{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

type pointTotal struct {
	sum      float64
	readings int
}

// Aggregate fetches every grid point around ev and sums their positive
// readings. The first fetch or parse error aborts the whole event.
func (a *Aggregator) Aggregate(ctx context.Context, ev domain.Event) (domain.EventResult, error) {
	start := time.Now()
	window := domain.NewTimeWindow(ev.Date, a.opts.Window)
	points := domain.SampleGrid(ev.Lat, ev.Lon)

	totals := make([]pointTotal, len(points))
	if err := a.fetchAll(ctx, window, points, totals); err != nil {
		return domain.EventResult{}, err
	}

	// Summed in grid order so concurrent and sequential runs agree exactly.
	var total float64
	var readings int
	for _, pt := range totals {
		total += pt.sum
		readings += pt.readings
	}

	a.metrics.EventDuration.Observe(time.Since(start).Seconds())
	a.logger.Debug("event aggregated",
		"event_index", ev.Index,
		"start", window.StartParam(),
		"end", window.EndParam(),
		"grid_points", len(points),
		"readings", readings,
		"total", total,
	)
	return domain.NewEventResult(ev, total, len(points), readings), nil
}

func (a *Aggregator) fetchAll(ctx context.Context, window domain.TimeWindow, points []domain.GridPoint, totals []pointTotal) error {
	if a.opts.Concurrency <= 1 {
		for i, p := range points {
			pt, err := a.fetchPoint(ctx, window, p)
			if err != nil {
				return err
			}
			totals[i] = pt
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, p := range points {
		g.Go(func() error {
			pt, err := a.fetchPoint(gctx, window, p)
			if err != nil {
				return err
			}
			totals[i] = pt
			return nil
		})
	}
	return g.Wait()
}

func (a *Aggregator) fetchPoint(ctx context.Context, window domain.TimeWindow, p domain.GridPoint) (pointTotal, error) {
	raw, err := a.fetcher.Fetch(ctx, window, p, a.opts.Variable)
	if err != nil {
		return pointTotal{}, fmt.Errorf("grid point (%g, %g): %w", p.Lat, p.Lon, err)
	}

	series, err := domain.ParseSeries(raw)
	if err != nil {
		return pointTotal{}, fmt.Errorf("grid point (%g, %g): %w", p.Lat, p.Lon, err)
	}

	a.metrics.GridPointsFetched.Inc()
	return pointTotal{sum: series.PositiveSum(), readings: len(series.Readings)}, nil
}
