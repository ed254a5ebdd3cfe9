package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/landfall-rainfall-etl/internal/domain"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/observability"
	"github.com/google/uuid"
)

// DatasetStore is the durable home of the working dataset.
type DatasetStore interface {
	// Load reads the working dataset.
	Load(ctx context.Context) (*domain.Dataset, error)

	// Checkpoint overwrites the working dataset with ds.
	Checkpoint(ctx context.Context, ds *domain.Dataset) error

	// Finalize writes the final artifact once. It returns an error wrapping
	// domain.ErrOutputExists if the artifact is already there.
	Finalize(ctx context.Context, ds *domain.Dataset) error
}

// EventAggregator computes the rainfall total for one event.
type EventAggregator interface {
	Aggregate(ctx context.Context, ev domain.Event) (domain.EventResult, error)
}

// ResultPublisher announces checkpointed results downstream.
type ResultPublisher interface {
	Publish(ctx context.Context, runID string, result domain.EventResult) error
}

// Summary describes one batch run.
type Summary struct {
	RunID       string `json:"run_id"`
	Rows        int    `json:"rows"`
	AlreadyDone int    `json:"already_done"`
	Processed   int    `json:"processed"`
	Remaining   int    `json:"remaining"`
	Finalized   bool   `json:"finalized"`
}

// Runner walks the dataset in stored order, aggregates every pending event,
// and checkpoints after each one. It is safe to rerun after any failure.
type Runner struct {
	store      DatasetStore
	aggregator EventAggregator
	publisher  ResultPublisher
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool

	mu       sync.Mutex
	progress Summary
}

// NewRunner creates a Runner. publisher may be nil.
func NewRunner(store DatasetStore, aggregator EventAggregator, publisher ResultPublisher, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		store:      store,
		aggregator: aggregator,
		publisher:  publisher,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil once the dataset has been loaded.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("dataset not loaded yet")
	}
	return nil
}

// Status returns a snapshot of the current or most recent run.
func (r *Runner) Status() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

func (r *Runner) report(s Summary) {
	r.mu.Lock()
	r.progress = s
	r.mu.Unlock()
}

// Run processes every pending event. An aggregation error stops the run and
// is returned as is; rows completed before it are already checkpointed.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: uuid.NewString()}
	logger := r.logger.With("run_id", summary.RunID)
	r.report(summary)

	r.metrics.RunnerActive.Set(1)
	defer r.metrics.RunnerActive.Set(0)

	ds, err := r.store.Load(ctx)
	if err != nil {
		return summary, err
	}
	r.ready.Store(true)

	summary.Rows = ds.Len()
	summary.Remaining = ds.Pending()
	r.metrics.PendingEvents.Set(float64(summary.Remaining))
	r.report(summary)
	logger.Info("batch started", "rows", summary.Rows, "pending", summary.Remaining)

	for i := range ds.Len() {
		if err := ctx.Err(); err != nil {
			logger.Info("batch stopping", "reason", err, "processed", summary.Processed)
			return summary, err
		}

		ev, err := ds.Event(i)
		if err != nil {
			r.metrics.EventFailures.WithLabelValues("dataset").Inc()
			return summary, &domain.DatasetError{Op: "read row", Path: fmt.Sprintf("row %d", i), Err: err}
		}
		if ev.Done() {
			summary.AlreadyDone++
			r.metrics.EventsSkipped.Inc()
			r.report(summary)
			continue
		}

		if err := r.processEvent(ctx, logger, summary.RunID, ds, ev); err != nil {
			return summary, err
		}
		summary.Processed++
		summary.Remaining--
		r.metrics.PendingEvents.Set(float64(summary.Remaining))
		r.report(summary)
	}

	finalized, err := r.finalize(ctx, logger, ds)
	if err != nil {
		return summary, err
	}
	summary.Finalized = finalized
	r.report(summary)

	logger.Info("batch complete",
		"rows", summary.Rows,
		"already_done", summary.AlreadyDone,
		"processed", summary.Processed,
		"finalized", summary.Finalized,
	)
	return summary, nil
}

func (r *Runner) processEvent(ctx context.Context, logger *slog.Logger, runID string, ds *domain.Dataset, ev domain.Event) error {
	start := time.Now()
	logger.Info("aggregating event",
		"event_index", ev.Index,
		"lat", ev.Lat,
		"lon", ev.Lon,
		"date", ev.Date.Format(time.DateOnly),
	)

	result, err := r.aggregator.Aggregate(ctx, ev)
	if err != nil {
		kind := domain.ErrorKind(err)
		r.metrics.EventFailures.WithLabelValues(kind).Inc()
		logger.Error("event aggregation failed",
			"event_index", ev.Index,
			"error_kind", kind,
			"error", err,
		)
		return err
	}

	if err := ds.SetPrecip(ev.Index, result.Total); err != nil {
		return fmt.Errorf("event %d: %w", ev.Index, err)
	}
	if err := r.store.Checkpoint(ctx, ds); err != nil {
		r.metrics.EventFailures.WithLabelValues("dataset").Inc()
		return err
	}
	r.metrics.CheckpointsWritten.Inc()
	r.metrics.EventsProcessed.Inc()

	logger.Info("event checkpointed",
		"event_index", ev.Index,
		"total", result.Total,
		"readings", result.Readings,
		"duration", time.Since(start),
	)

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, runID, result); err != nil {
			r.metrics.PublishErrors.Inc()
			logger.Warn("publish result failed", "event_index", ev.Index, "error", err)
		}
	}
	return nil
}

// finalize writes the final artifact when nothing is pending. An existing
// artifact is left untouched.
func (r *Runner) finalize(ctx context.Context, logger *slog.Logger, ds *domain.Dataset) (bool, error) {
	if pending := ds.Pending(); pending > 0 {
		logger.Warn("pending events remain, final output not written", "pending", pending)
		return false, nil
	}

	err := r.store.Finalize(ctx, ds)
	switch {
	case errors.Is(err, domain.ErrOutputExists):
		logger.Warn("final output already exists, leaving it untouched", "error", err)
		return false, nil
	case err != nil:
		return false, err
	}
	logger.Info("final output written", "rows", ds.Len())
	return true, nil
}
