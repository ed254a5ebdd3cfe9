package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/landfall-rainfall-etl/internal/domain"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/observability"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

// memStore keeps the working and final datasets as plain records, copying
// on every call the way a file round trip would.
type memStore struct {
	records     [][]string
	final       [][]string
	checkpoints int
	failAfter   int // checkpoint calls allowed before failing; 0 disables
	finalizeErr error
}

func newMemStore(records [][]string) *memStore {
	return &memStore{records: copyRecords(records)}
}

func (m *memStore) Load(_ context.Context) (*domain.Dataset, error) {
	return domain.NewDataset(m.records[0], copyRecords(m.records[1:]), domain.DefaultColumns())
}

func (m *memStore) Checkpoint(_ context.Context, ds *domain.Dataset) error {
	if m.failAfter > 0 && m.checkpoints >= m.failAfter {
		return &domain.DatasetError{Op: "checkpoint", Path: "mem", Err: errors.New("disk full")}
	}
	m.checkpoints++
	m.records = ds.Records()
	return nil
}

func (m *memStore) Finalize(_ context.Context, ds *domain.Dataset) error {
	if m.finalizeErr != nil {
		return m.finalizeErr
	}
	if m.final != nil {
		return fmt.Errorf("mem final: %w", domain.ErrOutputExists)
	}
	m.final = ds.Records()
	return nil
}

func copyRecords(in [][]string) [][]string {
	out := make([][]string, len(in))
	for i, r := range in {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// mockAggregator returns index+0.5 for every event and can fail on one index.
type mockAggregator struct {
	calls  atomic.Int32
	failOn int
	err    error
	seen   []int
}

func (m *mockAggregator) Aggregate(_ context.Context, ev domain.Event) (domain.EventResult, error) {
	m.calls.Add(1)
	m.seen = append(m.seen, ev.Index)
	if m.err != nil && ev.Index == m.failOn {
		return domain.EventResult{}, m.err
	}
	return domain.NewEventResult(ev, float64(ev.Index)+0.5, domain.GridSize, 48), nil
}

type mockPublisher struct {
	runIDs  []string
	results []domain.EventResult
	err     error
}

func (m *mockPublisher) Publish(_ context.Context, runID string, result domain.EventResult) error {
	m.runIDs = append(m.runIDs, runID)
	m.results = append(m.results, result)
	return m.err
}

func landfalls(precip ...string) [][]string {
	records := [][]string{{"", "name", "lat", "lon", "date", "precip"}}
	for i, p := range precip {
		records = append(records, []string{
			fmt.Sprint(i), fmt.Sprintf("STORM%d", i), "29.3", "-89.6", "2005-08-29", p,
		})
	}
	return records
}

// --- tests ---

func TestRunner_ProcessesPendingAndFinalizes(t *testing.T) {
	store := newMemStore(landfalls("-1", "-1", "-1"))
	agg := &mockAggregator{}
	pub := &mockPublisher{}
	metrics := newTestMetrics()
	r := pipeline.NewRunner(store, agg, pub, newTestLogger(), metrics)

	require.Error(t, r.CheckReadiness(context.Background()))

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 3, summary.Rows)
	assert.Equal(t, 3, summary.Processed)
	assert.Zero(t, summary.AlreadyDone)
	assert.Zero(t, summary.Remaining)
	assert.True(t, summary.Finalized)
	require.NoError(t, r.CheckReadiness(context.Background()))

	assert.Equal(t, 3, store.checkpoints, "one checkpoint per event")
	assert.Equal(t, "0.5", store.records[1][5])
	assert.Equal(t, "2.5", store.records[3][5])
	if diff := cmp.Diff(store.records, store.final); diff != "" {
		t.Errorf("final artifact differs from checkpoint (-checkpoint +final):\n%s", diff)
	}

	require.Len(t, pub.results, 3)
	for _, id := range pub.runIDs {
		assert.Equal(t, summary.RunID, id)
	}

	assert.InDelta(t, 3, observability.ReadValue(metrics.EventsProcessed), 0)
	assert.InDelta(t, 3, observability.ReadValue(metrics.CheckpointsWritten), 0)
	assert.InDelta(t, 0, observability.ReadValue(metrics.PendingEvents), 0)
	assert.InDelta(t, 0, observability.ReadValue(metrics.RunnerActive), 0)
}

func TestRunner_SkipsDoneRows(t *testing.T) {
	store := newMemStore(landfalls("12.5", "0", "3"))
	agg := &mockAggregator{}
	metrics := newTestMetrics()
	r := pipeline.NewRunner(store, agg, nil, newTestLogger(), metrics)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, agg.calls.Load(), "done rows are never aggregated")
	assert.Zero(t, store.checkpoints)
	assert.Equal(t, 3, summary.AlreadyDone)
	assert.Zero(t, summary.Processed)
	assert.True(t, summary.Finalized)
	assert.Equal(t, "12.5", store.final[1][5])
	assert.InDelta(t, 3, observability.ReadValue(metrics.EventsSkipped), 0)
}

func TestRunner_TreatsBlankAndNegativeAsPending(t *testing.T) {
	store := newMemStore(landfalls("", "7", "-1", "n/a"))
	agg := &mockAggregator{}
	r := pipeline.NewRunner(store, agg, nil, newTestLogger(), newTestMetrics())

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2, 3}, agg.seen)
	assert.Equal(t, 1, summary.AlreadyDone)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, "7", store.records[2][5])
}

func TestRunner_AbortsOnAggregationErrorAndResumes(t *testing.T) {
	const total, failAt = 5, 3
	precip := make([]string, total)
	for i := range precip {
		precip[i] = "-1"
	}
	store := newMemStore(landfalls(precip...))

	svcErr := &domain.ServiceError{StatusCode: 500, URL: "http://rods.test", Attempts: 5}
	first := &mockAggregator{failOn: failAt, err: svcErr}
	metrics := newTestMetrics()
	r := pipeline.NewRunner(store, first, nil, newTestLogger(), metrics)

	summary, err := r.Run(context.Background())
	require.ErrorIs(t, err, svcErr, "aggregation errors surface unchanged")
	assert.Equal(t, failAt, summary.Processed)
	assert.Equal(t, total-failAt, summary.Remaining)
	assert.False(t, summary.Finalized)
	assert.Nil(t, store.final)
	assert.Equal(t, failAt, store.checkpoints)
	assert.InDelta(t, 1, observability.ReadValue(metrics.EventFailures.WithLabelValues("service")), 0)

	checkpointed := copyRecords(store.records)

	// Restart with a healthy service: only the remaining rows are fetched.
	second := &mockAggregator{}
	summary, err = pipeline.NewRunner(store, second, nil, newTestLogger(), newTestMetrics()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{3, 4}, second.seen)
	assert.Equal(t, failAt, summary.AlreadyDone)
	assert.Equal(t, total-failAt, summary.Processed)
	assert.True(t, summary.Finalized)
	for i := 1; i <= failAt; i++ {
		assert.Equal(t, checkpointed[i], store.records[i], "row %d changed after resume", i-1)
	}
	assert.Equal(t, store.records, store.final)
}

func TestRunner_CheckpointFailureStopsRun(t *testing.T) {
	store := newMemStore(landfalls("-1", "-1", "-1"))
	store.failAfter = 1
	agg := &mockAggregator{}
	r := pipeline.NewRunner(store, agg, nil, newTestLogger(), newTestMetrics())

	summary, err := r.Run(context.Background())
	require.Error(t, err)

	var dsErr *domain.DatasetError
	require.True(t, errors.As(err, &dsErr))
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, int32(2), agg.calls.Load())
	assert.Equal(t, "0.5", store.records[1][5])
	assert.Equal(t, "-1", store.records[2][5])
}

func TestRunner_ExistingFinalOutputIsLeftAlone(t *testing.T) {
	store := newMemStore(landfalls("1", "2"))
	store.final = [][]string{{"sentinel"}}
	r := pipeline.NewRunner(store, &mockAggregator{}, nil, newTestLogger(), newTestMetrics())

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Finalized)
	assert.Equal(t, [][]string{{"sentinel"}}, store.final)
}

func TestRunner_FinalizeError(t *testing.T) {
	store := newMemStore(landfalls("1"))
	store.finalizeErr = &domain.DatasetError{Op: "finalize", Path: "mem", Err: errors.New("read-only")}
	r := pipeline.NewRunner(store, &mockAggregator{}, nil, newTestLogger(), newTestMetrics())

	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, store.finalizeErr)
}

func TestRunner_PublishFailureIsNotFatal(t *testing.T) {
	store := newMemStore(landfalls("-1", "-1"))
	pub := &mockPublisher{err: errors.New("broker down")}
	metrics := newTestMetrics()
	r := pipeline.NewRunner(store, &mockAggregator{}, pub, newTestLogger(), metrics)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.True(t, summary.Finalized)
	assert.InDelta(t, 2, observability.ReadValue(metrics.PublishErrors), 0)
}

func TestRunner_MalformedRowIsDatasetError(t *testing.T) {
	records := landfalls("-1", "-1")
	records[2][2] = "north"
	store := newMemStore(records)
	agg := &mockAggregator{}
	r := pipeline.NewRunner(store, agg, nil, newTestLogger(), newTestMetrics())

	summary, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, "dataset", domain.ErrorKind(err))
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, "0.5", store.records[1][5])
}

func TestRunner_StopsWhenContextCanceled(t *testing.T) {
	store := newMemStore(landfalls("-1", "-1"))
	agg := &mockAggregator{}
	r := pipeline.NewRunner(store, agg, nil, newTestLogger(), newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, agg.calls.Load())
	assert.Nil(t, store.final)
}

func TestRunner_LoadError(t *testing.T) {
	store := newMemStore([][]string{{"name", "date"}})
	r := pipeline.NewRunner(store, &mockAggregator{}, nil, newTestLogger(), newTestMetrics())

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Error(t, r.CheckReadiness(context.Background()))
}

func TestRunner_EndToEndWithAggregator(t *testing.T) {
	fetcher := &mockFetcher{body: func(domain.GridPoint) (string, error) {
		return seriesBody(0.5, -9999, 0.25), nil
	}}
	agg := pipeline.NewAggregator(fetcher, pipeline.AggregatorOptions{Window: 48 * time.Hour, Concurrency: 4}, newTestLogger(), newTestMetrics())
	store := newMemStore(landfalls("-1", "9"))

	summary, err := pipeline.NewRunner(store, agg, nil, newTestLogger(), newTestMetrics()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, int32(domain.GridSize), fetcher.calls.Load())
	assert.Equal(t, "48", store.records[1][5])
	assert.Equal(t, "9", store.records[2][5])
}

func TestRunner_StatusTracksProgress(t *testing.T) {
	store := newMemStore(landfalls("5", "-1"))
	r := pipeline.NewRunner(store, &mockAggregator{}, nil, newTestLogger(), newTestMetrics())
	assert.Empty(t, r.Status().RunID)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, summary, r.Status())
}
