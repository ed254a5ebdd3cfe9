//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/landfall-rainfall-etl/internal/adapter/csvstore"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/adapter/datarods"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/adapter/kafka"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/config"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/domain"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/observability"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/pipeline"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const testTopic = "test-landfall-rainfall"

const seriesBody = "Metadata for Requested Time Series:\n" +
	"\n" +
	"prod_name=NLDAS_FORA0125_H_v2.0\n" +
	"param_short_name=Rainf\n" +
	"param_name=Precipitation hourly total\n" +
	"unit=kg/m^2\n" +
	"begin_time=2005-08-29T00\n" +
	"end_time=2005-08-31T00\n" +
	"lat= 29.3125\n" +
	"lon=-89.5625\n" +
	"Request_time=2024-03-01 17:02:11 GMT\n" +
	"\n" +
	"Date&Time\tData\n" +
	"1125273600\t0.5\n" +
	"1125277200\t-9999\n" +
	"1125280800\t0.25\n"

const landfalls = `,name,lat,lon,date,precip
0,KATRINA,29.3,-89.6,2005-08-29,-1
1,ANDREW,25.5,-80.3,1992-08-24,318.25
2,HUGO,32.8,-79.8,1989-09-22,
`

// publishedResult holds a deserialized message read from the results topic.
type publishedResult struct {
	Result  domain.EventResult
	Key     string
	Headers map[string]string
}

func readResult(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedResult {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from results topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var result domain.EventResult
	require.NoError(t, json.Unmarshal(msg.Value, &result), "unmarshal result message")

	return publishedResult{Result: result, Key: string(msg.Key), Headers: headers}
}

// TestBatchPublishesResults runs a full batch against a fake data rods
// service and a real broker, then reads the published results back.
func TestBatchPublishesResults(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	rods := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(seriesBody))
	}))
	t.Cleanup(rods.Close)

	dir := t.TempDir()
	cfg := &config.Config{
		DatasetPath:         filepath.Join(dir, "hurdat_temp.csv"),
		OutputPath:          filepath.Join(dir, "landfalls_precip.csv"),
		DataRodsBaseURL:     rods.URL,
		DataRodsVariable:    config.DefaultVariable,
		DataRodsTimeout:     5 * time.Second,
		DataRodsMaxAttempts: 1,
		EventWindow:         48 * time.Hour,
		GridConcurrency:     8,
		KafkaBrokers:        []string{broker},
		KafkaTopic:          testTopic,
	}
	require.NoError(t, os.WriteFile(cfg.DatasetPath, []byte(landfalls), 0o644))

	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()

	client := datarods.NewClient(cfg, metrics, logger)
	aggregator := pipeline.NewAggregator(client, pipeline.AggregatorOptions{
		Variable:    cfg.DataRodsVariable,
		Window:      cfg.EventWindow,
		Concurrency: cfg.GridConcurrency,
	}, logger, metrics)
	store := csvstore.New(cfg.DatasetPath, cfg.OutputPath, domain.DefaultColumns(), logger)
	writer := kafka.NewWriter(cfg, logger)
	t.Cleanup(func() { _ = writer.Close() })

	summary, err := pipeline.NewRunner(store, aggregator, writer, logger, metrics).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.AlreadyDone)
	assert.True(t, summary.Finalized)
	assert.Zero(t, observability.ReadValue(metrics.PublishErrors))

	final, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	checkpoint, err := os.ReadFile(cfg.DatasetPath)
	require.NoError(t, err)
	assert.Equal(t, string(checkpoint), string(final))
	assert.Contains(t, string(final), "KATRINA,29.3,-89.6,2005-08-29,48\n")

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     testTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	seen := map[string]publishedResult{}
	for range 2 {
		msg := readResult(ctx, t, consumer)
		seen[msg.Key] = msg
	}

	for _, idx := range []int{0, 2} {
		msg, ok := seen[strconv.Itoa(idx)]
		require.True(t, ok, "result for event %d not published", idx)
		assert.Equal(t, idx, msg.Result.Index)
		assert.InDelta(t, 0.75*domain.GridSize, msg.Result.Total, 1e-9)
		assert.Equal(t, domain.GridSize, msg.Result.GridPoints)
		assert.Equal(t, summary.RunID, msg.Headers["run_id"])
		assert.NotEmpty(t, msg.Headers["computed_at"])
	}
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("landfall-rainfall-test"),
	)
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	err = ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		require.NoError(t, fmt.Errorf("create topic %s: %w", topic, err))
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
