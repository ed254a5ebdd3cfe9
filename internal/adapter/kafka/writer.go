package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/landfall-rainfall-etl/internal/config"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces event results to a Kafka topic.
// It implements pipeline.ResultPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured results topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish writes one checkpointed result. Results for the same event share a
// key, so reruns land on the same partition.
func (w *Writer) Publish(ctx context.Context, runID string, result domain.EventResult) error {
	msg, err := serializeToMessage(runID, result)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event %d: %w", result.Index, err)
	}
	w.logger.Debug("result published", "topic", w.writer.Topic, "event_index", result.Index)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an EventResult into a Kafka message.
func serializeToMessage(runID string, result domain.EventResult) (kafkago.Message, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize event result: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(strconv.Itoa(result.Index)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(runID)},
			{Key: "computed_at", Value: []byte(result.ComputedAt.Format(time.RFC3339))},
		},
	}, nil
}
