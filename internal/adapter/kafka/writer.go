package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/bom-stat-service/internal/config"
	"github.com/couchcryptid/bom-stat-service/internal/domain"
	"github.com/couchcryptid/bom-stat-service/internal/observability"
)

// Writer produces normalized records to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer  *kafkago.Writer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &Writer{writer: w, logger: logger, metrics: metrics}
}

// Publish writes one message per record of the batch in a single
// WriteMessages call. Records with the same key land on the same partition.
func (w *Writer) Publish(ctx context.Context, batch domain.Batch) error {
	if len(batch.Records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(batch.Records))
	for i := range batch.Records {
		msg, err := serializeToMessage(batch, batch.Records[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d records: %w", len(msgs), err)
	}
	w.metrics.RecordsPublished.Add(float64(len(msgs)))
	w.logger.Debug("batch published", "request_id", batch.ID, "records", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// recordKey joins station, year, month and day with "|". Absent parts are empty.
func recordKey(r domain.Record) string {
	return strings.Join([]string{r.Station, deref(r.Year), deref(r.Month), deref(r.Day)}, "|")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// serializeToMessage marshals a record into a Kafka message carrying the
// batch context as headers.
func serializeToMessage(batch domain.Batch, record domain.Record) (kafkago.Message, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize record: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(recordKey(record)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "granularity", Value: []byte(batch.Request.Granularity)},
			{Key: "metric", Value: []byte(batch.Request.Metric)},
			{Key: "request_id", Value: []byte(batch.ID)},
			{Key: "fetched_at", Value: []byte(batch.FetchedAt.Format(time.RFC3339))},
		},
	}, nil
}
