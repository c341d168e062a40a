package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/dwd-ingest/internal/config"
	"github.com/couchcryptid/dwd-ingest/internal/record"
)

// Writer produces records to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		// RADOLAN grids are large.
		BatchBytes: 16 << 20,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes the records in a single WriteMessages
// call. Messages are keyed by record.Key so that re-ingesting a file
// produces the same keys.
func (w *Writer) LoadBatch(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := serializeToMessage(records[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a record into a Kafka message.
func serializeToMessage(r record.Record) (kafkago.Message, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize record: %w", err)
	}
	typ, ok := r.String(record.FieldObservationType)
	if !ok {
		typ = "alert"
	}
	source, _ := r.String(record.FieldSource)
	return kafkago.Message{
		Key:   []byte(record.Key(r)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "observation_type", Value: []byte(typ)},
			{Key: "source", Value: []byte(source)},
		},
	}, nil
}
