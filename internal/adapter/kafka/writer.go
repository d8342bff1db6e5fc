// Package kafka publishes facility snapshots to a Kafka sink topic.
// The sink is optional and feature-flagged via config.KafkaEnabled.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/permitwatch/permitwatch/internal/config"
	"github.com/permitwatch/permitwatch/internal/domain"
)

// Writer produces facility snapshot messages to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishBatch serializes and publishes multiple facilities in a single
// WriteMessages call for efficiency.
func (w *Writer) PublishBatch(ctx context.Context, facilities []domain.Facility) error {
	if len(facilities) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(facilities))
	for i := range facilities {
		msg, err := serializeToMessage(facilities[i])
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

// serializeToMessage marshals a Facility into a Kafka message keyed by
// NPDES ID, so all snapshots of one facility land on the same partition.
func serializeToMessage(f domain.Facility) (kafkago.Message, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize facility: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(f.NPDESID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "state", Value: []byte(f.State)},
			{Key: "synced_at", Value: []byte(f.LastSync.Format(time.RFC3339))},
		},
	}, nil
}
