// Package kafka publishes fence activation changes.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/fencewatch/internal/config"
	"github.com/couchcryptid/fencewatch/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces activation change events to a Kafka topic.
// It implements evaluator.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured activation topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaActivationTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishActivation writes one event keyed by fence id, so changes to the
// same fence land on one partition in order.
func (w *Writer) PublishActivation(ctx context.Context, event domain.FenceActivationChanged) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish activation for fence %s: %w", event.FenceID, err)
	}
	w.logger.Debug("activation event published", "fence_id", event.FenceID, "is_active", event.IsActive)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an activation change into a Kafka message.
func serializeToMessage(event domain.FenceActivationChanged) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize activation event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.FenceID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "is_active", Value: []byte(strconv.FormatBool(event.IsActive))},
			{Key: "evaluated_at", Value: []byte(event.EvaluatedAt.Format(time.RFC3339))},
		},
	}, nil
}
