// Package kafka publishes run summaries to a Kafka topic so downstream
// consumers (dashboards, alerting) can react to completed runs without
// polling the database file.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/boroughwatch/london-crime-etl/internal/config"
	"github.com/boroughwatch/london-crime-etl/internal/domain"
)

// Notifier produces one message per pipeline run.
// It implements pipeline.Notifier.
type Notifier struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the configured run-summary topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Notifier{writer: w, logger: logger}
}

// NotifyRun serializes and publishes one run summary.
func (n *Notifier) NotifyRun(ctx context.Context, result domain.RunResult) error {
	msg, err := serializeToMessage(result)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}
	n.logger.Info("run summary published", "run_id", result.RunID)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals a RunResult into a Kafka message keyed by run
// ID, with the outcome exposed as a header for consumers that filter without
// deserializing.
func serializeToMessage(result domain.RunResult) (kafkago.Message, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run summary: %w", err)
	}
	outcome := "success"
	if len(result.Errors) > 0 {
		outcome = "failed"
	}
	return kafkago.Message{
		Key:   []byte(result.RunID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "outcome", Value: []byte(outcome)},
			{Key: "finished_at", Value: []byte(result.FinishedAt.Format(time.RFC3339))},
		},
	}, nil
}
