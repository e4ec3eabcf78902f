// v2
// internal/stream/kafka.go

// Package stream mirrors live updates onto a Kafka topic so downstream
// consumers replay the same fan-out that WebSocket subscribers see.
package stream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"moldsense/internal/monitor"
)

// KafkaConfig points the sink at a broker set and topic.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaSink publishes each live update as one Kafka message keyed by source,
// so per-source ordering survives partitioning. It satisfies
// monitor.Broadcaster.
type KafkaSink struct {
	writer *kafka.Writer
	log    *slog.Logger
}

func NewKafkaSink(cfg KafkaConfig, logger *slog.Logger) *KafkaSink {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			WriteTimeout:           cfg.WriteTimeout,
			AllowAutoTopicCreation: true,
		},
		log: logger.With(slog.String("component", "kafka_sink")),
	}
}

// Broadcast publishes the update. A publish failure is logged and reported as
// zero deliveries; it never blocks the ingestion path beyond the write
// timeout.
func (s *KafkaSink) Broadcast(ctx context.Context, update monitor.LiveUpdate) int {
	payload, err := json.Marshal(update)
	if err != nil {
		s.log.Error("kafka_marshal_failed", slog.Any("err", err))
		return 0
	}
	msg := kafka.Message{
		Key:   []byte(update.SourceID),
		Value: payload,
		Time:  time.Now(),
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.log.Error("kafka_publish_failed",
			slog.String("topic", s.writer.Topic),
			slog.Any("err", err),
		)
		return 0
	}
	return 1
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
