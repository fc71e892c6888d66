package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the alert producer.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" json:"brokers"`
	Topic        string        `yaml:"topic" json:"topic" default:"screener.alerts"`
	RequiredAcks int           `yaml:"required_acks" json:"required_acks" default:"-1"`
	Compression  string        `yaml:"compression" json:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts" default:"3"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" default:"10s"`
	BatchTimeout time.Duration `yaml:"batch_timeout" json:"batch_timeout" default:"50ms"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes alerts as JSON records keyed by Alert.Key so
// alerts for one strategy or symbol stay on one partition.
type KafkaNotifier struct {
	w     messageWriter
	topic string
}

// NewKafkaNotifier creates a synchronous producer.
func NewKafkaNotifier(cfg KafkaConfig) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: cfg.BatchTimeout,
	}
	return &KafkaNotifier{w: w, topic: cfg.Topic}, nil
}

func (k *KafkaNotifier) Send(ctx context.Context, alert Alert) error {
	v, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("kafka: marshal: %w", err)
	}
	ts := alert.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := kafka.Message{
		Topic: k.topic,
		Key:   []byte(alert.Key),
		Value: v,
		Time:  ts,
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error { return k.w.Close() }

func parseCompression(s string) kafka.Compression {
	switch s {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}
