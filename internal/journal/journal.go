// Package journal publishes a record of every alert that reached TheHive to
// a Kafka topic, for downstream consumers that want the forwarding history.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"elastic-hive-sync/internal/config"
)

// Record is the JSON value of one journal message.
type Record struct {
	SourceID    string    `json:"source_id"`
	SourceRef   string    `json:"source_ref"`
	Outcome     string    `json:"outcome"`
	Rule        string    `json:"rule"`
	CycleID     string    `json:"cycle_id"`
	ForwardedAt time.Time `json:"forwarded_at"`
}

type Journal interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// New returns a Kafka journal, or a no-op one when no brokers are configured.
func New(cfg config.JournalConfig) Journal {
	if len(cfg.Brokers) == 0 {
		return Nop{}
	}
	return NewKafka(cfg)
}

type Nop struct{}

func (Nop) Publish(context.Context, Record) error { return nil }
func (Nop) Close() error                          { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes records keyed by source ID so all records for one alert
// land on the same partition.
type Kafka struct {
	writer  messageWriter
	timeout time.Duration
	logger  *slog.Logger
}

func NewKafka(cfg config.JournalConfig) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	return newKafka(w, cfg.Timeout, cfg.Topic)
}

func newKafka(w messageWriter, timeout time.Duration, topic string) *Kafka {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Kafka{
		writer:  w,
		timeout: timeout,
		logger:  slog.Default().With("component", "journal", "topic", topic),
	}
}

func (k *Kafka) Publish(ctx context.Context, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling journal record: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	msg := kafka.Message{Key: []byte(rec.SourceID), Value: value}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	k.logger.Debug("journal record published", "key", rec.SourceID, "outcome", rec.Outcome)
	return nil
}

// Close flushes pending writes.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
