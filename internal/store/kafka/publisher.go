// Package kafka publishes finished backtest reports to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"backtest-systemv1/internal/model"
)

// Publish outcomes reported to OnPublish.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Config configures the Publisher.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration // zero means 10s
	MaxAttempts  int           // zero means 3
}

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes reports keyed by run ID, so every message of a run lands
// on the same partition.
type Publisher struct {
	writer    messageWriter
	topic     string
	onPublish func(status string)
	now       func() time.Time
	log       zerolog.Logger
}

var _ model.ResultPublisher = (*Publisher)(nil)

// Envelope wraps a report on the wire.
type Envelope struct {
	RunID       string          `json:"run_id"`
	PublishedAt time.Time       `json:"published_at"`
	Report      json.RawMessage `json:"report"`
}

// NewPublisher creates a synchronous publisher. onPublish may be nil.
func NewPublisher(cfg Config, onPublish func(status string)) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers are required", model.ErrValidation)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka topic is required", model.ErrValidation)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Gzip,
		MaxAttempts:            cfg.MaxAttempts,
		WriteTimeout:           cfg.WriteTimeout,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	p := newPublisher(w, cfg.Topic, onPublish)
	p.log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("publisher ready")
	return p, nil
}

func newPublisher(w messageWriter, topic string, onPublish func(string)) *Publisher {
	return &Publisher{
		writer:    w,
		topic:     topic,
		onPublish: onPublish,
		now:       time.Now,
		log:       log.With().Str("component", "kafka").Logger(),
	}
}

// Publish writes one message.
func (p *Publisher) Publish(ctx context.Context, key string, payload []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  p.now(),
	})
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	if p.onPublish != nil {
		p.onPublish(status)
	}
	if err != nil {
		return fmt.Errorf("kafka publish %s to %s: %w", key, p.topic, err)
	}
	return nil
}

// PublishReport JSON-encodes report inside an Envelope and publishes it
// under runID.
func (p *Publisher) PublishReport(ctx context.Context, runID string, report any) error {
	if runID == "" {
		return errors.New("kafka publish report: empty run id")
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("kafka encode report %s: %w", runID, err)
	}
	payload, err := json.Marshal(Envelope{RunID: runID, PublishedAt: p.now().UTC(), Report: body})
	if err != nil {
		return fmt.Errorf("kafka encode envelope %s: %w", runID, err)
	}
	if err := p.Publish(ctx, runID, payload); err != nil {
		return err
	}
	p.log.Debug().Str("run_id", runID).Int("bytes", len(payload)).Msg("report published")
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
