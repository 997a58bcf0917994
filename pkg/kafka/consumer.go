package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// Handler processes one event. A non-nil error means the event should be
// retried; business outcomes that must not be retried return nil.
type Handler func(ctx context.Context, event *Event) error

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterPublisher receives messages whose handler kept failing.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, msg kafka.Message, lastErr error, consumerGroup string) error
}

// ConsumerConfig holds consumer settings.
type ConsumerConfig struct {
	Brokers      []string
	GroupID      string
	Topic        string
	MaxRetries   int
	RetryBackoff time.Duration
}

func (c *ConsumerConfig) withDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
}

// Consumer reads one topic as part of a consumer group and commits each
// message after its handler succeeded, or after it was dead-lettered.
type Consumer struct {
	reader  MessageReader
	cfg     ConsumerConfig
	handler Handler
	dlq     DeadLetterPublisher
	metrics *Metrics
	logger  *slog.Logger

	closeOnce sync.Once
}

// NewConsumer creates a consumer backed by a kafka-go reader. dlq may be nil.
func NewConsumer(cfg ConsumerConfig, handler Handler, dlq DeadLetterPublisher, metrics *Metrics, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return NewConsumerWithReader(r, cfg, handler, dlq, metrics, logger)
}

// NewConsumerWithReader wires a consumer around an existing reader.
func NewConsumerWithReader(r MessageReader, cfg ConsumerConfig, handler Handler, dlq DeadLetterPublisher, metrics *Metrics, logger *slog.Logger) *Consumer {
	cfg.withDefaults()
	return &Consumer{
		reader:  r,
		cfg:     cfg,
		handler: handler,
		dlq:     dlq,
		metrics: metrics,
		logger:  logger.With(slog.String("topic", cfg.Topic), slog.String("consumer_group", cfg.GroupID)),
	}
}

// Start consumes until ctx is canceled or the reader is closed.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.logger.Info("consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Error("fetch message failed", slog.String("error", err.Error()))
			if !sleep(ctx, c.cfg.RetryBackoff) {
				return nil
			}
			continue
		}
		c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	c.count(func(m *Metrics) *prometheus.CounterVec { return m.Received })
	start := time.Now()

	log := c.logger.With(slog.Int("partition", msg.Partition), slog.Int64("offset", msg.Offset))

	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		log.Error("undecodable message", slog.String("error", err.Error()))
		c.deadLetter(ctx, msg, err, log)
		c.commit(ctx, msg, log)
		return
	}
	log = log.With(slog.String("event_type", event.EventType), slog.String("event_id", event.EventID))

	headers := msg.Headers
	hctx := otel.GetTextMapPropagator().Extract(ctx, NewHeaderCarrier(&headers))

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if lastErr = c.handler(hctx, event); lastErr == nil {
			break
		}
		log.Warn("handler failed",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", c.cfg.MaxRetries),
			slog.String("error", lastErr.Error()),
		)
		if attempt < c.cfg.MaxRetries && !sleep(ctx, time.Duration(attempt)*c.cfg.RetryBackoff) {
			// Shutting down: leave the message uncommitted for redelivery.
			return
		}
	}

	if c.metrics != nil {
		c.metrics.Duration.WithLabelValues(c.cfg.Topic, c.cfg.GroupID).Observe(time.Since(start).Seconds())
	}

	if lastErr != nil {
		c.count(func(m *Metrics) *prometheus.CounterVec { return m.Failed })
		log.Error("handler failed after all retries", slog.String("error", lastErr.Error()))
		c.deadLetter(ctx, msg, lastErr, log)
	} else {
		c.count(func(m *Metrics) *prometheus.CounterVec { return m.Processed })
	}
	c.commit(ctx, msg, log)
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error, log *slog.Logger) {
	if c.dlq == nil {
		return
	}
	if err := c.dlq.Publish(ctx, msg, cause, c.cfg.GroupID); err != nil {
		log.Error("dead-letter publish failed", slog.String("error", err.Error()))
		return
	}
	c.count(func(m *Metrics) *prometheus.CounterVec { return m.DeadLettered })
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message, log *slog.Logger) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Error("commit failed", slog.String("error", err.Error()))
	}
}

func (c *Consumer) count(pick func(*Metrics) *prometheus.CounterVec) {
	if c.metrics != nil {
		pick(c.metrics).WithLabelValues(c.cfg.Topic, c.cfg.GroupID).Inc()
	}
}

// Close closes the reader. Safe to call more than once.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.reader.Close() })
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
