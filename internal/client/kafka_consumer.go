package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"auth-token-service/internal/config"
)

// Reader is the subset of kafka.Reader the consumer loop needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageHandler returning an error leaves the message uncommitted and it is
// retried, unless the error wraps ErrPermanent.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// ErrPermanent marks a handler failure that redelivery cannot fix. The
// consumer logs the message and commits past it.
var ErrPermanent = errors.New("permanent processing failure")

// Permanent wraps err so the consumer skips the message instead of retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

type KafkaConsumer struct {
	reader         Reader
	topic          string
	logger         *zap.Logger
	handlerTimeout time.Duration
	minBackoff     time.Duration
	maxBackoff     time.Duration
}

func NewKafkaConsumer(cfg *config.Config, topic string, logger *zap.Logger) *KafkaConsumer {
	kafkaConfig := cfg.Kafka

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        kafkaConfig.Brokers,
		Topic:          topic,
		GroupID:        kafkaConfig.ConsumerGroupID,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		StartOffset:    kafka.FirstOffset,
		MaxWait:        5 * time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: 1 * time.Second,
		Dialer: &kafka.Dialer{
			ClientID:  kafkaConfig.ClientID,
			Timeout:   5 * time.Second,
			DualStack: true,
		},
	})

	logger.Info("Kafka consumer initialized",
		zap.Strings("brokers", kafkaConfig.Brokers),
		zap.String("topic", topic),
		zap.String("group_id", kafkaConfig.ConsumerGroupID),
	)

	return NewKafkaConsumerWithReader(reader, topic, logger)
}

// NewKafkaConsumerWithReader allows injecting a test reader.
func NewKafkaConsumerWithReader(r Reader, topic string, logger *zap.Logger) *KafkaConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaConsumer{
		reader:         r,
		topic:          topic,
		logger:         logger,
		handlerTimeout: 10 * time.Second,
		minBackoff:     100 * time.Millisecond,
		maxBackoff:     5 * time.Second,
	}
}

// Start fetches, handles and commits messages until ctx is cancelled. A
// failed message is retried with backoff before the loop moves on, so
// offsets are only committed for applied messages and for permanent
// failures, which are logged and skipped.
func (c *KafkaConsumer) Start(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Kafka consumer started", zap.String("topic", c.topic))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("Error fetching message", zap.String("topic", c.topic), zap.Error(err))
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}

		if err := c.handleWithRetry(ctx, handler, msg); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Failed to commit offset",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

func (c *KafkaConsumer) handleWithRetry(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	backoff := c.minBackoff
	for attempt := 1; ; attempt++ {
		handlerCtx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
		err := handler(handlerCtx, msg)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			c.logger.Error("Skipping message that cannot be applied",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil
		}

		c.logger.Error("Processing failed",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if !sleepCtx(ctx, backoff) {
			return fmt.Errorf("consumer stopped before offset %d was applied: %w", msg.Offset, ctx.Err())
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		if err := c.reader.Close(); err != nil {
			c.logger.Error("failed to close Kafka consumer", zap.Error(err))
			return err
		}
		c.logger.Info("Kafka consumer closed", zap.String("topic", c.topic))
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
