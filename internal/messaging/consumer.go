package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ayo6706/fraudflow/internal/observability"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedPayload marks a message that can never be processed. Such
// messages skip retries and go straight to the dead-letter topic.
var ErrMalformedPayload = errors.New("malformed payload")

// Handler processes one message. A nil return commits the offset.
type Handler func(ctx context.Context, msg kafka.Message) error

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends dead-lettered messages.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte, headers ...Header) error
}

type ConsumerConfig struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// Consumer drives a reader: fetch, handle with bounded retries, dead-letter
// on exhaustion, then commit. Offsets are committed only after the message
// has been handled or dead-lettered.
type Consumer struct {
	name       string
	reader     Reader
	handler    Handler
	deadLetter Publisher
	cfg        ConsumerConfig
	logger     *zap.Logger
}

func NewConsumer(name string, reader Reader, handler Handler, deadLetter Publisher, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Consumer{
		name:       name,
		reader:     reader,
		handler:    handler,
		deadLetter: deadLetter,
		cfg:        cfg,
		logger:     logger.With(zap.String("consumer", name)),
	}
}

func (c *Consumer) String() string {
	return c.name
}

// Run blocks until ctx is canceled or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer starting")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping")
				return nil
			}
			return fmt.Errorf("%s: fetch message: %w", c.name, err)
		}

		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping; in-flight message will be redelivered", zap.Int64("offset", msg.Offset))
				return nil
			}
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: commit offset %d: %w", c.name, msg.Offset, err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	err := c.handleWithRetry(ctx, msg)
	if err == nil {
		observability.IncrementConsumerMessage(msg.Topic, "handled")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.sendToDeadLetter(ctx, msg, err)
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	for attempt := 0; ; attempt++ {
		err := c.handler(ctx, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrMalformedPayload) || attempt >= c.cfg.MaxRetries {
			return err
		}
		c.logger.Warn("handler failed; retrying",
			zap.Error(err),
			zap.String("key", string(msg.Key)),
			zap.Int("attempt", attempt+1),
		)
		if err := sleep(ctx, c.cfg.RetryBackoff); err != nil {
			return err
		}
	}
}

func (c *Consumer) sendToDeadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	topic := DeadLetterTopic(msg.Topic)
	outcome := "dead_lettered"
	if errors.Is(cause, ErrMalformedPayload) {
		outcome = "malformed"
	}
	c.logger.Warn("dead-lettering message",
		zap.Error(cause),
		zap.String("topic", msg.Topic),
		zap.String("dlt", topic),
		zap.String("key", string(msg.Key)),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	headers := []Header{
		{Key: "x-original-topic", Value: msg.Topic},
		{Key: "x-original-partition", Value: strconv.Itoa(msg.Partition)},
		{Key: "x-original-offset", Value: strconv.FormatInt(msg.Offset, 10)},
		{Key: "x-exception-message", Value: cause.Error()},
	}
	backoff := c.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	for {
		err := c.deadLetter.Publish(ctx, topic, string(msg.Key), msg.Value, headers...)
		if err == nil {
			observability.IncrementConsumerMessage(msg.Topic, outcome)
			return nil
		}
		c.logger.Error("dead-letter publish failed; retrying", zap.Error(err), zap.String("dlt", topic))
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
