// Package messaging wraps kafka-go for keyed publishing and group consumption.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/fraudflow/internal/domain"
	"github.com/segmentio/kafka-go"
)

// Header is a message header carried alongside the payload.
type Header struct {
	Key   string
	Value string
}

// KafkaPublisher writes keyed messages to any topic through one writer.
// Messages are partitioned by key so per-transaction ordering holds.
type KafkaPublisher struct {
	brokers []string
	writer  *kafka.Writer
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish blocks until the broker acknowledges the write.
func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload []byte, headers ...Header) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	for _, h := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: h.Key, Value: []byte(h.Value)})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Ping succeeds when any broker accepts a connection.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no brokers configured")
	}
	return fmt.Errorf("kafka unreachable: %w", lastErr)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NewReader builds a consumer-group reader for one topic.
func NewReader(brokers []string, groupID, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
}

// DeadLetterTopic names the dead-letter topic paired with topic.
func DeadLetterTopic(topic string) string {
	return topic + domain.DeadLetterSuffix
}
