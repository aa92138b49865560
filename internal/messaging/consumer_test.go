package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
	drained   func()
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	if r.drained != nil {
		r.drained()
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

type published struct {
	topic   string
	key     string
	payload []byte
	headers []Header
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	failures int
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, payload []byte, headers ...Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, published{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

func runConsumer(t *testing.T, msgs []kafka.Message, handler Handler, dlq *fakePublisher, cfg ConsumerConfig) *fakeReader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reader := &fakeReader{pending: msgs, drained: cancel}
	c := NewConsumer("test", reader, handler, dlq, cfg, zaptest.NewLogger(t))
	require.NoError(t, c.Run(ctx))
	return reader
}

func msg(topic, key, value string, offset int64) kafka.Message {
	return kafka.Message{Topic: topic, Key: []byte(key), Value: []byte(value), Offset: offset}
}

func TestConsumer_CommitsHandledMessages(t *testing.T) {
	var seen []string
	handler := func(_ context.Context, m kafka.Message) error {
		seen = append(seen, string(m.Key))
		return nil
	}

	dlq := &fakePublisher{}
	reader := runConsumer(t, []kafka.Message{msg("fraud.ml", "tx-1", "{}", 1), msg("fraud.ml", "tx-2", "{}", 2)}, handler, dlq, ConsumerConfig{})

	assert.Equal(t, []string{"tx-1", "tx-2"}, seen)
	assert.Len(t, reader.committed, 2)
	assert.Empty(t, dlq.messages)
}

func TestConsumer_RetriesTransientErrors(t *testing.T) {
	calls := 0
	handler := func(context.Context, kafka.Message) error {
		calls++
		if calls < 3 {
			return errors.New("redis timeout")
		}
		return nil
	}

	dlq := &fakePublisher{}
	reader := runConsumer(t, []kafka.Message{msg("fraud.rules", "tx-1", "{}", 7)}, handler, dlq, ConsumerConfig{MaxRetries: 3, RetryBackoff: time.Millisecond})

	assert.Equal(t, 3, calls)
	assert.Len(t, reader.committed, 1)
	assert.Empty(t, dlq.messages)
}

func TestConsumer_DeadLettersAfterRetriesExhausted(t *testing.T) {
	calls := 0
	handler := func(context.Context, kafka.Message) error {
		calls++
		return errors.New("database down")
	}

	dlq := &fakePublisher{failures: 1}
	reader := runConsumer(t, []kafka.Message{msg("fraud.final", "tx-9", `{"txId":"tx-9"}`, 3)}, handler, dlq, ConsumerConfig{MaxRetries: 2, RetryBackoff: time.Millisecond})

	assert.Equal(t, 3, calls)
	require.Len(t, dlq.messages, 1)
	assert.Equal(t, "fraud.final.DLT", dlq.messages[0].topic)
	assert.Equal(t, "tx-9", dlq.messages[0].key)
	assert.JSONEq(t, `{"txId":"tx-9"}`, string(dlq.messages[0].payload))
	assert.Contains(t, dlq.messages[0].headers, Header{Key: "x-original-offset", Value: "3"})
	assert.Len(t, reader.committed, 1)
}

func TestConsumer_MalformedPayloadSkipsRetries(t *testing.T) {
	calls := 0
	handler := func(context.Context, kafka.Message) error {
		calls++
		return fmt.Errorf("%w: unexpected end of JSON input", ErrMalformedPayload)
	}

	dlq := &fakePublisher{}
	reader := runConsumer(t, []kafka.Message{msg("fraud.blacklist", "tx-3", "{", 11)}, handler, dlq, ConsumerConfig{MaxRetries: 5, RetryBackoff: time.Millisecond})

	assert.Equal(t, 1, calls)
	require.Len(t, dlq.messages, 1)
	assert.Equal(t, "fraud.blacklist.DLT", dlq.messages[0].topic)
	assert.Len(t, reader.committed, 1)
}

func TestConsumer_ShutdownLeavesInFlightMessageUncommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{pending: []kafka.Message{msg("fraud.ml", "tx-1", "{}", 1)}}
	handler := func(ctx context.Context, _ kafka.Message) error {
		cancel()
		return ctx.Err()
	}
	c := NewConsumer("test", reader, handler, &fakePublisher{}, ConsumerConfig{MaxRetries: 3, RetryBackoff: time.Second}, zaptest.NewLogger(t))

	require.NoError(t, c.Run(ctx))
	assert.Empty(t, reader.committed)
}

func TestDeadLetterTopic(t *testing.T) {
	assert.Equal(t, "fraud.ml.DLT", DeadLetterTopic("fraud.ml"))
}
