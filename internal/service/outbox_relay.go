package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/fraudflow/internal/domain"
	"github.com/ayo6706/fraudflow/internal/messaging"
	"github.com/ayo6706/fraudflow/internal/models"
	"github.com/ayo6706/fraudflow/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RelayConfig struct {
	BatchSize   int32
	MaxAttempts int32
	BaseBackoff time.Duration
	Lease       time.Duration
}

// RelayResult summarizes one tick.
type RelayResult struct {
	Claimed int
	Sent    int
	Retried int
	Failed  int
}

// OutboxRelay publishes due outbox entries. Entries are claimed under a row
// lock that is released before any publish, so several relays can run.
type OutboxRelay struct {
	store     OutboxStore
	publisher messaging.Publisher
	cfg       RelayConfig
	now       func() time.Time
}

func NewOutboxRelay(store OutboxStore, publisher messaging.Publisher, cfg RelayConfig) *OutboxRelay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	return &OutboxRelay{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Backoff is the delay scheduled after the given number of failed attempts.
func (r *OutboxRelay) Backoff(attempts int32) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return r.cfg.BaseBackoff * time.Duration(attempts)
}

func (r *OutboxRelay) BatchSize() int32 {
	return r.cfg.BatchSize
}

// RelayTick claims up to BatchSize due entries and publishes each one.
func (r *OutboxRelay) RelayTick(ctx context.Context) (RelayResult, error) {
	var result RelayResult
	entries, err := r.store.ClaimDueOutbox(ctx, r.now(), r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return result, fmt.Errorf("claim outbox entries: %w", err)
	}
	result.Claimed = len(entries)

	var errs []error
	for _, entry := range entries {
		if ctx.Err() != nil {
			// Unprocessed claims become due again once their lease lapses.
			return result, errors.Join(append(errs, ctx.Err())...)
		}
		outcome, err := r.relay(ctx, entry)
		switch outcome {
		case outcomeSent:
			result.Sent++
		case outcomeRetry:
			result.Retried++
		case outcomeFailed:
			result.Failed++
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return result, errors.Join(errs...)
}

type relayOutcome int

const (
	outcomeSent relayOutcome = iota
	outcomeRetry
	outcomeFailed
)

func (r *OutboxRelay) relay(ctx context.Context, entry models.OutboxEntry) (relayOutcome, error) {
	pubErr := r.publisher.Publish(ctx, entry.Topic, entry.AggregateID, entry.Payload,
		messaging.Header{Key: "eventType", Value: entry.EventType},
		messaging.Header{Key: "aggregateType", Value: entry.AggregateType},
		messaging.Header{Key: "outboxId", Value: entry.ID.String()},
	)
	now := r.now()
	if pubErr == nil {
		observability.IncrementOutboxPublish(entry.Topic, "sent")
		if err := r.store.MarkOutboxSent(ctx, entry.ID, now); err != nil {
			// The lease expires and the entry is published again; consumers absorb duplicates.
			return outcomeSent, fmt.Errorf("outbox %s published but not marked: %w", entry.ID, err)
		}
		return outcomeSent, nil
	}

	attempts := entry.AttemptCount + 1
	lastError := domain.TruncateError(pubErr.Error())
	logger := zap.L().With(
		zap.String("outbox_id", entry.ID.String()),
		zap.String("topic", entry.Topic),
		zap.String("aggregate_id", entry.AggregateID),
		zap.Int32("attempts", attempts),
		zap.Error(pubErr),
	)

	if attempts >= r.cfg.MaxAttempts {
		observability.IncrementOutboxPublish(entry.Topic, "failed")
		logger.Error("outbox entry exhausted its attempts; operator action required")
		if err := r.store.MarkOutboxFailed(ctx, entry.ID, attempts, lastError); err != nil {
			return outcomeFailed, fmt.Errorf("mark outbox %s failed: %w", entry.ID, err)
		}
		return outcomeFailed, nil
	}

	next := now.Add(r.Backoff(attempts))
	observability.IncrementOutboxPublish(entry.Topic, "retry")
	logger.Warn("outbox publish failed; scheduled retry", zap.Time("next_retry_at", next))
	if err := r.store.MarkOutboxRetry(ctx, entry.ID, attempts, next, lastError); err != nil {
		return outcomeRetry, fmt.Errorf("mark outbox %s retry: %w", entry.ID, err)
	}
	return outcomeRetry, nil
}

// RetryFailed moves a FAILED entry back to PENDING on operator request.
func (r *OutboxRelay) RetryFailed(ctx context.Context, id uuid.UUID, actorID string) error {
	if err := r.store.RequeueOutbox(ctx, id, r.now(), actorID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ErrOutboxEntryNotFound
		}
		return err
	}
	zap.L().Info("outbox entry requeued", zap.String("outbox_id", id.String()), zap.String("actor_id", actorID))
	return nil
}

func (r *OutboxRelay) ListFailed(ctx context.Context, limit int) ([]models.OutboxEntry, error) {
	return r.store.ListOutbox(ctx, domain.OutboxStatusFailed, clampLimit(limit))
}

// FailedBacklog counts FAILED entries and publishes the gauge.
func (r *OutboxRelay) FailedBacklog(ctx context.Context) (int64, error) {
	n, err := r.store.CountOutbox(ctx, domain.OutboxStatusFailed)
	if err != nil {
		return 0, err
	}
	observability.SetOutboxFailedBacklog(n)
	return n, nil
}
