package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayo6706/fraudflow/internal/domain"
	"github.com/ayo6706/fraudflow/internal/models"
	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func clampLimit(limit int) int32 {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return int32(limit)
}

// newOutboxEntry serializes payload into a PENDING entry that becomes due at
// now+delay.
func newOutboxEntry(aggregateType, aggregateID, eventType, topic string, payload any, now time.Time, delay time.Duration) (models.OutboxEntry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.OutboxEntry{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return models.OutboxEntry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		Payload:       raw,
		Status:        domain.OutboxStatusPending,
		NextRetryAt:   now.Add(delay),
		CreatedAt:     now,
	}, nil
}

func ptr[T any](v T) *T {
	return &v
}
