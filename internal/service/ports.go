package service

import (
	"context"
	"time"

	"github.com/ayo6706/fraudflow/internal/aggregation"
	"github.com/ayo6706/fraudflow/internal/models"
	"github.com/google/uuid"
)

// FactStore persists accepted transactions together with their outbox entry.
type FactStore interface {
	CreateFact(ctx context.Context, fact models.TransactionFact, entry models.OutboxEntry, limit *models.HighValueLimit) (*models.TransactionFact, bool, error)
	GetFact(ctx context.Context, id string) (*models.TransactionFact, error)
	ListRecentFacts(ctx context.Context, limit int32) ([]models.TransactionFact, error)
}

// OutboxStore is the relay's view of outbox_events.
type OutboxStore interface {
	ClaimDueOutbox(ctx context.Context, now time.Time, limit int32, lease time.Duration) ([]models.OutboxEntry, error)
	MarkOutboxSent(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
	MarkOutboxRetry(ctx context.Context, id uuid.UUID, attempts int32, nextRetryAt time.Time, lastError string) error
	MarkOutboxFailed(ctx context.Context, id uuid.UUID, attempts int32, lastError string) error
	RequeueOutbox(ctx context.Context, id uuid.UUID, now time.Time, actorID string) error
	ListOutbox(ctx context.Context, status string, limit int32) ([]models.OutboxEntry, error)
	CountOutbox(ctx context.Context, status string) (int64, error)
}

// FinalizationStore writes the decision row and its outbox entry.
type FinalizationStore interface {
	SaveDecision(ctx context.Context, decision models.FraudDecision, entry models.OutboxEntry) (bool, error)
	MarkOutboxSent(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

// DecisionStore serves decision reads and analyst feedback.
type DecisionStore interface {
	GetDecision(ctx context.Context, transactionID string) (*models.FraudDecision, error)
	ListDecisions(ctx context.Context, filter models.DecisionFilter) ([]models.FraudDecision, error)
	LabelDecision(ctx context.Context, transactionID string, label int, actorID string) (*models.FraudDecision, error)
}

// TransferStore owns settlement rows. MutateTransfer calls fn with the row
// locked; a nil result leaves it untouched.
type TransferStore interface {
	MutateTransfer(ctx context.Context, transactionID string, fn func(current *models.Transfer) (*models.Transfer, error)) (*models.Transfer, error)
	GetTransfer(ctx context.Context, transactionID string) (*models.Transfer, error)
	ListTransfers(ctx context.Context, status string, limit int32) ([]models.Transfer, error)
}

// AggregationStore holds partial verdicts per transaction.
type AggregationStore interface {
	Upsert(ctx context.Context, txID string, update aggregation.Record) error
	Get(ctx context.Context, txID string) (aggregation.Record, error)
	RuleBand(ctx context.Context, txID string) (string, error)
	Delete(ctx context.Context, txID string) error
}

// FinalizationMarker grants the right to finalize a transaction once.
type FinalizationMarker interface {
	Acquire(ctx context.Context, txID string) (bool, error)
	Release(ctx context.Context, txID string) error
}
