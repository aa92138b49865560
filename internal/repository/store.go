package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/fraudflow/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides access to generated queries and transaction scoping.
type Store struct {
	db      *pgxpool.Pool
	queries *Queries
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:      db,
		queries: New(db),
	}
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() *Queries {
	return s.queries
}

// RunInTx executes fn within a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateFact persists fact and its outbox entry atomically. When a fact with
// the same id exists it is returned unchanged with created=false.
func (s *Store) CreateFact(ctx context.Context, fact models.TransactionFact, entry models.OutboxEntry, limit *models.HighValueLimit) (*models.TransactionFact, bool, error) {
	var (
		result  *models.TransactionFact
		created bool
	)
	err := s.RunInTx(ctx, func(qtx *Queries) error {
		existing, err := qtx.GetTransactionFact(ctx, fact.ID)
		if err == nil {
			result, err = factFromRow(existing)
			return err
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("get transaction fact: %w", err)
		}

		if limit != nil {
			if err := qtx.LockSender(ctx, fact.SenderID); err != nil {
				return fmt.Errorf("lock sender: %w", err)
			}
			count, err := qtx.CountHighValueFactsSince(ctx, CountHighValueFactsSinceParams{
				SenderID:  fact.SenderID,
				Currency:  limit.Currency,
				Threshold: limit.Threshold.String(),
				Since:     limit.Since,
			})
			if err != nil {
				return fmt.Errorf("count high value facts: %w", err)
			}
			if count >= limit.MaxCount {
				return models.ErrDailyLimitExceed
			}
		}

		rows, err := qtx.InsertTransactionFact(ctx, factToRow(fact))
		if err != nil {
			return fmt.Errorf("insert transaction fact: %w", err)
		}
		if rows == 0 {
			// Lost a concurrent insert race; the winner owns the outbox entry.
			existing, err := qtx.GetTransactionFact(ctx, fact.ID)
			if err != nil {
				return fmt.Errorf("reload transaction fact: %w", err)
			}
			result, err = factFromRow(existing)
			return err
		}

		if _, err := qtx.InsertOutboxEvent(ctx, outboxToInsert(entry)); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
		f := fact
		result = &f
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func (s *Store) GetFact(ctx context.Context, id string) (*models.TransactionFact, error) {
	row, err := s.queries.GetTransactionFact(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction fact: %w", err)
	}
	return factFromRow(row)
}

func (s *Store) ListRecentFacts(ctx context.Context, limit int32) ([]models.TransactionFact, error) {
	rows, err := s.queries.ListRecentTransactionFacts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list transaction facts: %w", err)
	}
	out := make([]models.TransactionFact, 0, len(rows))
	for _, r := range rows {
		f, err := factFromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, nil
}

// ClaimDueOutbox selects due PENDING entries under FOR UPDATE SKIP LOCKED and
// pushes their next_retry_at forward by lease before committing, so the row
// lock is released before any publish happens.
func (s *Store) ClaimDueOutbox(ctx context.Context, now time.Time, limit int32, lease time.Duration) ([]models.OutboxEntry, error) {
	var claimed []models.OutboxEntry
	err := s.RunInTx(ctx, func(qtx *Queries) error {
		due, err := qtx.GetDueOutboxEventsForUpdate(ctx, now, limit)
		if err != nil {
			return fmt.Errorf("select due outbox events: %w", err)
		}
		for _, e := range due {
			rows, err := qtx.LeaseOutboxEvent(ctx, e.ID, now.Add(lease))
			if err != nil {
				return fmt.Errorf("lease outbox event: %w", err)
			}
			if rows == 1 {
				claimed = append(claimed, outboxFromRow(e))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) MarkOutboxSent(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	if _, err := s.queries.MarkOutboxSent(ctx, ToPgUUID(id), publishedAt); err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	return nil
}

func (s *Store) MarkOutboxRetry(ctx context.Context, id uuid.UUID, attempts int32, nextRetryAt time.Time, lastError string) error {
	_, err := s.queries.MarkOutboxRetry(ctx, MarkOutboxRetryParams{
		ID:           ToPgUUID(id),
		AttemptCount: attempts,
		NextRetryAt:  nextRetryAt,
		LastError:    lastError,
	})
	if err != nil {
		return fmt.Errorf("mark outbox retry: %w", err)
	}
	return nil
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id uuid.UUID, attempts int32, lastError string) error {
	if _, err := s.queries.MarkOutboxFailed(ctx, ToPgUUID(id), attempts, lastError); err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

// RequeueOutbox resets a FAILED entry to PENDING. Returns models.ErrNotFound
// when no FAILED entry has the id.
func (s *Store) RequeueOutbox(ctx context.Context, id uuid.UUID, now time.Time, actorID string) error {
	return s.RunInTx(ctx, func(qtx *Queries) error {
		rows, err := qtx.RequeueFailedOutboxEvent(ctx, ToPgUUID(id), now)
		if err != nil {
			return fmt.Errorf("requeue outbox event: %w", err)
		}
		if rows == 0 {
			return models.ErrNotFound
		}
		return writeAudit(ctx, qtx, "outbox_event", id.String(), actorID, "operator_requeue", "FAILED", "PENDING", nil)
	})
}

func (s *Store) GetOutbox(ctx context.Context, id uuid.UUID) (*models.OutboxEntry, error) {
	row, err := s.queries.GetOutboxEvent(ctx, ToPgUUID(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get outbox event: %w", err)
	}
	entry := outboxFromRow(row)
	return &entry, nil
}

func (s *Store) ListOutbox(ctx context.Context, status string, limit int32) ([]models.OutboxEntry, error) {
	rows, err := s.queries.ListOutboxEventsByStatus(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox events: %w", err)
	}
	out := make([]models.OutboxEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, outboxFromRow(r))
	}
	return out, nil
}

func (s *Store) CountOutbox(ctx context.Context, status string) (int64, error) {
	n, err := s.queries.CountOutboxEventsByStatus(ctx, status)
	if err != nil {
		return 0, fmt.Errorf("count outbox events: %w", err)
	}
	return n, nil
}

// SaveDecision inserts the decision and its outbox entry in one transaction.
// It returns false without writing anything when the transaction already has
// a decision.
func (s *Store) SaveDecision(ctx context.Context, decision models.FraudDecision, entry models.OutboxEntry) (bool, error) {
	row, err := decisionToRow(decision)
	if err != nil {
		return false, err
	}
	var inserted bool
	err = s.RunInTx(ctx, func(qtx *Queries) error {
		rows, err := qtx.InsertFraudDecision(ctx, row)
		if err != nil {
			return fmt.Errorf("insert fraud decision: %w", err)
		}
		if rows == 0 {
			return nil
		}
		if _, err := qtx.InsertOutboxEvent(ctx, outboxToInsert(entry)); err != nil {
			return fmt.Errorf("insert decision outbox event: %w", err)
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *Store) GetDecision(ctx context.Context, transactionID string) (*models.FraudDecision, error) {
	row, err := s.queries.GetFraudDecision(ctx, transactionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get fraud decision: %w", err)
	}
	return decisionFromRow(row)
}

func (s *Store) ListDecisions(ctx context.Context, filter models.DecisionFilter) ([]models.FraudDecision, error) {
	rows, err := s.queries.ListFraudDecisions(ctx, filter.Reviewed, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list fraud decisions: %w", err)
	}
	out := make([]models.FraudDecision, 0, len(rows))
	for _, r := range rows {
		d, err := decisionFromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

// LabelDecision records analyst feedback and audits it.
func (s *Store) LabelDecision(ctx context.Context, transactionID string, label int, actorID string) (*models.FraudDecision, error) {
	var result *models.FraudDecision
	err := s.RunInTx(ctx, func(qtx *Queries) error {
		rows, err := qtx.UpdateFraudDecisionLabel(ctx, transactionID, int16(label))
		if err != nil {
			return fmt.Errorf("update decision label: %w", err)
		}
		if rows == 0 {
			return models.ErrNotFound
		}
		metadata := []byte(fmt.Sprintf(`{"true_label":%d}`, label))
		if err := writeAudit(ctx, qtx, "fraud_decision", transactionID, actorID, "feedback", "", "REVIEWED", metadata); err != nil {
			return err
		}
		row, err := qtx.GetFraudDecision(ctx, transactionID)
		if err != nil {
			return fmt.Errorf("reload fraud decision: %w", err)
		}
		result, err = decisionFromRow(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MutateTransfer runs fn against the current transfer (nil when absent) while
// the row is locked, then persists the returned value. A nil result from fn
// leaves the row untouched. Status changes are written to the audit log.
func (s *Store) MutateTransfer(ctx context.Context, transactionID string, fn func(current *models.Transfer) (*models.Transfer, error)) (*models.Transfer, error) {
	var result *models.Transfer
	err := s.RunInTx(ctx, func(qtx *Queries) error {
		for attempt := 0; attempt < 2; attempt++ {
			var current *models.Transfer
			row, err := qtx.GetTransferForUpdate(ctx, transactionID)
			switch {
			case err == nil:
				current = transferFromRow(row)
			case errors.Is(err, pgx.ErrNoRows):
			default:
				return fmt.Errorf("lock transfer: %w", err)
			}

			next, err := fn(current)
			if err != nil {
				return err
			}
			if next == nil {
				result = current
				return nil
			}

			if current == nil {
				rows, err := qtx.InsertTransfer(ctx, transferToRow(*next))
				if err != nil {
					return fmt.Errorf("insert transfer: %w", err)
				}
				if rows == 0 {
					// A concurrent first sighting created the row; lock it and re-evaluate.
					continue
				}
				result = next
				return writeAudit(ctx, qtx, "transfer", transactionID, "", "created", "", next.Status, nil)
			}

			rows, err := qtx.UpdateTransfer(ctx, transferToRow(*next))
			if err != nil {
				return fmt.Errorf("update transfer: %w", err)
			}
			if rows != 1 {
				return fmt.Errorf("update transfer affected %d rows", rows)
			}
			result = next
			if current.Status != next.Status {
				return writeAudit(ctx, qtx, "transfer", transactionID, "", "status_changed", current.Status, next.Status, nil)
			}
			return nil
		}
		return fmt.Errorf("transfer %s: insert race not resolved", transactionID)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetTransfer(ctx context.Context, transactionID string) (*models.Transfer, error) {
	row, err := s.queries.GetTransfer(ctx, transactionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	return transferFromRow(row), nil
}

func (s *Store) ListTransfers(ctx context.Context, status string, limit int32) ([]models.Transfer, error) {
	rows, err := s.queries.ListTransfersByStatus(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	out := make([]models.Transfer, 0, len(rows))
	for _, r := range rows {
		out = append(out, *transferFromRow(r))
	}
	return out, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func writeAudit(ctx context.Context, qtx *Queries, entityType, entityID, actorID, action, prevState, nextState string, metadata []byte) error {
	if _, err := qtx.InsertAuditLog(ctx, InsertAuditLogParams{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    textParam(actorID),
		Action:     action,
		PrevState:  textParam(prevState),
		NextState:  textParam(nextState),
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
