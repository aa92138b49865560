package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type OutboxEvent struct {
	ID            pgtype.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	Payload       []byte
	Status        string
	AttemptCount  int32
	NextRetryAt   time.Time
	LastError     *string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, topic, payload, status, attempt_count, next_retry_at, last_error, created_at, published_at`

func scanOutboxEvent(row pgx.Row) (OutboxEvent, error) {
	var e OutboxEvent
	err := row.Scan(
		&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Topic, &e.Payload,
		&e.Status, &e.AttemptCount, &e.NextRetryAt, &e.LastError, &e.CreatedAt, &e.PublishedAt,
	)
	return e, err
}

func collectOutboxEvents(rows pgx.Rows) ([]OutboxEvent, error) {
	defer rows.Close()
	var items []OutboxEvent
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

const insertOutboxEvent = `
INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, topic, payload, status, attempt_count, next_retry_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', 0, $7, $8)
ON CONFLICT (aggregate_type, aggregate_id, event_type) DO NOTHING
`

type InsertOutboxEventParams struct {
	ID            pgtype.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	Payload       []byte
	NextRetryAt   time.Time
	CreatedAt     time.Time
}

func (q *Queries) InsertOutboxEvent(ctx context.Context, arg InsertOutboxEventParams) (int64, error) {
	tag, err := q.db.Exec(ctx, insertOutboxEvent,
		arg.ID, arg.AggregateType, arg.AggregateID, arg.EventType, arg.Topic, arg.Payload, arg.NextRetryAt, arg.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getDueOutboxEventsForUpdate = `
SELECT ` + outboxColumns + `
FROM outbox_events
WHERE status = 'PENDING' AND next_retry_at <= $1
ORDER BY created_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`

func (q *Queries) GetDueOutboxEventsForUpdate(ctx context.Context, now time.Time, limit int32) ([]OutboxEvent, error) {
	rows, err := q.db.Query(ctx, getDueOutboxEventsForUpdate, now, limit)
	if err != nil {
		return nil, err
	}
	return collectOutboxEvents(rows)
}

const leaseOutboxEvent = `UPDATE outbox_events SET next_retry_at = $2 WHERE id = $1 AND status = 'PENDING'`

func (q *Queries) LeaseOutboxEvent(ctx context.Context, id pgtype.UUID, until time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, leaseOutboxEvent, id, until)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const markOutboxSent = `
UPDATE outbox_events
SET status = 'SENT', published_at = $2, last_error = NULL
WHERE id = $1 AND status = 'PENDING'
`

func (q *Queries) MarkOutboxSent(ctx context.Context, id pgtype.UUID, publishedAt time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, markOutboxSent, id, publishedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const markOutboxRetry = `
UPDATE outbox_events
SET attempt_count = $2, next_retry_at = $3, last_error = $4
WHERE id = $1 AND status = 'PENDING'
`

type MarkOutboxRetryParams struct {
	ID           pgtype.UUID
	AttemptCount int32
	NextRetryAt  time.Time
	LastError    string
}

func (q *Queries) MarkOutboxRetry(ctx context.Context, arg MarkOutboxRetryParams) (int64, error) {
	tag, err := q.db.Exec(ctx, markOutboxRetry, arg.ID, arg.AttemptCount, arg.NextRetryAt, arg.LastError)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const markOutboxFailed = `
UPDATE outbox_events
SET status = 'FAILED', attempt_count = $2, last_error = $3
WHERE id = $1 AND status = 'PENDING'
`

func (q *Queries) MarkOutboxFailed(ctx context.Context, id pgtype.UUID, attempts int32, lastError string) (int64, error) {
	tag, err := q.db.Exec(ctx, markOutboxFailed, id, attempts, lastError)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const requeueFailedOutboxEvent = `
UPDATE outbox_events
SET status = 'PENDING', attempt_count = 0, next_retry_at = $2, last_error = NULL
WHERE id = $1 AND status = 'FAILED'
`

func (q *Queries) RequeueFailedOutboxEvent(ctx context.Context, id pgtype.UUID, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, requeueFailedOutboxEvent, id, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getOutboxEvent = `SELECT ` + outboxColumns + ` FROM outbox_events WHERE id = $1`

func (q *Queries) GetOutboxEvent(ctx context.Context, id pgtype.UUID) (OutboxEvent, error) {
	return scanOutboxEvent(q.db.QueryRow(ctx, getOutboxEvent, id))
}

const listOutboxEventsByStatus = `
SELECT ` + outboxColumns + `
FROM outbox_events
WHERE status = $1
ORDER BY created_at ASC
LIMIT $2
`

func (q *Queries) ListOutboxEventsByStatus(ctx context.Context, status string, limit int32) ([]OutboxEvent, error) {
	rows, err := q.db.Query(ctx, listOutboxEventsByStatus, status, limit)
	if err != nil {
		return nil, err
	}
	return collectOutboxEvents(rows)
}

const countOutboxEventsByStatus = `SELECT COUNT(*) FROM outbox_events WHERE status = $1`

func (q *Queries) CountOutboxEventsByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countOutboxEventsByStatus, status).Scan(&n)
	return n, err
}
