package repository

import (
	"context"
	"time"
)

// TransactionFactRow mirrors transaction_facts with amount as text.
type TransactionFactRow struct {
	TransactionID string
	Type          string
	SenderID      string
	ReceiverID    *string
	MerchantID    *string
	Amount        string
	Currency      string
	DeviceID      string
	IP            *string
	EventTime     time.Time
	ReceivedAt    time.Time
}

const transactionFactColumns = `transaction_id, type, sender_id, receiver_id, merchant_id, amount::text, currency, device_id, ip, event_time, received_at`

const insertTransactionFact = `
INSERT INTO transaction_facts (transaction_id, type, sender_id, receiver_id, merchant_id, amount, currency, device_id, ip, event_time, received_at)
VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $8, $9, $10, $11)
ON CONFLICT (transaction_id) DO NOTHING
`

// InsertTransactionFact returns the number of rows inserted (0 when the id already exists).
func (q *Queries) InsertTransactionFact(ctx context.Context, arg TransactionFactRow) (int64, error) {
	tag, err := q.db.Exec(ctx, insertTransactionFact,
		arg.TransactionID,
		arg.Type,
		arg.SenderID,
		arg.ReceiverID,
		arg.MerchantID,
		arg.Amount,
		arg.Currency,
		arg.DeviceID,
		arg.IP,
		arg.EventTime,
		arg.ReceivedAt,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getTransactionFact = `SELECT ` + transactionFactColumns + ` FROM transaction_facts WHERE transaction_id = $1`

func (q *Queries) GetTransactionFact(ctx context.Context, transactionID string) (TransactionFactRow, error) {
	var r TransactionFactRow
	err := q.db.QueryRow(ctx, getTransactionFact, transactionID).Scan(
		&r.TransactionID, &r.Type, &r.SenderID, &r.ReceiverID, &r.MerchantID,
		&r.Amount, &r.Currency, &r.DeviceID, &r.IP, &r.EventTime, &r.ReceivedAt,
	)
	return r, err
}

const listRecentTransactionFacts = `SELECT ` + transactionFactColumns + ` FROM transaction_facts ORDER BY received_at DESC LIMIT $1`

func (q *Queries) ListRecentTransactionFacts(ctx context.Context, limit int32) ([]TransactionFactRow, error) {
	rows, err := q.db.Query(ctx, listRecentTransactionFacts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TransactionFactRow
	for rows.Next() {
		var r TransactionFactRow
		if err := rows.Scan(
			&r.TransactionID, &r.Type, &r.SenderID, &r.ReceiverID, &r.MerchantID,
			&r.Amount, &r.Currency, &r.DeviceID, &r.IP, &r.EventTime, &r.ReceivedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const countHighValueFactsSince = `
SELECT COUNT(*)
FROM transaction_facts
WHERE sender_id = $1
  AND currency = $2
  AND amount > $3::text::numeric
  AND received_at >= $4
`

type CountHighValueFactsSinceParams struct {
	SenderID  string
	Currency  string
	Threshold string
	Since     time.Time
}

func (q *Queries) CountHighValueFactsSince(ctx context.Context, arg CountHighValueFactsSinceParams) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countHighValueFactsSince, arg.SenderID, arg.Currency, arg.Threshold, arg.Since).Scan(&n)
	return n, err
}

const lockSenderForLimit = `SELECT pg_advisory_xact_lock(hashtext($1))`

// LockSender serializes limit checks for one sender until the transaction ends.
func (q *Queries) LockSender(ctx context.Context, senderID string) error {
	_, err := q.db.Exec(ctx, lockSenderForLimit, "fact-sender:"+senderID)
	return err
}
