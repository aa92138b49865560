package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type TransferRow struct {
	TransactionID string
	Status        string
	Attempts      int32
	LastError     *string
	PayloadJSON   []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const transferColumns = `transaction_id, status, attempts, last_error, payload_json, created_at, updated_at`

func scanTransfer(row pgx.Row) (TransferRow, error) {
	var r TransferRow
	err := row.Scan(&r.TransactionID, &r.Status, &r.Attempts, &r.LastError, &r.PayloadJSON, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func collectTransfers(rows pgx.Rows) ([]TransferRow, error) {
	defer rows.Close()
	var items []TransferRow
	for rows.Next() {
		r, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const getTransferForUpdate = `SELECT ` + transferColumns + ` FROM transfers WHERE transaction_id = $1 FOR UPDATE`

func (q *Queries) GetTransferForUpdate(ctx context.Context, transactionID string) (TransferRow, error) {
	return scanTransfer(q.db.QueryRow(ctx, getTransferForUpdate, transactionID))
}

const getTransfer = `SELECT ` + transferColumns + ` FROM transfers WHERE transaction_id = $1`

func (q *Queries) GetTransfer(ctx context.Context, transactionID string) (TransferRow, error) {
	return scanTransfer(q.db.QueryRow(ctx, getTransfer, transactionID))
}

const insertTransfer = `
INSERT INTO transfers (transaction_id, status, attempts, last_error, payload_json, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (transaction_id) DO NOTHING
`

func (q *Queries) InsertTransfer(ctx context.Context, arg TransferRow) (int64, error) {
	tag, err := q.db.Exec(ctx, insertTransfer, arg.TransactionID, arg.Status, arg.Attempts, arg.LastError, arg.PayloadJSON, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const updateTransfer = `
UPDATE transfers
SET status = $2, attempts = $3, last_error = $4, payload_json = $5, updated_at = $6
WHERE transaction_id = $1
`

func (q *Queries) UpdateTransfer(ctx context.Context, arg TransferRow) (int64, error) {
	tag, err := q.db.Exec(ctx, updateTransfer, arg.TransactionID, arg.Status, arg.Attempts, arg.LastError, arg.PayloadJSON, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listTransfersByStatus = `
SELECT ` + transferColumns + `
FROM transfers
WHERE status = $1
ORDER BY updated_at ASC
LIMIT $2
`

func (q *Queries) ListTransfersByStatus(ctx context.Context, status string, limit int32) ([]TransferRow, error) {
	rows, err := q.db.Query(ctx, listTransfersByStatus, status, limit)
	if err != nil {
		return nil, err
	}
	return collectTransfers(rows)
}
