// Package ledger is the client side of the external account ledger.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrLedgerUnavailable = errors.New("ledger unavailable")

// Request is one balance movement. IdempotencyKey must be stable for a
// given (transaction, action) pair so the ledger can absorb replays.
type Request struct {
	TransactionID  string
	UserID         string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// Ledger moves funds on user accounts. Both calls must be safe to repeat
// with the same idempotency key.
type Ledger interface {
	Debit(ctx context.Context, req Request) error
	Credit(ctx context.Context, req Request) error
}

// DebitKey and CreditKey build the per-action idempotency keys.
func DebitKey(txID string) string {
	return fmt.Sprintf("%s:debit", txID)
}

func CreditKey(txID string) string {
	return fmt.Sprintf("%s:credit", txID)
}
