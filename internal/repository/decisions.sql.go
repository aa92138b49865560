package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type FraudDecisionRow struct {
	TransactionID  string
	SenderID       *string
	ReceiverID     *string
	MerchantID     *string
	Amount         *string
	Currency       *string
	Country        *string
	FeaturesJSON   []byte
	BlacklistHit   bool
	RuleScore      *float64
	RuleBand       *string
	RuleMatches    []byte
	MlScore        *float64
	MlBand         *string
	FinalDecision  string
	DecisionReason string
	ModelVersion   *string
	RuleVersion    *int32
	DecidedAt      time.Time
	Reviewed       bool
	TrueLabel      *int16
}

const fraudDecisionColumns = `transaction_id, sender_id, receiver_id, merchant_id, amount::text, currency, country,
	features_json, blacklist_hit, rule_score, rule_band, rule_matches, ml_score, ml_band,
	final_decision, decision_reason, model_version, rule_version, decided_at, reviewed, true_label`

func scanFraudDecision(row pgx.Row) (FraudDecisionRow, error) {
	var r FraudDecisionRow
	err := row.Scan(
		&r.TransactionID, &r.SenderID, &r.ReceiverID, &r.MerchantID, &r.Amount, &r.Currency, &r.Country,
		&r.FeaturesJSON, &r.BlacklistHit, &r.RuleScore, &r.RuleBand, &r.RuleMatches, &r.MlScore, &r.MlBand,
		&r.FinalDecision, &r.DecisionReason, &r.ModelVersion, &r.RuleVersion, &r.DecidedAt, &r.Reviewed, &r.TrueLabel,
	)
	return r, err
}

const insertFraudDecision = `
INSERT INTO fraud_decisions (
	transaction_id, sender_id, receiver_id, merchant_id, amount, currency, country,
	features_json, blacklist_hit, rule_score, rule_band, rule_matches, ml_score, ml_band,
	final_decision, decision_reason, model_version, rule_version, decided_at
) VALUES (
	$1, $2, $3, $4, $5::text::numeric, $6, $7,
	$8, $9, $10, $11, $12, $13, $14,
	$15, $16, $17, $18, $19
)
ON CONFLICT (transaction_id) DO NOTHING
`

// InsertFraudDecision returns 0 when a decision already exists for the transaction.
func (q *Queries) InsertFraudDecision(ctx context.Context, arg FraudDecisionRow) (int64, error) {
	tag, err := q.db.Exec(ctx, insertFraudDecision,
		arg.TransactionID, arg.SenderID, arg.ReceiverID, arg.MerchantID, arg.Amount, arg.Currency, arg.Country,
		arg.FeaturesJSON, arg.BlacklistHit, arg.RuleScore, arg.RuleBand, arg.RuleMatches, arg.MlScore, arg.MlBand,
		arg.FinalDecision, arg.DecisionReason, arg.ModelVersion, arg.RuleVersion, arg.DecidedAt,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getFraudDecision = `SELECT ` + fraudDecisionColumns + ` FROM fraud_decisions WHERE transaction_id = $1`

func (q *Queries) GetFraudDecision(ctx context.Context, transactionID string) (FraudDecisionRow, error) {
	return scanFraudDecision(q.db.QueryRow(ctx, getFraudDecision, transactionID))
}

const listFraudDecisions = `
SELECT ` + fraudDecisionColumns + `
FROM fraud_decisions
WHERE ($1::boolean IS NULL OR reviewed = $1)
ORDER BY decided_at DESC
LIMIT $2
`

func (q *Queries) ListFraudDecisions(ctx context.Context, reviewed *bool, limit int32) ([]FraudDecisionRow, error) {
	rows, err := q.db.Query(ctx, listFraudDecisions, reviewed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []FraudDecisionRow
	for rows.Next() {
		r, err := scanFraudDecision(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const updateFraudDecisionLabel = `
UPDATE fraud_decisions
SET reviewed = TRUE, true_label = $2
WHERE transaction_id = $1
`

func (q *Queries) UpdateFraudDecisionLabel(ctx context.Context, transactionID string, label int16) (int64, error) {
	tag, err := q.db.Exec(ctx, updateFraudDecisionLabel, transactionID, label)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
