package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDailyLimitExceed = errors.New("daily high-value transaction limit exceeded")
)

// TransactionFact is the immutable record of an accepted transaction.
type TransactionFact struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	SenderID   string          `json:"sender_id"`
	ReceiverID *string         `json:"receiver_id,omitempty"`
	MerchantID *string         `json:"merchant_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	DeviceID   string          `json:"device_id"`
	IP         *string         `json:"ip,omitempty"`
	EventTime  time.Time       `json:"event_time"`
	ReceivedAt time.Time       `json:"received_at"`
}

type OutboxEntry struct {
	ID            uuid.UUID       `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Topic         string          `json:"topic"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	AttemptCount  int32           `json:"attempt_count"`
	NextRetryAt   time.Time       `json:"next_retry_at"`
	LastError     *string         `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   *time.Time      `json:"published_at,omitempty"`
}

// FraudDecision is the audit row written once per finalized transaction.
type FraudDecision struct {
	TransactionID  string           `json:"transaction_id"`
	SenderID       *string          `json:"sender_id,omitempty"`
	ReceiverID     *string          `json:"receiver_id,omitempty"`
	MerchantID     *string          `json:"merchant_id,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Currency       *string          `json:"currency,omitempty"`
	Country        *string          `json:"country,omitempty"`
	FeaturesJSON   json.RawMessage  `json:"features"`
	BlacklistHit   bool             `json:"blacklist_hit"`
	RuleScore      *float64         `json:"rule_score,omitempty"`
	RuleBand       *string          `json:"rule_band,omitempty"`
	RuleMatches    []string         `json:"rule_matches"`
	MlScore        *float64         `json:"ml_score,omitempty"`
	MlBand         *string          `json:"ml_band,omitempty"`
	FinalDecision  string           `json:"final_decision"`
	DecisionReason string           `json:"decision_reason"`
	ModelVersion   *string          `json:"model_version,omitempty"`
	RuleVersion    *int             `json:"rule_version,omitempty"`
	DecidedAt      time.Time        `json:"decided_at"`
	Reviewed       bool             `json:"reviewed"`
	TrueLabel      *int             `json:"true_label,omitempty"`
}

// DecisionFilter narrows decision listings.
type DecisionFilter struct {
	Reviewed *bool
	Limit    int32
}

// HighValueLimit caps how many transactions above Threshold one sender may
// submit in Currency since the start of the current window.
type HighValueLimit struct {
	Currency  string
	Threshold decimal.Decimal
	MaxCount  int64
	Since     time.Time
}

// Transfer tracks settlement of an ALLOW decision.
type Transfer struct {
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	Attempts      int32           `json:"attempts"`
	LastError     *string         `json:"last_error,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
