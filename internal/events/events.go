// Package events defines the payloads exchanged over the event channel.
package events

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrMissingTransactionID = errors.New("missing transaction id")

// TransactionFact is published on transactions.raw once a transaction is accepted.
type TransactionFact struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	SenderID   string          `json:"senderId"`
	ReceiverID *string         `json:"receiverId,omitempty"`
	MerchantID *string         `json:"merchantId,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	DeviceID   string          `json:"deviceId"`
	IP         *string         `json:"ip,omitempty"`
	EventTime  time.Time       `json:"eventTime"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Snapshot projects the fact into the feature map carried by detector signals.
func (f TransactionFact) Snapshot() *FeatureSnapshot {
	amount := f.Amount
	receivedAt := f.ReceivedAt
	return &FeatureSnapshot{
		SenderID:   optional(f.SenderID),
		ReceiverID: f.ReceiverID,
		MerchantID: f.MerchantID,
		Amount:     &amount,
		Currency:   optional(f.Currency),
		DeviceID:   optional(f.DeviceID),
		ReceivedAt: &receivedAt,
	}
}

type BlacklistCheck struct {
	TxID                string           `json:"txId"`
	BlacklistHit        bool             `json:"blacklistHit"`
	Reason              *string          `json:"reason,omitempty"`
	TransactionSnapshot *FeatureSnapshot `json:"transactionSnapshot,omitempty"`
}

func (e BlacklistCheck) Validate() error {
	return requireTxID(e.TxID)
}

type RuleEvaluation struct {
	TxID        string           `json:"txId"`
	RuleScore   float64          `json:"ruleScore"`
	RuleBand    string           `json:"ruleBand"`
	RuleMatches []string         `json:"ruleMatches"`
	RuleVersion *int             `json:"ruleVersion,omitempty"`
	Features    *FeatureSnapshot `json:"features,omitempty"`
}

func (e RuleEvaluation) Validate() error {
	return requireTxID(e.TxID)
}

// Band returns the upper-cased rule band.
func (e RuleEvaluation) Band() string {
	return strings.ToUpper(strings.TrimSpace(e.RuleBand))
}

type MlScore struct {
	TxID         string  `json:"txId"`
	MlScore      float64 `json:"mlScore"`
	ModelVersion *string `json:"modelVersion,omitempty"`
}

func (e MlScore) Validate() error {
	return requireTxID(e.TxID)
}

// FraudFinalDecision is the merged verdict published on fraud.final.
type FraudFinalDecision struct {
	TxID           string           `json:"txId"`
	SenderID       *string          `json:"senderId"`
	ReceiverID     *string          `json:"receiverId,omitempty"`
	MerchantID     *string          `json:"merchantId,omitempty"`
	Amount         *decimal.Decimal `json:"amount"`
	Currency       *string          `json:"currency"`
	Country        *string          `json:"country,omitempty"`
	FeaturesJSON   string           `json:"featuresJson"`
	BlacklistHit   bool             `json:"blacklistHit"`
	RuleScore      *float64         `json:"ruleScore,omitempty"`
	RuleBand       *string          `json:"ruleBand,omitempty"`
	RuleMatches    []string         `json:"ruleMatches"`
	MlScore        *float64         `json:"mlScore,omitempty"`
	MlBand         *string          `json:"mlBand,omitempty"`
	FinalDecision  string           `json:"finalDecision"`
	DecisionReason string           `json:"decisionReason"`
	ModelVersion   *string          `json:"modelVersion,omitempty"`
	RuleVersion    *int             `json:"ruleVersion,omitempty"`
	DecidedAt      time.Time        `json:"decidedAt"`
}

func (e FraudFinalDecision) Validate() error {
	return requireTxID(e.TxID)
}

func requireTxID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingTransactionID
	}
	return nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
