package repository

import (
	"encoding/json"
	"fmt"

	"github.com/ayo6706/fraudflow/internal/models"
	"github.com/shopspring/decimal"
)

func factToRow(f models.TransactionFact) TransactionFactRow {
	return TransactionFactRow{
		TransactionID: f.ID,
		Type:          f.Type,
		SenderID:      f.SenderID,
		ReceiverID:    f.ReceiverID,
		MerchantID:    f.MerchantID,
		Amount:        f.Amount.String(),
		Currency:      f.Currency,
		DeviceID:      f.DeviceID,
		IP:            f.IP,
		EventTime:     f.EventTime,
		ReceivedAt:    f.ReceivedAt,
	}
}

func factFromRow(r TransactionFactRow) (*models.TransactionFact, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse fact amount %q: %w", r.Amount, err)
	}
	return &models.TransactionFact{
		ID:         r.TransactionID,
		Type:       r.Type,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		MerchantID: r.MerchantID,
		Amount:     amount,
		Currency:   r.Currency,
		DeviceID:   r.DeviceID,
		IP:         r.IP,
		EventTime:  r.EventTime,
		ReceivedAt: r.ReceivedAt,
	}, nil
}

func outboxFromRow(e OutboxEvent) models.OutboxEntry {
	return models.OutboxEntry{
		ID:            FromPgUUID(e.ID),
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Topic:         e.Topic,
		Payload:       json.RawMessage(e.Payload),
		Status:        e.Status,
		AttemptCount:  e.AttemptCount,
		NextRetryAt:   e.NextRetryAt,
		LastError:     e.LastError,
		CreatedAt:     e.CreatedAt,
		PublishedAt:   e.PublishedAt,
	}
}

func outboxToInsert(e models.OutboxEntry) InsertOutboxEventParams {
	return InsertOutboxEventParams{
		ID:            ToPgUUID(e.ID),
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Topic:         e.Topic,
		Payload:       e.Payload,
		NextRetryAt:   e.NextRetryAt,
		CreatedAt:     e.CreatedAt,
	}
}

func decisionToRow(d models.FraudDecision) (FraudDecisionRow, error) {
	matches := d.RuleMatches
	if matches == nil {
		matches = []string{}
	}
	matchesJSON, err := json.Marshal(matches)
	if err != nil {
		return FraudDecisionRow{}, fmt.Errorf("encode rule matches: %w", err)
	}
	features := []byte(d.FeaturesJSON)
	if len(features) == 0 {
		features = []byte("{}")
	}

	row := FraudDecisionRow{
		TransactionID:  d.TransactionID,
		SenderID:       d.SenderID,
		ReceiverID:     d.ReceiverID,
		MerchantID:     d.MerchantID,
		Currency:       d.Currency,
		Country:        d.Country,
		FeaturesJSON:   features,
		BlacklistHit:   d.BlacklistHit,
		RuleScore:      d.RuleScore,
		RuleBand:       d.RuleBand,
		RuleMatches:    matchesJSON,
		MlScore:        d.MlScore,
		MlBand:         d.MlBand,
		FinalDecision:  d.FinalDecision,
		DecisionReason: d.DecisionReason,
		ModelVersion:   d.ModelVersion,
		DecidedAt:      d.DecidedAt,
	}
	if d.Amount != nil {
		s := d.Amount.String()
		row.Amount = &s
	}
	if d.RuleVersion != nil {
		v := int32(*d.RuleVersion)
		row.RuleVersion = &v
	}
	return row, nil
}

func decisionFromRow(r FraudDecisionRow) (*models.FraudDecision, error) {
	d := &models.FraudDecision{
		TransactionID:  r.TransactionID,
		SenderID:       r.SenderID,
		ReceiverID:     r.ReceiverID,
		MerchantID:     r.MerchantID,
		Currency:       r.Currency,
		Country:        r.Country,
		FeaturesJSON:   json.RawMessage(r.FeaturesJSON),
		BlacklistHit:   r.BlacklistHit,
		RuleScore:      r.RuleScore,
		RuleBand:       r.RuleBand,
		MlScore:        r.MlScore,
		MlBand:         r.MlBand,
		FinalDecision:  r.FinalDecision,
		DecisionReason: r.DecisionReason,
		ModelVersion:   r.ModelVersion,
		DecidedAt:      r.DecidedAt,
		Reviewed:       r.Reviewed,
		RuleMatches:    []string{},
	}
	if r.Amount != nil {
		amount, err := decimal.NewFromString(*r.Amount)
		if err != nil {
			return nil, fmt.Errorf("parse decision amount %q: %w", *r.Amount, err)
		}
		d.Amount = &amount
	}
	if len(r.RuleMatches) > 0 {
		if err := json.Unmarshal(r.RuleMatches, &d.RuleMatches); err != nil {
			return nil, fmt.Errorf("decode rule matches: %w", err)
		}
	}
	if r.RuleVersion != nil {
		v := int(*r.RuleVersion)
		d.RuleVersion = &v
	}
	if r.TrueLabel != nil {
		v := int(*r.TrueLabel)
		d.TrueLabel = &v
	}
	return d, nil
}

func transferFromRow(r TransferRow) *models.Transfer {
	return &models.Transfer{
		TransactionID: r.TransactionID,
		Status:        r.Status,
		Attempts:      r.Attempts,
		LastError:     r.LastError,
		Payload:       json.RawMessage(r.PayloadJSON),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func transferToRow(t models.Transfer) TransferRow {
	if len(t.Payload) == 0 {
		t.Payload = json.RawMessage("{}")
	}
	return TransferRow{
		TransactionID: t.TransactionID,
		Status:        t.Status,
		Attempts:      t.Attempts,
		LastError:     t.LastError,
		PayloadJSON:   t.Payload,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}
