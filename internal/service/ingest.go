package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/fraudflow/internal/domain"
	"github.com/ayo6706/fraudflow/internal/events"
	"github.com/ayo6706/fraudflow/internal/models"
	"github.com/ayo6706/fraudflow/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	highValueCurrency = "USD"
	highValueMaxDaily = 2
)

var highValueThreshold = decimal.NewFromInt(500)

// IngestRequest is an externally submitted transaction.
type IngestRequest struct {
	ID         string
	Type       string
	SenderID   string
	ReceiverID *string
	MerchantID *string
	Amount     decimal.Decimal
	Currency   string
	DeviceID   string
	IP         *string
	EventTime  time.Time
}

// IngestService accepts transactions into the fact store and queues their
// TransactionReceived event in the outbox within the same database transaction.
type IngestService struct {
	store          FactStore
	highValueLimit bool
	now            func() time.Time
}

func NewIngestService(store FactStore, highValueLimit bool) *IngestService {
	return &IngestService{
		store:          store,
		highValueLimit: highValueLimit,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Ingest stores the fact once. Re-submitting an id returns the stored fact
// unchanged with created=false.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (*models.TransactionFact, bool, error) {
	fact, err := s.normalize(req)
	if err != nil {
		observability.IncrementIngest("rejected")
		return nil, false, err
	}

	payload := events.TransactionFact{
		ID:         fact.ID,
		Type:       fact.Type,
		SenderID:   fact.SenderID,
		ReceiverID: fact.ReceiverID,
		MerchantID: fact.MerchantID,
		Amount:     fact.Amount,
		Currency:   fact.Currency,
		DeviceID:   fact.DeviceID,
		IP:         fact.IP,
		EventTime:  fact.EventTime,
		ReceivedAt: fact.ReceivedAt,
	}
	entry, err := newOutboxEntry(domain.AggregateTransaction, fact.ID, domain.EventTransactionReceived, domain.TopicTransactionsRaw, payload, fact.ReceivedAt, 0)
	if err != nil {
		return nil, false, err
	}

	stored, created, err := s.store.CreateFact(ctx, fact, entry, s.limitFor(fact))
	if err != nil {
		if errors.Is(err, models.ErrDailyLimitExceed) {
			observability.IncrementIngest("limited")
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
		}
		observability.IncrementIngest("error")
		return nil, false, fmt.Errorf("create transaction fact: %w", err)
	}

	if created {
		observability.IncrementIngest("created")
		zap.L().Info("transaction accepted",
			zap.String("transaction_id", stored.ID),
			zap.String("type", stored.Type),
			zap.String("amount", stored.Amount.String()),
			zap.String("currency", stored.Currency),
		)
	} else {
		observability.IncrementIngest("duplicate")
	}
	return stored, created, nil
}

func (s *IngestService) Get(ctx context.Context, id string) (*models.TransactionFact, error) {
	fact, err := s.store.GetFact(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrFactNotFound
		}
		return nil, err
	}
	return fact, nil
}

// ListRecent returns the newest facts first; limit is clamped to [1,200].
func (s *IngestService) ListRecent(ctx context.Context, limit int) ([]models.TransactionFact, error) {
	return s.store.ListRecentFacts(ctx, clampLimit(limit))
}

func (s *IngestService) normalize(req IngestRequest) (models.TransactionFact, error) {
	fact := models.TransactionFact{
		ID:         strings.TrimSpace(req.ID),
		Type:       strings.ToUpper(strings.TrimSpace(req.Type)),
		SenderID:   strings.TrimSpace(req.SenderID),
		ReceiverID: trimOptional(req.ReceiverID),
		MerchantID: trimOptional(req.MerchantID),
		Amount:     req.Amount,
		Currency:   strings.ToUpper(strings.TrimSpace(req.Currency)),
		DeviceID:   strings.TrimSpace(req.DeviceID),
		IP:         trimOptional(req.IP),
		EventTime:  req.EventTime.UTC(),
		ReceivedAt: s.now(),
	}
	if fact.EventTime.IsZero() {
		fact.EventTime = fact.ReceivedAt
	}

	if fact.ID == "" {
		return fact, fmt.Errorf("%w: transaction id is required", ErrInvalidTransaction)
	}
	if fact.SenderID == "" {
		return fact, fmt.Errorf("%w: sender id is required", ErrInvalidTransaction)
	}
	if !fact.Amount.IsPositive() {
		return fact, fmt.Errorf("%w: amount must be positive", ErrInvalidTransaction)
	}
	if !domain.FitsMicros(fact.Amount) {
		return fact, fmt.Errorf("%w: amount has more than %d decimal places", ErrInvalidTransaction, domain.MoneyScale)
	}
	if !isCurrencyCode(fact.Currency) {
		return fact, fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidTransaction)
	}

	switch fact.Type {
	case domain.TxTypeMerchantPayment:
		if fact.MerchantID == nil {
			return fact, fmt.Errorf("%w: merchantId is required for %s", ErrInvalidTransaction, fact.Type)
		}
		if fact.ReceiverID != nil {
			return fact, fmt.Errorf("%w: receiverId must be empty for %s", ErrInvalidTransaction, fact.Type)
		}
	case domain.TxTypeP2PTransfer:
		if fact.ReceiverID == nil {
			return fact, fmt.Errorf("%w: receiverId is required for %s", ErrInvalidTransaction, fact.Type)
		}
		if fact.MerchantID != nil {
			return fact, fmt.Errorf("%w: merchantId must be empty for %s", ErrInvalidTransaction, fact.Type)
		}
	default:
		return fact, fmt.Errorf("%w: unsupported type %q", ErrInvalidTransaction, req.Type)
	}
	return fact, nil
}

// limitFor returns the daily high-value cap that applies to fact, if any.
func (s *IngestService) limitFor(fact models.TransactionFact) *models.HighValueLimit {
	if !s.highValueLimit || fact.Currency != highValueCurrency {
		return nil
	}
	if !domain.MoneyFromDecimal(fact.Amount, fact.Currency).GreaterThan(highValueThreshold) {
		return nil
	}
	received := fact.ReceivedAt.UTC()
	return &models.HighValueLimit{
		Currency:  highValueCurrency,
		Threshold: highValueThreshold,
		MaxCount:  highValueMaxDaily,
		Since:     time.Date(received.Year(), received.Month(), received.Day(), 0, 0, 0, 0, time.UTC),
	}
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
