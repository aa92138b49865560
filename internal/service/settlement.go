package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/fraudflow/internal/domain"
	"github.com/ayo6706/fraudflow/internal/events"
	"github.com/ayo6706/fraudflow/internal/ledger"
	"github.com/ayo6706/fraudflow/internal/models"
	"github.com/ayo6706/fraudflow/internal/observability"
	"go.uber.org/zap"
)

// SettlementService applies ALLOW decisions to the ledger. The transfer row
// is the durable attempt record: it is written before the ledger is called,
// so a crash leaves a state the sweeper can resume from.
type SettlementService struct {
	transfers TransferStore
	ledger    ledger.Ledger
	notifier  *NotificationService
	now       func() time.Time
}

func NewSettlementService(transfers TransferStore, l ledger.Ledger, notifier *NotificationService) *SettlementService {
	if notifier == nil {
		notifier = NewNotificationService(nil)
	}
	return &SettlementService{
		transfers: transfers,
		ledger:    l,
		notifier:  notifier,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SweepResult summarizes one RetryFailed pass.
type SweepResult struct {
	Scanned int
	Applied int
	Failed  int
	Skipped int
}

// HandleDecision settles ALLOW decisions and alerts on the rest. payload is
// the raw event, captured on the transfer for later replay.
func (s *SettlementService) HandleDecision(ctx context.Context, evt events.FraudFinalDecision, payload []byte) error {
	if evt.FinalDecision != domain.DecisionAllow {
		s.notifier.Notify(ctx, evt)
		return nil
	}
	if len(payload) == 0 {
		raw, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("encode decision %s: %w", evt.TxID, err)
		}
		payload = raw
	}

	transfer, err := s.begin(ctx, evt.TxID, payload)
	if err != nil {
		return err
	}
	if transfer.Status == domain.TransferStatusApplied {
		observability.IncrementSettlement("duplicate")
		zap.L().Debug("transfer already applied", zap.String("transaction_id", evt.TxID))
		return nil
	}
	return s.attempt(ctx, evt, transfer.Attempts)
}

// begin moves the transfer into PROCESSING, creating it on first sighting.
// An APPLIED transfer is returned unchanged.
func (s *SettlementService) begin(ctx context.Context, txID string, payload []byte) (*models.Transfer, error) {
	transfer, err := s.transfers.MutateTransfer(ctx, txID, func(current *models.Transfer) (*models.Transfer, error) {
		now := s.now()
		if current == nil {
			if err := requireTransition("", domain.TransferStatusProcessing); err != nil {
				return nil, err
			}
			return &models.Transfer{
				TransactionID: txID,
				Status:        domain.TransferStatusProcessing,
				Attempts:      1,
				Payload:       payload,
				CreatedAt:     now,
				UpdatedAt:     now,
			}, nil
		}
		if current.Status == domain.TransferStatusApplied {
			return nil, nil
		}
		if err := requireTransition(current.Status, domain.TransferStatusProcessing); err != nil {
			return nil, err
		}
		next := *current
		next.Status = domain.TransferStatusProcessing
		next.Attempts++
		next.LastError = nil
		next.UpdatedAt = now
		if len(next.Payload) == 0 {
			next.Payload = payload
		}
		return &next, nil
	})
	if err != nil {
		return nil, fmt.Errorf("begin settlement %s: %w", txID, err)
	}
	return transfer, nil
}

func (s *SettlementService) attempt(ctx context.Context, evt events.FraudFinalDecision, attempts int32) error {
	logger := zap.L().With(zap.String("transaction_id", evt.TxID), zap.Int32("attempts", attempts))

	ledgerErr := s.applyLedger(ctx, evt)
	if ledgerErr == nil {
		if err := s.finish(ctx, evt.TxID, domain.TransferStatusApplied, nil); err != nil {
			return err
		}
		observability.IncrementSettlement("applied")
		logger.Info("transfer applied")
		return nil
	}

	observability.IncrementSettlement("failed")
	logger.Error("settlement attempt failed", zap.Error(ledgerErr))
	if err := s.finish(context.WithoutCancel(ctx), evt.TxID, domain.TransferStatusFailedRetryable, ledgerErr); err != nil {
		return errors.Join(ledgerErr, err)
	}
	return fmt.Errorf("settle %s: %w", evt.TxID, ledgerErr)
}

func (s *SettlementService) finish(ctx context.Context, txID, status string, cause error) error {
	_, err := s.transfers.MutateTransfer(ctx, txID, func(current *models.Transfer) (*models.Transfer, error) {
		if current == nil {
			return nil, fmt.Errorf("transfer %s disappeared", txID)
		}
		if current.Status != domain.TransferStatusProcessing {
			// Another worker already resolved this attempt.
			return nil, nil
		}
		if err := requireTransition(current.Status, status); err != nil {
			return nil, err
		}
		next := *current
		next.Status = status
		next.UpdatedAt = s.now()
		next.LastError = nil
		if cause != nil {
			msg := domain.TruncateError(cause.Error())
			next.LastError = &msg
		}
		return &next, nil
	})
	if err != nil {
		return fmt.Errorf("record settlement outcome %s: %w", txID, err)
	}
	return nil
}

// applyLedger debits the sender and, when present, credits the receiver.
// Each call carries a per-action idempotency key.
func (s *SettlementService) applyLedger(ctx context.Context, evt events.FraudFinalDecision) error {
	if evt.SenderID == nil || *evt.SenderID == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidSettlement)
	}
	if evt.Amount == nil || evt.Currency == nil || *evt.Currency == "" {
		return fmt.Errorf("%w: missing amount or currency", ErrInvalidSettlement)
	}
	if !domain.FitsMicros(*evt.Amount) {
		return fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidSettlement, evt.Amount, domain.MoneyScale)
	}
	money := domain.MoneyFromDecimal(*evt.Amount, *evt.Currency)
	if !money.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidSettlement)
	}

	debit := ledger.Request{
		TransactionID:  evt.TxID,
		UserID:         *evt.SenderID,
		Amount:         money.ToDecimal(),
		Currency:       money.Currency,
		IdempotencyKey: ledger.DebitKey(evt.TxID),
	}
	if err := s.ledger.Debit(ctx, debit); err != nil {
		return fmt.Errorf("debit %s: %w", debit.UserID, err)
	}

	if evt.ReceiverID == nil || *evt.ReceiverID == "" {
		return nil
	}
	credit := debit
	credit.UserID = *evt.ReceiverID
	credit.IdempotencyKey = ledger.CreditKey(evt.TxID)
	if err := s.ledger.Credit(ctx, credit); err != nil {
		return fmt.Errorf("credit %s: %w", credit.UserID, err)
	}
	return nil
}

// RetryFailed re-drives up to batch FAILED_RETRYABLE transfers, oldest first.
// Attempt failures are already persisted on the row and are not returned.
func (s *SettlementService) RetryFailed(ctx context.Context, batch int32) (SweepResult, error) {
	var result SweepResult
	transfers, err := s.transfers.ListTransfers(ctx, domain.TransferStatusFailedRetryable, batch)
	if err != nil {
		return result, fmt.Errorf("list retryable transfers: %w", err)
	}

	for _, t := range transfers {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Scanned++

		var evt events.FraudFinalDecision
		decodeErr := json.Unmarshal(t.Payload, &evt)
		if decodeErr == nil {
			decodeErr = evt.Validate()
		}
		if decodeErr != nil {
			result.Failed++
			if err := s.recordReplayFailure(ctx, t.TransactionID, decodeErr); err != nil {
				return result, err
			}
			continue
		}
		if evt.FinalDecision != domain.DecisionAllow {
			result.Skipped++
			zap.L().Warn("retryable transfer carries a non-ALLOW decision", zap.String("transaction_id", t.TransactionID))
			continue
		}

		transfer, err := s.begin(ctx, t.TransactionID, t.Payload)
		if err != nil {
			return result, err
		}
		if transfer.Status == domain.TransferStatusApplied {
			result.Skipped++
			continue
		}
		if err := s.attempt(ctx, evt, transfer.Attempts); err != nil {
			result.Failed++
			continue
		}
		result.Applied++
	}
	return result, nil
}

// recordReplayFailure counts a payload that could not be decoded as a failed attempt.
func (s *SettlementService) recordReplayFailure(ctx context.Context, txID string, cause error) error {
	zap.L().Error("captured transfer payload is unreadable", zap.String("transaction_id", txID), zap.Error(cause))
	observability.IncrementSettlement("corrupt_payload")
	_, err := s.transfers.MutateTransfer(ctx, txID, func(current *models.Transfer) (*models.Transfer, error) {
		if current == nil || current.Status != domain.TransferStatusFailedRetryable {
			return nil, nil
		}
		next := *current
		next.Attempts++
		msg := domain.TruncateError("decode payload: " + cause.Error())
		next.LastError = &msg
		next.UpdatedAt = s.now()
		return &next, nil
	})
	if err != nil {
		return fmt.Errorf("record replay failure %s: %w", txID, err)
	}
	return nil
}

func (s *SettlementService) GetTransfer(ctx context.Context, txID string) (*models.Transfer, error) {
	t, err := s.transfers.GetTransfer(ctx, txID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *SettlementService) ListTransfers(ctx context.Context, status string, limit int) ([]models.Transfer, error) {
	if status == "" {
		status = domain.TransferStatusFailedRetryable
	}
	return s.transfers.ListTransfers(ctx, normalizeState(status), clampLimit(limit))
}
