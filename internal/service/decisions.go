package service

import (
	"context"
	"errors"
	"strings"

	"github.com/ayo6706/fraudflow/internal/models"
	"go.uber.org/zap"
)

// DecisionService reads finalized decisions and records analyst feedback.
type DecisionService struct {
	store DecisionStore
}

func NewDecisionService(store DecisionStore) *DecisionService {
	return &DecisionService{store: store}
}

func (s *DecisionService) Get(ctx context.Context, txID string) (*models.FraudDecision, error) {
	d, err := s.store.GetDecision(ctx, strings.TrimSpace(txID))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrDecisionNotFound
		}
		return nil, err
	}
	return d, nil
}

// List returns the newest decisions first. reviewed filters on feedback state
// when set.
func (s *DecisionService) List(ctx context.Context, reviewed *bool, limit int) ([]models.FraudDecision, error) {
	return s.store.ListDecisions(ctx, models.DecisionFilter{
		Reviewed: reviewed,
		Limit:    clampLimit(limit),
	})
}

// Label marks a decision reviewed with the analyst's ground truth:
// 1 for fraud, 0 for legitimate.
func (s *DecisionService) Label(ctx context.Context, txID string, label int, actorID string) (*models.FraudDecision, error) {
	if label != 0 && label != 1 {
		return nil, ErrInvalidLabel
	}
	d, err := s.store.LabelDecision(ctx, strings.TrimSpace(txID), label, actorID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrDecisionNotFound
		}
		return nil, err
	}
	zap.L().Info("decision labeled",
		zap.String("transaction_id", d.TransactionID),
		zap.Int("true_label", label),
		zap.String("actor_id", actorID),
	)
	return d, nil
}
