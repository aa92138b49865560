package service

import (
	"context"

	"github.com/ayo6706/fraudflow/internal/domain"
	"github.com/ayo6706/fraudflow/internal/events"
	"go.uber.org/zap"
)

// NotificationService raises alerts for decisions that stop a payment.
type NotificationService struct {
	logger *zap.Logger
}

func NewNotificationService(logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.L()
	}
	return &NotificationService{logger: logger}
}

func (n *NotificationService) Notify(_ context.Context, evt events.FraudFinalDecision) {
	fields := []zap.Field{
		zap.String("transaction_id", evt.TxID),
		zap.String("decision", evt.FinalDecision),
		zap.String("reason", evt.DecisionReason),
	}
	if evt.MlScore != nil {
		fields = append(fields, zap.Float64("ml_score", *evt.MlScore))
	}
	if evt.RuleScore != nil {
		fields = append(fields, zap.Float64("rule_score", *evt.RuleScore))
	}

	switch evt.FinalDecision {
	case domain.DecisionBlock, domain.DecisionHold:
		n.logger.Warn("fraud alert", fields...)
	default:
		n.logger.Info("fraud decision audited", fields...)
	}
}
