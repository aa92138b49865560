package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/fraudflow/internal/aggregation"
	"github.com/ayo6706/fraudflow/internal/domain"
	"github.com/ayo6706/fraudflow/internal/events"
	"github.com/ayo6706/fraudflow/internal/messaging"
	"github.com/ayo6706/fraudflow/internal/models"
	"github.com/ayo6706/fraudflow/internal/observability"
	"go.uber.org/zap"
)

// FinalizationCoordinator merges detector signals into one decision per
// transaction. Every path funnels into finalize, which only the first caller
// per transaction id gets through.
type FinalizationCoordinator struct {
	aggregates AggregationStore
	marker     FinalizationMarker
	store      FinalizationStore
	publisher  messaging.Publisher
	// relayDelay postpones the decision's outbox entry so the relay only
	// picks it up when the immediate publish did not get marked.
	relayDelay time.Duration
	now        func() time.Time
}

func NewFinalizationCoordinator(aggregates AggregationStore, marker FinalizationMarker, store FinalizationStore, publisher messaging.Publisher, relayDelay time.Duration) *FinalizationCoordinator {
	if relayDelay <= 0 {
		relayDelay = 30 * time.Second
	}
	return &FinalizationCoordinator{
		aggregates: aggregates,
		marker:     marker,
		store:      store,
		publisher:  publisher,
		relayDelay: relayDelay,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// decisionInput carries what the triggering signal knows. Nil fields are
// backfilled during merge.
type decisionInput struct {
	decision     string
	reason       string
	blacklistHit *bool
	ruleScore    *float64
	ruleBand     *string
	ruleMatches  []string
	ruleVersion  *int
	mlScore      *float64
	mlBand       *string
	modelVersion *string
	features     *events.FeatureSnapshot
}

// HandleBlacklist finalizes BLOCK on a hit and otherwise records the miss.
func (c *FinalizationCoordinator) HandleBlacklist(ctx context.Context, evt events.BlacklistCheck) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	if evt.BlacklistHit {
		return c.finalize(ctx, evt.TxID, decisionInput{
			decision:     domain.DecisionBlock,
			reason:       domain.ReasonBlacklist,
			blacklistHit: ptr(true),
			features:     nonEmpty(evt.TransactionSnapshot),
		})
	}
	return c.aggregates.Upsert(ctx, evt.TxID, aggregation.Record{
		BlacklistHit:    ptr(false),
		BlacklistReason: evt.Reason,
		Features:        nonEmpty(evt.TransactionSnapshot),
	})
}

// HandleRule stores the rule verdict and finalizes on SAFE or RISK. GRAY
// waits for the ML score.
func (c *FinalizationCoordinator) HandleRule(ctx context.Context, evt events.RuleEvaluation) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	band := evt.Band()
	score := evt.RuleScore
	matches := evt.RuleMatches
	if matches == nil {
		matches = []string{}
	}
	if err := c.aggregates.Upsert(ctx, evt.TxID, aggregation.Record{
		RuleScore:   &score,
		RuleBand:    &band,
		RuleMatches: matches,
		RuleVersion: evt.RuleVersion,
		Features:    nonEmpty(evt.Features),
	}); err != nil {
		return err
	}

	var decision, reason string
	switch band {
	case domain.BandSafe:
		decision, reason = domain.DecisionAllow, domain.ReasonRuleSafe
	case domain.BandRisk:
		decision, reason = domain.DecisionBlock, domain.ReasonRuleRisk
	case domain.BandGray:
		return nil
	default:
		zap.L().Warn("unknown rule band; waiting for other signals",
			zap.String("transaction_id", evt.TxID),
			zap.String("rule_band", evt.RuleBand),
		)
		return nil
	}
	return c.finalize(ctx, evt.TxID, decisionInput{
		decision:    decision,
		reason:      reason,
		ruleScore:   &score,
		ruleBand:    &band,
		ruleMatches: matches,
		ruleVersion: evt.RuleVersion,
		features:    nonEmpty(evt.Features),
	})
}

// HandleMl stores the score and finalizes only when the stored rule band is GRAY.
func (c *FinalizationCoordinator) HandleMl(ctx context.Context, evt events.MlScore) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	score := evt.MlScore
	if err := c.aggregates.Upsert(ctx, evt.TxID, aggregation.Record{
		MlScore:      &score,
		ModelVersion: evt.ModelVersion,
	}); err != nil {
		return err
	}

	band, err := c.aggregates.RuleBand(ctx, evt.TxID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(band, domain.BandGray) {
		return nil
	}

	decision, reason, mlBand := ClassifyMlScore(score)
	return c.finalize(ctx, evt.TxID, decisionInput{
		decision:     decision,
		reason:       reason,
		ruleBand:     ptr(domain.BandGray),
		mlScore:      &score,
		mlBand:       &mlBand,
		modelVersion: evt.ModelVersion,
	})
}

// ClassifyMlScore maps a score to decision, reason and band.
func ClassifyMlScore(score float64) (decision, reason, band string) {
	switch {
	case score < domain.MLSafeThreshold:
		return domain.DecisionAllow, domain.ReasonMLSafe, domain.BandSafe
	case score > domain.MLRiskThreshold:
		return domain.DecisionBlock, domain.ReasonMLRisk, domain.BandRisk
	default:
		return domain.DecisionHold, domain.ReasonMLGray, domain.BandGray
	}
}

func (c *FinalizationCoordinator) finalize(ctx context.Context, txID string, in decisionInput) error {
	logger := zap.L().With(
		zap.String("transaction_id", txID),
		zap.String("decision", in.decision),
		zap.String("reason", in.reason),
	)

	won, err := c.marker.Acquire(ctx, txID)
	if err != nil {
		observability.IncrementFinalize("error", in.decision, in.reason)
		return err
	}
	if !won {
		observability.IncrementFinalize("lost", in.decision, in.reason)
		logger.Debug("transaction already finalized")
		return nil
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		observability.IncrementFinalize("error", in.decision, in.reason)
		if relErr := c.marker.Release(context.WithoutCancel(ctx), txID); relErr != nil {
			logger.Error("release finalization marker", zap.Error(relErr))
		}
	}()

	record, err := c.aggregates.Get(ctx, txID)
	if err != nil {
		return err
	}
	now := c.now()
	out, err := mergeDecision(txID, in, record, now)
	if err != nil {
		return err
	}
	entry, err := newOutboxEntry(domain.AggregateFraudDecision, txID, domain.EventFraudFinalDecision, domain.TopicFinal, out, now, c.relayDelay)
	if err != nil {
		return err
	}
	decision, err := decisionRecord(out)
	if err != nil {
		return err
	}

	inserted, err := c.store.SaveDecision(ctx, decision, entry)
	if err != nil {
		return fmt.Errorf("save decision %s: %w", txID, err)
	}
	committed = true

	if !inserted {
		// The durable row outlives the marker TTL; nothing is republished.
		observability.IncrementFinalize("duplicate", in.decision, in.reason)
		logger.Info("decision already recorded; skipping publish")
		c.dropAggregate(ctx, txID, logger)
		return nil
	}
	observability.IncrementFinalize("won", in.decision, in.reason)
	logger.Info("transaction finalized")

	if pubErr := c.publisher.Publish(ctx, entry.Topic, txID, entry.Payload,
		messaging.Header{Key: "eventType", Value: entry.EventType},
		messaging.Header{Key: "outboxId", Value: entry.ID.String()},
	); pubErr != nil {
		logger.Warn("immediate decision publish failed; relay will deliver", zap.Error(pubErr))
	} else if markErr := c.store.MarkOutboxSent(ctx, entry.ID, c.now()); markErr != nil {
		logger.Warn("decision published but outbox not marked", zap.Error(markErr))
	}

	c.dropAggregate(ctx, txID, logger)
	return nil
}

func (c *FinalizationCoordinator) dropAggregate(ctx context.Context, txID string, logger *zap.Logger) {
	if err := c.aggregates.Delete(ctx, txID); err != nil {
		logger.Warn("delete aggregation record; it will expire", zap.Error(err))
	}
}

// mergeDecision fills every field the triggering signal left nil from the
// aggregation record, then from the feature snapshot.
func mergeDecision(txID string, in decisionInput, rec aggregation.Record, decidedAt time.Time) (events.FraudFinalDecision, error) {
	features := in.features
	if features.IsEmpty() {
		features = rec.Features
	}

	out := events.FraudFinalDecision{
		TxID:           txID,
		FinalDecision:  in.decision,
		DecisionReason: in.reason,
		BlacklistHit:   firstBool(in.blacklistHit, rec.BlacklistHit),
		RuleScore:      firstNonNil(in.ruleScore, rec.RuleScore),
		RuleBand:       firstNonNil(in.ruleBand, rec.RuleBand),
		RuleVersion:    firstNonNil(in.ruleVersion, rec.RuleVersion),
		MlScore:        firstNonNil(in.mlScore, rec.MlScore),
		MlBand:         in.mlBand,
		ModelVersion:   firstNonNil(in.modelVersion, rec.ModelVersion),
		RuleMatches:    in.ruleMatches,
		DecidedAt:      decidedAt,
		FeaturesJSON:   "{}",
	}
	if out.RuleMatches == nil {
		out.RuleMatches = rec.RuleMatches
	}
	if out.RuleMatches == nil {
		out.RuleMatches = []string{}
	}

	if !features.IsEmpty() {
		out.SenderID = features.SenderID
		out.ReceiverID = features.ReceiverID
		out.MerchantID = features.MerchantID
		out.Amount = features.Amount
		out.Currency = features.Currency
		out.Country = features.SenderAccountCountry
		raw, err := json.Marshal(features)
		if err != nil {
			return out, fmt.Errorf("encode features for %s: %w", txID, err)
		}
		out.FeaturesJSON = string(raw)
	}
	return out, nil
}

func decisionRecord(out events.FraudFinalDecision) (models.FraudDecision, error) {
	features := json.RawMessage(out.FeaturesJSON)
	if !json.Valid(features) {
		return models.FraudDecision{}, fmt.Errorf("features for %s are not valid JSON", out.TxID)
	}
	return models.FraudDecision{
		TransactionID:  out.TxID,
		SenderID:       out.SenderID,
		ReceiverID:     out.ReceiverID,
		MerchantID:     out.MerchantID,
		Amount:         out.Amount,
		Currency:       out.Currency,
		Country:        out.Country,
		FeaturesJSON:   features,
		BlacklistHit:   out.BlacklistHit,
		RuleScore:      out.RuleScore,
		RuleBand:       out.RuleBand,
		RuleMatches:    out.RuleMatches,
		MlScore:        out.MlScore,
		MlBand:         out.MlBand,
		FinalDecision:  out.FinalDecision,
		DecisionReason: out.DecisionReason,
		ModelVersion:   out.ModelVersion,
		RuleVersion:    out.RuleVersion,
		DecidedAt:      out.DecidedAt,
	}, nil
}

func nonEmpty(f *events.FeatureSnapshot) *events.FeatureSnapshot {
	if f.IsEmpty() {
		return nil
	}
	return f
}

func firstNonNil[T any](values ...*T) *T {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstBool(values ...*bool) bool {
	if v := firstNonNil(values...); v != nil {
		return *v
	}
	return false
}
