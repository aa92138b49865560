package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/fraudflow/internal/aggregation"
	"github.com/ayo6706/fraudflow/internal/domain"
	"github.com/ayo6706/fraudflow/internal/events"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type coordinatorHarness struct {
	coord      *FinalizationCoordinator
	store      *memStore
	aggregates *memAggregates
	marker     *memMarker
	pub        *memPublisher
	clock      *fakeClock
}

func newCoordinatorHarness() *coordinatorHarness {
	h := &coordinatorHarness{
		store:      newMemStore(),
		aggregates: newMemAggregates(),
		marker:     newMemMarker(),
		pub:        &memPublisher{},
		clock:      newFakeClock(),
	}
	h.coord = NewFinalizationCoordinator(h.aggregates, h.marker, h.store, h.pub, 30*time.Second)
	h.coord.now = h.clock.Now
	return h
}

func (h *coordinatorHarness) published(t *testing.T) []events.FraudFinalDecision {
	t.Helper()
	var out []events.FraudFinalDecision
	for _, m := range h.pub.onTopic(domain.TopicFinal) {
		var evt events.FraudFinalDecision
		require.NoError(t, json.Unmarshal(m.payload, &evt))
		assert.Equal(t, evt.TxID, m.key)
		out = append(out, evt)
	}
	return out
}

func snapshot() *events.FeatureSnapshot {
	amount := decimal.RequireFromString("120.00")
	return &events.FeatureSnapshot{
		SenderID:             ptr("1001"),
		ReceiverID:           ptr("2002"),
		Amount:               &amount,
		Currency:             ptr("USD"),
		SenderAccountCountry: ptr("VN"),
		Extra:                map[string]json.RawMessage{"txCountLast1h": json.RawMessage(`4`)},
	}
}

func grayRule(txID string, score float64) events.RuleEvaluation {
	return events.RuleEvaluation{
		TxID:        txID,
		RuleScore:   score,
		RuleBand:    "GRAY",
		RuleMatches: []string{"VELOCITY_1H"},
		RuleVersion: ptr(3),
		Features:    snapshot(),
	}
}

func TestFinalizeIsIdempotentForDuplicateBlacklistHit(t *testing.T) {
	h := newCoordinatorHarness()
	ctx := context.Background()
	hit := events.BlacklistCheck{TxID: "tx-dup", BlacklistHit: true, Reason: ptr("BLACKLISTED_IP")}

	require.NoError(t, h.coord.HandleBlacklist(ctx, hit))
	require.NoError(t, h.coord.HandleBlacklist(ctx, hit))

	assert.Equal(t, 1, h.store.decisionCount())
	assert.Len(t, h.published(t), 1)
}

func TestFinalizeOrderIndependence(t *testing.T) {
	h := newCoordinatorHarness()
	ctx := context.Background()

	require.NoError(t, h.coord.HandleRule(ctx, grayRule("tx-ord", 0.5)))
	require.NoError(t, h.coord.HandleMl(ctx, events.MlScore{TxID: "tx-ord", MlScore: 0.1, ModelVersion: ptr("v7")}))
	require.NoError(t, h.coord.HandleRule(ctx, grayRule("tx-ord", 0.5)))
	require.NoError(t, h.coord.HandleMl(ctx, events.MlScore{TxID: "tx-ord", MlScore: 0.9, ModelVersion: ptr("v7")}))

	require.Equal(t, 1, h.store.decisionCount())
	published := h.published(t)
	require.Len(t, published, 1)
	assert.Equal(t, domain.DecisionAllow, published[0].FinalDecision)
	assert.Equal(t, domain.ReasonMLSafe, published[0].DecisionReason)
}

func TestBlacklistHitShortCircuitsLaterSafeRule(t *testing.T) {
	h := newCoordinatorHarness()
	ctx := context.Background()

	require.NoError(t, h.coord.HandleBlacklist(ctx, events.BlacklistCheck{TxID: "tx-sc", BlacklistHit: true}))
	safe := grayRule("tx-sc", 0.05)
	safe.RuleBand = "safe"
	require.NoError(t, h.coord.HandleRule(ctx, safe))

	decision, err := h.store.GetDecision(ctx, "tx-sc")
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionBlock, decision.FinalDecision)
	assert.Equal(t, domain.ReasonBlacklist, decision.DecisionReason)
	assert.Len(t, h.published(t), 1)
}

func TestScenarioA_GrayRuleThenRiskyMl(t *testing.T) {
	h := newCoordinatorHarness()
	ctx := context.Background()

	require.NoError(t, h.coord.HandleBlacklist(ctx, events.BlacklistCheck{TxID: "tx-1", BlacklistHit: false}))
	require.NoError(t, h.coord.HandleRule(ctx, grayRule("tx-1", 0.55)))
	assert.Empty(t, h.published(t))

	require.NoError(t, h.coord.HandleMl(ctx, events.MlScore{TxID: "tx-1", MlScore: 0.82, ModelVersion: ptr("xgb-2")}))

	published := h.published(t)
	require.Len(t, published, 1)
	got := published[0]
	assert.Equal(t, domain.DecisionBlock, got.FinalDecision)
	assert.Equal(t, domain.ReasonMLRisk, got.DecisionReason)
	assert.False(t, got.BlacklistHit)
	require.NotNil(t, got.RuleScore)
	assert.InDelta(t, 0.55, *got.RuleScore, 1e-9)
	assert.Equal(t, ptr(domain.BandGray), got.RuleBand)
	assert.Equal(t, ptr(domain.BandRisk), got.MlBand)
	assert.Equal(t, ptr("xgb-2"), got.ModelVersion)
	assert.Equal(t, ptr(3), got.RuleVersion)
	assert.Equal(t, []string{"VELOCITY_1H"}, got.RuleMatches)
	assert.Equal(t, ptr("1001"), got.SenderID)
	assert.Equal(t, ptr("VN"), got.Country)
	assert.JSONEq(t, `{"senderId":"1001","receiverId":"2002","amount":"120","currency":"USD","senderAccountCountry":"VN","txCountLast1h":4}`, got.FeaturesJSON)

	assert.False(t, h.aggregates.has("tx-1"))
}

func TestScenarioB_BlacklistHitPublishesImmediately(t *testing.T) {
	h := newCoordinatorHarness()
	ctx := context.Background()

	require.NoError(t, h.coord.HandleBlacklist(ctx, events.BlacklistCheck{
		TxID:                "tx-2",
		BlacklistHit:        true,
		Reason:              ptr("BLACKLISTED_DEVICE"),
		TransactionSnapshot: snapshot(),
	}))

	published := h.published(t)
	require.Len(t, published, 1)
	assert.Equal(t, domain.DecisionBlock, published[0].FinalDecision)
	assert.Equal(t, domain.ReasonBlacklist, published[0].DecisionReason)
	assert.True(t, published[0].BlacklistHit)
	assert.Nil(t, published[0].RuleScore)
	assert.Nil(t, published[0].MlScore)
	assert.Nil(t, published[0].MlBand)
	assert.Equal(t, []string{}, published[0].RuleMatches)
	require.NotNil(t, published[0].Amount)
	assert.True(t, published[0].Amount.Equal(decimal.NewFromInt(120)))

	entry := h.store.outboxFor(domain.AggregateFraudDecision, "tx-2")
	require.NotNil(t, entry)
	assert.Equal(t, domain.OutboxStatusSent, entry.Status)
}

func TestMlWithoutGrayBandDoesNotFinalize(t *testing.T) {
	h := newCoordinatorHarness()
	ctx := context.Background()

	require.NoError(t, h.coord.HandleMl(ctx, events.MlScore{TxID: "tx-ml", MlScore: 0.95}))
	assert.Zero(t, h.store.decisionCount())

	rec, err := h.aggregates.Get(ctx, "tx-ml")
	require.NoError(t, err)
	require.NotNil(t, rec.MlScore)
	assert.InDelta(t, 0.95, *rec.MlScore, 1e-9)
	assert.False(t, h.marker.isHeld("tx-ml"))
}

func TestRuleRiskFinalizesBlock(t *testing.T) {
	h := newCoordinatorHarness()
	ctx := context.Background()

	risk := grayRule("tx-risk", 0.93)
	risk.RuleBand = "RISK"
	require.NoError(t, h.coord.HandleRule(ctx, risk))

	decision, err := h.store.GetDecision(ctx, "tx-risk")
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionBlock, decision.FinalDecision)
	assert.Equal(t, domain.ReasonRuleRisk, decision.DecisionReason)
}

func TestClassifyMlScore(t *testing.T) {
	cases := []struct {
		score    float64
		decision string
		reason   string
		band     string
	}{
		{0.0, domain.DecisionAllow, domain.ReasonMLSafe, domain.BandSafe},
		{0.299, domain.DecisionAllow, domain.ReasonMLSafe, domain.BandSafe},
		{0.30, domain.DecisionHold, domain.ReasonMLGray, domain.BandGray},
		{0.70, domain.DecisionHold, domain.ReasonMLGray, domain.BandGray},
		{0.7001, domain.DecisionBlock, domain.ReasonMLRisk, domain.BandRisk},
		{1.0, domain.DecisionBlock, domain.ReasonMLRisk, domain.BandRisk},
	}
	for _, tc := range cases {
		decision, reason, band := ClassifyMlScore(tc.score)
		assert.Equal(t, tc.decision, decision, "score %v", tc.score)
		assert.Equal(t, tc.reason, reason, "score %v", tc.score)
		assert.Equal(t, tc.band, band, "score %v", tc.score)
	}
}

func TestMergeBackfillsFromRecordAndSnapshot(t *testing.T) {
	rec := aggregation.Record{
		BlacklistHit: ptr(false),
		RuleScore:    ptr(0.4),
		RuleBand:     ptr("GRAY"),
		RuleMatches:  []string{"NEW_DEVICE"},
		MlScore:      ptr(0.2),
		ModelVersion: ptr("v1"),
		Features:     snapshot(),
	}
	in := decisionInput{
		decision: domain.DecisionAllow,
		reason:   domain.ReasonMLSafe,
		mlScore:  ptr(0.25),
		mlBand:   ptr(domain.BandSafe),
	}

	out, err := mergeDecision("tx-m", in, rec, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	assert.InDelta(t, 0.25, *out.MlScore, 1e-9)
	assert.InDelta(t, 0.4, *out.RuleScore, 1e-9)
	assert.Equal(t, []string{"NEW_DEVICE"}, out.RuleMatches)
	assert.Equal(t, ptr("v1"), out.ModelVersion)
	assert.Equal(t, ptr("2002"), out.ReceiverID)
	assert.Equal(t, ptr("USD"), out.Currency)
	assert.Nil(t, out.MerchantID)
}

func TestMergeWithNothingStoredUsesDefaults(t *testing.T) {
	out, err := mergeDecision("tx-empty", decisionInput{decision: domain.DecisionBlock, reason: domain.ReasonBlacklist}, aggregation.Record{}, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	assert.False(t, out.BlacklistHit)
	assert.Nil(t, out.SenderID)
	assert.Nil(t, out.Amount)
	assert.Nil(t, out.Currency)
	assert.Equal(t, []string{}, out.RuleMatches)
	assert.Equal(t, "{}", out.FeaturesJSON)
}

func TestFinalizeReleasesMarkerWhenSaveFails(t *testing.T) {
	h := newCoordinatorHarness()
	ctx := context.Background()
	h.store.saveErr = errors.New("connection reset")

	hit := events.BlacklistCheck{TxID: "tx-retry", BlacklistHit: true}
	require.Error(t, h.coord.HandleBlacklist(ctx, hit))
	assert.False(t, h.marker.isHeld("tx-retry"))
	assert.Empty(t, h.published(t))

	h.store.saveErr = nil
	require.NoError(t, h.coord.HandleBlacklist(ctx, hit))
	assert.Len(t, h.published(t), 1)
	assert.True(t, h.marker.isHeld("tx-retry"))
}

func TestExpiredMarkerDoesNotRepublish(t *testing.T) {
	h := newCoordinatorHarness()
	ctx := context.Background()
	hit := events.BlacklistCheck{TxID: "tx-late", BlacklistHit: true}

	require.NoError(t, h.coord.HandleBlacklist(ctx, hit))
	// Simulate TTL expiry of the marker before a very late duplicate.
	require.NoError(t, h.marker.Release(ctx, "tx-late"))
	require.NoError(t, h.coord.HandleBlacklist(ctx, hit))

	assert.Equal(t, 1, h.store.decisionCount())
	assert.Len(t, h.published(t), 1)
}

func TestFinalizeMarkerUnavailable(t *testing.T) {
	h := newCoordinatorHarness()
	h.marker.err = errors.New("redis: connection refused")

	err := h.coord.HandleBlacklist(context.Background(), events.BlacklistCheck{TxID: "tx-x", BlacklistHit: true})
	require.Error(t, err)
	assert.Zero(t, h.store.decisionCount())
}

func TestDecisionRelayedWhenImmediatePublishFails(t *testing.T) {
	h := newCoordinatorHarness()
	ctx := context.Background()
	h.pub.setDown(true)

	require.NoError(t, h.coord.HandleBlacklist(ctx, events.BlacklistCheck{TxID: "tx-relay", BlacklistHit: true}))
	assert.Equal(t, 1, h.store.decisionCount())
	assert.Empty(t, h.published(t))

	entry := h.store.outboxFor(domain.AggregateFraudDecision, "tx-relay")
	require.NotNil(t, entry)
	assert.Equal(t, domain.OutboxStatusPending, entry.Status)
	assert.Equal(t, h.clock.Now().Add(30*time.Second), entry.NextRetryAt)

	relay := newTestRelay(h.store, h.pub, h.clock, 5)
	h.pub.setDown(false)

	res, err := relay.RelayTick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)

	h.clock.Advance(30 * time.Second)
	res, err = relay.RelayTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	require.Len(t, h.published(t), 1)
}

func TestConcurrentSignalsFinalizeOnce(t *testing.T) {
	h := newCoordinatorHarness()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = h.coord.HandleBlacklist(ctx, events.BlacklistCheck{TxID: "tx-race", BlacklistHit: true})
				return
			}
			safe := grayRule("tx-race", 0.1)
			safe.RuleBand = "SAFE"
			_ = h.coord.HandleRule(ctx, safe)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, h.store.decisionCount())
	assert.Len(t, h.published(t), 1)
}

func TestSignalsRequireTransactionID(t *testing.T) {
	h := newCoordinatorHarness()
	ctx := context.Background()

	assert.ErrorIs(t, h.coord.HandleBlacklist(ctx, events.BlacklistCheck{}), events.ErrMissingTransactionID)
	assert.ErrorIs(t, h.coord.HandleRule(ctx, events.RuleEvaluation{}), events.ErrMissingTransactionID)
	assert.ErrorIs(t, h.coord.HandleMl(ctx, events.MlScore{}), events.ErrMissingTransactionID)
}
