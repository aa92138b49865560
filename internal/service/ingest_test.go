package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ayo6706/fraudflow/internal/domain"
	"github.com/ayo6706/fraudflow/internal/events"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIngest(store *memStore, limit bool, clock *fakeClock) *IngestService {
	svc := NewIngestService(store, limit)
	svc.now = clock.Now
	return svc
}

func p2pRequest(id string, amount string) IngestRequest {
	return IngestRequest{
		ID:         id,
		Type:       "p2p_transfer",
		SenderID:   "1001",
		ReceiverID: ptr("2002"),
		Amount:     decimal.RequireFromString(amount),
		Currency:   "usd",
		DeviceID:   "dev-1",
		EventTime:  time.Date(2026, 3, 14, 9, 29, 0, 0, time.UTC),
	}
}

func TestIngestValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(r *IngestRequest)
	}{
		{name: "missing_id", mutate: func(r *IngestRequest) { r.ID = " " }},
		{name: "missing_sender", mutate: func(r *IngestRequest) { r.SenderID = "" }},
		{name: "zero_amount", mutate: func(r *IngestRequest) { r.Amount = decimal.Zero }},
		{name: "negative_amount", mutate: func(r *IngestRequest) { r.Amount = decimal.NewFromInt(-5) }},
		{name: "sub_micro_amount", mutate: func(r *IngestRequest) { r.Amount = decimal.RequireFromString("10.1234567") }},
		{name: "bad_currency", mutate: func(r *IngestRequest) { r.Currency = "US" }},
		{name: "numeric_currency", mutate: func(r *IngestRequest) { r.Currency = "U5D" }},
		{name: "p2p_without_receiver", mutate: func(r *IngestRequest) { r.ReceiverID = nil }},
		{name: "p2p_with_merchant", mutate: func(r *IngestRequest) { r.MerchantID = ptr("m-1") }},
		{name: "merchant_without_merchant_id", mutate: func(r *IngestRequest) {
			r.Type = domain.TxTypeMerchantPayment
			r.ReceiverID = nil
		}},
		{name: "merchant_with_receiver", mutate: func(r *IngestRequest) {
			r.Type = domain.TxTypeMerchantPayment
			r.MerchantID = ptr("m-1")
		}},
		{name: "unknown_type", mutate: func(r *IngestRequest) { r.Type = "CASH_OUT" }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			svc := newTestIngest(store, false, newFakeClock())
			req := p2pRequest("tx-v", "10")
			tc.mutate(&req)

			_, _, err := svc.Ingest(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidTransaction)
			assert.Empty(t, store.outbox)
		})
	}
}

func TestIngestPersistsFactWithOutboxEntry(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	svc := newTestIngest(store, false, clock)

	fact, created, err := svc.Ingest(context.Background(), p2pRequest("tx-1", "42.10"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.TxTypeP2PTransfer, fact.Type)
	assert.Equal(t, "USD", fact.Currency)
	assert.Equal(t, clock.Now(), fact.ReceivedAt)

	entry := store.outboxFor(domain.AggregateTransaction, "tx-1")
	require.NotNil(t, entry)
	assert.Equal(t, domain.TopicTransactionsRaw, entry.Topic)
	assert.Equal(t, domain.EventTransactionReceived, entry.EventType)
	assert.Equal(t, domain.OutboxStatusPending, entry.Status)
	assert.Equal(t, clock.Now(), entry.NextRetryAt)

	var evt events.TransactionFact
	require.NoError(t, json.Unmarshal(entry.Payload, &evt))
	assert.Equal(t, "tx-1", evt.ID)
	assert.Equal(t, "1001", evt.SenderID)
	require.NotNil(t, evt.ReceiverID)
	assert.Equal(t, "2002", *evt.ReceiverID)
	assert.True(t, evt.Amount.Equal(decimal.RequireFromString("42.1")))
}

func TestIngestIsIdempotent(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	svc := newTestIngest(store, false, clock)
	ctx := context.Background()

	first, created, err := svc.Ingest(ctx, p2pRequest("tx-1", "10"))
	require.NoError(t, err)
	require.True(t, created)

	clock.Advance(time.Minute)
	replay := p2pRequest("tx-1", "99")
	second, created, err := svc.Ingest(ctx, replay)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, second.Amount.Equal(first.Amount))
	assert.Equal(t, first.ReceivedAt, second.ReceivedAt)
	assert.Len(t, store.outbox, 1)
}

func TestIngestDailyHighValueLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("third_high_value_usd_rejected", func(t *testing.T) {
		store := newMemStore()
		svc := newTestIngest(store, true, newFakeClock())
		for _, id := range []string{"hv-1", "hv-2"} {
			_, _, err := svc.Ingest(ctx, p2pRequest(id, "750"))
			require.NoError(t, err)
		}
		_, _, err := svc.Ingest(ctx, p2pRequest("hv-3", "501"))
		require.ErrorIs(t, err, ErrInvalidTransaction)

		_, created, err := svc.Ingest(ctx, p2pRequest("low-1", "500"))
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("window_resets_next_utc_day", func(t *testing.T) {
		store := newMemStore()
		clock := newFakeClock()
		svc := newTestIngest(store, true, clock)
		for _, id := range []string{"hv-1", "hv-2"} {
			_, _, err := svc.Ingest(ctx, p2pRequest(id, "900"))
			require.NoError(t, err)
		}
		clock.Advance(24 * time.Hour)
		_, created, err := svc.Ingest(ctx, p2pRequest("hv-3", "900"))
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("other_currency_unlimited", func(t *testing.T) {
		store := newMemStore()
		svc := newTestIngest(store, true, newFakeClock())
		for _, id := range []string{"eur-1", "eur-2", "eur-3"} {
			req := p2pRequest(id, "900")
			req.Currency = "EUR"
			_, _, err := svc.Ingest(ctx, req)
			require.NoError(t, err)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		store := newMemStore()
		svc := newTestIngest(store, false, newFakeClock())
		for _, id := range []string{"hv-1", "hv-2", "hv-3"} {
			_, _, err := svc.Ingest(ctx, p2pRequest(id, "900"))
			require.NoError(t, err)
		}
	})
}

func TestIngestGetAndListRecent(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock()
	svc := newTestIngest(store, false, clock)
	ctx := context.Background()

	for _, id := range []string{"tx-a", "tx-b", "tx-c"} {
		_, _, err := svc.Ingest(ctx, p2pRequest(id, "5"))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	recent, err := svc.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "tx-c", recent[0].ID)
	assert.Equal(t, "tx-b", recent[1].ID)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrFactNotFound)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, int32(defaultListLimit), clampLimit(0))
	assert.Equal(t, int32(1), clampLimit(1))
	assert.Equal(t, int32(maxListLimit), clampLimit(10_000))
}
