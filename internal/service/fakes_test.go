package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/fraudflow/internal/aggregation"
	"github.com/ayo6706/fraudflow/internal/domain"
	"github.com/ayo6706/fraudflow/internal/ledger"
	"github.com/ayo6706/fraudflow/internal/messaging"
	"github.com/ayo6706/fraudflow/internal/models"
	"github.com/google/uuid"
)

// memStore is an in-memory stand-in for repository.Store.
type memStore struct {
	mu        sync.Mutex
	facts     map[string]models.TransactionFact
	outbox    []*models.OutboxEntry
	decisions map[string]models.FraudDecision
	transfers map[string]models.Transfer
	saveErr   error
}

func newMemStore() *memStore {
	return &memStore{
		facts:     make(map[string]models.TransactionFact),
		decisions: make(map[string]models.FraudDecision),
		transfers: make(map[string]models.Transfer),
	}
}

func (s *memStore) CreateFact(_ context.Context, fact models.TransactionFact, entry models.OutboxEntry, limit *models.HighValueLimit) (*models.TransactionFact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.facts[fact.ID]; ok {
		return &existing, false, nil
	}
	if limit != nil {
		var count int64
		for _, f := range s.facts {
			if f.SenderID == fact.SenderID && f.Currency == limit.Currency &&
				f.Amount.GreaterThan(limit.Threshold) && !f.ReceivedAt.Before(limit.Since) {
				count++
			}
		}
		if count >= limit.MaxCount {
			return nil, false, models.ErrDailyLimitExceed
		}
	}
	s.facts[fact.ID] = fact
	s.insertOutbox(entry)
	return &fact, true, nil
}

func (s *memStore) GetFact(_ context.Context, id string) (*models.TransactionFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &f, nil
}

func (s *memStore) ListRecentFacts(_ context.Context, limit int32) ([]models.TransactionFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TransactionFact, 0, len(s.facts))
	for _, f := range s.facts {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) insertOutbox(entry models.OutboxEntry) {
	for _, e := range s.outbox {
		if e.AggregateType == entry.AggregateType && e.AggregateID == entry.AggregateID && e.EventType == entry.EventType {
			return
		}
	}
	e := entry
	s.outbox = append(s.outbox, &e)
}

func (s *memStore) ClaimDueOutbox(_ context.Context, now time.Time, limit int32, lease time.Duration) ([]models.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := make([]*models.OutboxEntry, 0)
	for _, e := range s.outbox {
		if e.Status == domain.OutboxStatusPending && !e.NextRetryAt.After(now) {
			due = append(due, e)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if int32(len(due)) > limit {
		due = due[:limit]
	}
	out := make([]models.OutboxEntry, 0, len(due))
	for _, e := range due {
		e.NextRetryAt = now.Add(lease)
		out = append(out, *e)
	}
	return out, nil
}

func (s *memStore) find(id uuid.UUID) *models.OutboxEntry {
	for _, e := range s.outbox {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *memStore) MarkOutboxSent(_ context.Context, id uuid.UUID, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.find(id); e != nil && e.Status == domain.OutboxStatusPending {
		e.Status = domain.OutboxStatusSent
		e.PublishedAt = &publishedAt
		e.LastError = nil
	}
	return nil
}

func (s *memStore) MarkOutboxRetry(_ context.Context, id uuid.UUID, attempts int32, nextRetryAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.find(id); e != nil && e.Status == domain.OutboxStatusPending {
		e.AttemptCount = attempts
		e.NextRetryAt = nextRetryAt
		e.LastError = &lastError
	}
	return nil
}

func (s *memStore) MarkOutboxFailed(_ context.Context, id uuid.UUID, attempts int32, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.find(id); e != nil && e.Status == domain.OutboxStatusPending {
		e.Status = domain.OutboxStatusFailed
		e.AttemptCount = attempts
		e.LastError = &lastError
	}
	return nil
}

func (s *memStore) RequeueOutbox(_ context.Context, id uuid.UUID, now time.Time, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(id)
	if e == nil || e.Status != domain.OutboxStatusFailed {
		return models.ErrNotFound
	}
	e.Status = domain.OutboxStatusPending
	e.AttemptCount = 0
	e.NextRetryAt = now
	e.LastError = nil
	return nil
}

func (s *memStore) ListOutbox(_ context.Context, status string, limit int32) ([]models.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.OutboxEntry, 0)
	for _, e := range s.outbox {
		if e.Status == status && int32(len(out)) < limit {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *memStore) CountOutbox(_ context.Context, status string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.outbox {
		if e.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *memStore) outboxFor(aggregateType, aggregateID string) *models.OutboxEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.outbox {
		if e.AggregateType == aggregateType && e.AggregateID == aggregateID {
			c := *e
			return &c
		}
	}
	return nil
}

func (s *memStore) SaveDecision(_ context.Context, decision models.FraudDecision, entry models.OutboxEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return false, s.saveErr
	}
	if _, ok := s.decisions[decision.TransactionID]; ok {
		return false, nil
	}
	s.decisions[decision.TransactionID] = decision
	s.insertOutbox(entry)
	return true, nil
}

func (s *memStore) GetDecision(_ context.Context, txID string) (*models.FraudDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[txID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &d, nil
}

func (s *memStore) ListDecisions(_ context.Context, filter models.DecisionFilter) ([]models.FraudDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FraudDecision, 0)
	for _, d := range s.decisions {
		if filter.Reviewed != nil && d.Reviewed != *filter.Reviewed {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.After(out[j].DecidedAt) })
	if int32(len(out)) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memStore) LabelDecision(_ context.Context, txID string, label int, _ string) (*models.FraudDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[txID]
	if !ok {
		return nil, models.ErrNotFound
	}
	d.Reviewed = true
	d.TrueLabel = &label
	s.decisions[txID] = d
	return &d, nil
}

func (s *memStore) decisionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.decisions)
}

func (s *memStore) MutateTransfer(_ context.Context, txID string, fn func(current *models.Transfer) (*models.Transfer, error)) (*models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current *models.Transfer
	if t, ok := s.transfers[txID]; ok {
		current = &t
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}
	s.transfers[txID] = *next
	return next, nil
}

func (s *memStore) GetTransfer(_ context.Context, txID string) (*models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[txID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &t, nil
}

func (s *memStore) ListTransfers(_ context.Context, status string, limit int32) ([]models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Transfer, 0)
	for _, t := range s.transfers {
		if t.Status == status {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memAggregates mirrors the redis hash semantics of aggregation.Store.
type memAggregates struct {
	mu        sync.Mutex
	records   map[string]aggregation.Record
	upsertErr error
}

func newMemAggregates() *memAggregates {
	return &memAggregates{records: make(map[string]aggregation.Record)}
}

func (a *memAggregates) Upsert(_ context.Context, txID string, u aggregation.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.upsertErr != nil {
		return a.upsertErr
	}
	r := a.records[txID]
	if u.BlacklistHit != nil {
		r.BlacklistHit = u.BlacklistHit
	}
	if u.BlacklistReason != nil {
		r.BlacklistReason = u.BlacklistReason
	}
	if u.RuleScore != nil {
		r.RuleScore = u.RuleScore
	}
	if u.RuleBand != nil {
		r.RuleBand = u.RuleBand
	}
	if u.RuleMatches != nil {
		r.RuleMatches = u.RuleMatches
	}
	if u.RuleVersion != nil {
		r.RuleVersion = u.RuleVersion
	}
	if u.MlScore != nil {
		r.MlScore = u.MlScore
	}
	if u.ModelVersion != nil {
		r.ModelVersion = u.ModelVersion
	}
	if u.Features != nil {
		r.Features = u.Features
	}
	a.records[txID] = r
	return nil
}

func (a *memAggregates) Get(_ context.Context, txID string) (aggregation.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.records[txID], nil
}

func (a *memAggregates) RuleBand(_ context.Context, txID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.records[txID]; ok && r.RuleBand != nil {
		return *r.RuleBand, nil
	}
	return "", nil
}

func (a *memAggregates) Delete(_ context.Context, txID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, txID)
	return nil
}

func (a *memAggregates) has(txID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.records[txID]
	return ok
}

type memMarker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newMemMarker() *memMarker {
	return &memMarker{held: make(map[string]bool)}
}

func (m *memMarker) Acquire(_ context.Context, txID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.held[txID] {
		return false, nil
	}
	m.held[txID] = true
	return true, nil
}

func (m *memMarker) Release(_ context.Context, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, txID)
	return nil
}

func (m *memMarker) isHeld(txID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[txID]
}

type sentMessage struct {
	topic   string
	key     string
	payload []byte
}

type memPublisher struct {
	mu   sync.Mutex
	sent []sentMessage
	down bool
}

func (p *memPublisher) Publish(_ context.Context, topic, key string, payload []byte, _ ...messaging.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		return errors.New("kafka: broker not available")
	}
	p.sent = append(p.sent, sentMessage{topic: topic, key: key, payload: append([]byte(nil), payload...)})
	return nil
}

func (p *memPublisher) setDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

func (p *memPublisher) onTopic(topic string) []sentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sentMessage, 0)
	for _, m := range p.sent {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type ledgerCall struct {
	action string
	req    ledger.Request
}

// stubLedger fails the next failures calls with failErr.
type stubLedger struct {
	mu       sync.Mutex
	calls    []ledgerCall
	failures int
	failErr  error
}

func (l *stubLedger) Debit(_ context.Context, req ledger.Request) error {
	return l.record("debit", req)
}

func (l *stubLedger) Credit(_ context.Context, req ledger.Request) error {
	return l.record("credit", req)
}

func (l *stubLedger) record(action string, req ledger.Request) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, ledgerCall{action: action, req: req})
	if l.failures > 0 {
		l.failures--
		if l.failErr != nil {
			return l.failErr
		}
		return ledger.ErrLedgerUnavailable
	}
	return nil
}

func (l *stubLedger) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
