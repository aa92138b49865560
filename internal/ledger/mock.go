package ledger

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// MockLedger simulates the account service for local runs and tests.
// Repeated keys are acknowledged without applying twice.
type MockLedger struct {
	// FailureRate is the probability of failure (0.0 to 1.0).
	FailureRate float64
	// MaxDelay bounds the simulated network latency.
	MaxDelay time.Duration

	mu      sync.Mutex
	applied map[string]Request
	calls   int
}

func NewMockLedger() *MockLedger {
	return &MockLedger{
		FailureRate: 0.05,
		MaxDelay:    200 * time.Millisecond,
		applied:     make(map[string]Request),
	}
}

func (m *MockLedger) Debit(ctx context.Context, req Request) error {
	return m.apply(ctx, req)
}

func (m *MockLedger) Credit(ctx context.Context, req Request) error {
	return m.apply(ctx, req)
}

// Applied reports whether an idempotency key has been applied.
func (m *MockLedger) Applied(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.applied[key]
	return ok
}

// Calls counts every call, including replays and failures.
func (m *MockLedger) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockLedger) apply(ctx context.Context, req Request) error {
	if m.MaxDelay > 0 {
		delay := time.Duration(rand.Int63n(int64(m.MaxDelay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("ledger call canceled: %w", ctx.Err())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if _, ok := m.applied[req.IdempotencyKey]; ok {
		return nil
	}
	if rand.Float64() < m.FailureRate {
		return fmt.Errorf("%w: simulated outage", ErrLedgerUnavailable)
	}
	if m.applied == nil {
		m.applied = make(map[string]Request)
	}
	m.applied[req.IdempotencyKey] = req
	return nil
}
