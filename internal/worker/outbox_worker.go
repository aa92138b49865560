package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/fraudflow/internal/observability"
	"github.com/ayo6706/fraudflow/internal/service"
	"go.uber.org/zap"
)

// Relayer is the part of service.OutboxRelay the worker drives.
type Relayer interface {
	RelayTick(ctx context.Context) (service.RelayResult, error)
	FailedBacklog(ctx context.Context) (int64, error)
}

// OutboxRelayWorker polls the outbox and publishes due entries.
// Safe for concurrent instances thanks to FOR UPDATE SKIP LOCKED.
type OutboxRelayWorker struct {
	relay        Relayer
	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewOutboxRelayWorker(relay Relayer) *OutboxRelayWorker {
	return &OutboxRelayWorker{
		relay:        relay,
		pollInterval: time.Second,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *OutboxRelayWorker) WithPollInterval(interval time.Duration) *OutboxRelayWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// Start blocks until Stop is called or the context is canceled.
func (w *OutboxRelayWorker) Start(ctx context.Context) {
	zap.L().Info("outbox relay worker starting", zap.Duration("poll_interval", w.pollInterval))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("outbox relay worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("outbox relay worker stop signal received")
			return
		case <-ticker.C:
			_ = w.ProcessOnce(ctx)
		}
	}
}

func (w *OutboxRelayWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// ProcessOnce runs a single relay tick and refreshes the FAILED backlog gauge.
func (w *OutboxRelayWorker) ProcessOnce(ctx context.Context) error {
	res, err := w.relay.RelayTick(ctx)
	if err != nil {
		observability.IncrementWorkerRun("outbox_relay", "failed")
		zap.L().Error("outbox relay tick failed", zap.Error(err), zap.Int("claimed", res.Claimed))
		return err
	}
	observability.IncrementWorkerRun("outbox_relay", "success")
	if res.Claimed > 0 {
		zap.L().Debug("outbox relay tick",
			zap.Int("claimed", res.Claimed),
			zap.Int("sent", res.Sent),
			zap.Int("retried", res.Retried),
			zap.Int("failed", res.Failed),
		)
	}
	if res.Failed > 0 {
		zap.L().Error("outbox entries exhausted their attempts", zap.Int("failed", res.Failed))
	}

	if _, err := w.relay.FailedBacklog(ctx); err != nil {
		zap.L().Warn("refresh outbox backlog gauge", zap.Error(err))
	}
	return nil
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *OutboxRelayWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *OutboxRelayWorker) String() string {
	return fmt.Sprintf("OutboxRelayWorker(interval=%v)", w.pollInterval)
}
