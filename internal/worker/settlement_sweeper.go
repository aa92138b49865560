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

// Sweeper re-drives retryable settlements.
type Sweeper interface {
	RetryFailed(ctx context.Context, batch int32) (service.SweepResult, error)
}

// SettlementSweeper periodically retries FAILED_RETRYABLE transfers.
type SettlementSweeper struct {
	svc       Sweeper
	interval  time.Duration
	batchSize int32
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewSettlementSweeper(svc Sweeper) *SettlementSweeper {
	return &SettlementSweeper{
		svc:       svc,
		interval:  5 * time.Second,
		batchSize: 100,
		stopCh:    make(chan struct{}),
	}
}

func (w *SettlementSweeper) WithInterval(interval time.Duration) *SettlementSweeper {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

func (w *SettlementSweeper) WithBatchSize(size int32) *SettlementSweeper {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and sweeps at the configured interval.
func (w *SettlementSweeper) Start(ctx context.Context) {
	zap.L().Info("settlement sweeper starting",
		zap.Duration("interval", w.interval),
		zap.Int32("batch_size", w.batchSize),
	)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("settlement sweeper context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("settlement sweeper stop signal received")
			return
		case <-ticker.C:
			_, _ = w.ProcessOnce(ctx)
		}
	}
}

func (w *SettlementSweeper) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// ProcessOnce sweeps a single batch immediately.
func (w *SettlementSweeper) ProcessOnce(ctx context.Context) (service.SweepResult, error) {
	res, err := w.svc.RetryFailed(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("settlement_sweeper", "failed")
		zap.L().Error("settlement sweep failed", zap.Error(err))
		return res, err
	}
	observability.IncrementWorkerRun("settlement_sweeper", "success")
	if res.Scanned > 0 {
		zap.L().Info("settlement sweep",
			zap.Int("scanned", res.Scanned),
			zap.Int("applied", res.Applied),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped),
		)
	}
	return res, nil
}

// Run starts the sweeper in a goroutine and returns a stop function.
func (w *SettlementSweeper) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *SettlementSweeper) String() string {
	return fmt.Sprintf("SettlementSweeper(interval=%v, batch=%d)", w.interval, w.batchSize)
}
