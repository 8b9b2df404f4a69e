package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/faucetdb/keygate/internal/telemetry"
)

// Dispatcher runs usage accounting off the validation path. Tasks receive a
// context that is independent of the request that triggered them.
type Dispatcher interface {
	Dispatch(task func(ctx context.Context))
}

// SyncDispatcher runs each task before Dispatch returns. Tests use it to make
// usage counters deterministic.
type SyncDispatcher struct{}

// Dispatch runs task inline with a background context.
func (SyncDispatcher) Dispatch(task func(ctx context.Context)) {
	task(context.Background())
}

const (
	// DefaultUsageWorkers is the number of usage tasks an AsyncDispatcher
	// runs at once when no limit is given.
	DefaultUsageWorkers = 64

	defaultTaskTimeout = 10 * time.Second
)

// AsyncDispatcher runs each task in its own goroutine, with at most limit
// tasks in flight. Tasks over the limit are dropped and counted, so a slow
// store can never pile up goroutines behind the hot path.
type AsyncDispatcher struct {
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewAsyncDispatcher creates an AsyncDispatcher. A non-positive limit uses
// DefaultUsageWorkers.
func NewAsyncDispatcher(limit int, logger *slog.Logger, metrics *telemetry.Metrics) *AsyncDispatcher {
	if limit <= 0 {
		limit = DefaultUsageWorkers
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AsyncDispatcher{
		sem:     semaphore.NewWeighted(int64(limit)),
		timeout: defaultTaskTimeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Dispatch starts task in the background and returns immediately.
func (d *AsyncDispatcher) Dispatch(task func(ctx context.Context)) {
	if !d.sem.TryAcquire(1) {
		d.metrics.UsageWriteDropped()
		d.logger.Warn("usage accounting dropped, too many writes in flight")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("usage accounting panicked", "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		task(ctx)
	}()
}

// Wait blocks until every dispatched task has finished.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}
