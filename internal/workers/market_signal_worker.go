package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nfa-labs/agentrunner/internal/failure"
	"github.com/nfa-labs/agentrunner/internal/metrics"
	"github.com/nfa-labs/agentrunner/internal/retry"
	"github.com/nfa-labs/agentrunner/internal/store"
	"github.com/nfa-labs/agentrunner/pkg/logger"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

// SignalSource fetches the latest market signals for a chain from whatever
// off-chain feed backs a deployment (a DEX indexer, a CEX ticker bridge, …).
// Concrete wiring is out of this core's scope, same as chainsvc.Chain.
type SignalSource interface {
	FetchSignals(ctx context.Context, chainID int64) ([]*models.MarketSignal, error)
}

// MarketSignalWorker is the background sync loop §3 describes market
// signals as "updated by" and §6's POST /market/signal/sync names.
// Adapted from the teacher's OnChainWorker: same ticker-driven
// fetch-then-persist shape, swapping whale-transaction caching for
// upserting sampled signal rows.
type MarketSignalWorker struct {
	store    store.Store
	source   SignalSource
	chainID  int64
	interval time.Duration
}

func NewMarketSignalWorker(st store.Store, source SignalSource, chainID int64, interval time.Duration) *MarketSignalWorker {
	return &MarketSignalWorker{store: st, source: source, chainID: chainID, interval: interval}
}

// Start runs until ctx is canceled. Blocking; call in its own goroutine —
// a stalled or slow signal feed must never hold up the cognitive cycle's
// own polling.
func (w *MarketSignalWorker) Start(ctx context.Context) error {
	logger.Info("market signal worker starting", zap.Duration("interval", w.interval))

	w.syncOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("market signal worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.syncOnce(ctx)
		}
	}
}

func (w *MarketSignalWorker) syncOnce(ctx context.Context) {
	stats, err := retry.Do(ctx, 3, 500*time.Millisecond, failure.FromError, func(ctx context.Context) error {
		signals, err := w.source.FetchSignals(ctx, w.chainID)
		if err != nil {
			return err
		}
		if len(signals) == 0 {
			return nil
		}
		return w.store.BatchUpsertMarketSignals(ctx, signals)
	})
	metrics.RetryAttemptsTotal.WithLabelValues("market_signal_worker").Add(float64(stats.Attempts))
	if err != nil {
		logger.Error("market signal sync failed", zap.Error(err))
	}
}
