package candle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tickpulse/internal/domain"
	"tickpulse/internal/infra"
)

// Aggregator folds the tick stream into fixed-width OHLCV candles, one open
// candle per symbol. A candle closes when a tick with a later bucket arrives
// or when the background sweep finds its bucket already elapsed, so a bar is
// never stalled open by a trading pause.
type Aggregator struct {
	store   domain.CandleWriter
	metrics *infra.Metrics

	width         time.Duration
	sweepInterval time.Duration

	mu   sync.Mutex
	open map[string]*domain.Candle

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewAggregator creates a candle aggregator wired to the given store.
func NewAggregator(store domain.CandleWriter, metrics *infra.Metrics, cfg *infra.Config) *Aggregator {
	return &Aggregator{
		store:         store,
		metrics:       metrics,
		width:         time.Duration(cfg.Candle.BucketWidthSec) * time.Second,
		sweepInterval: time.Duration(cfg.Candle.SweepIntervalSec) * time.Second,
		open:          make(map[string]*domain.Candle),
		now:           time.Now,
	}
}

// ProcessTick folds one tick into its symbol's candle, closing and persisting
// the previous bucket first when the tick opens a new one.
func (a *Aggregator) ProcessTick(ctx context.Context, tick *domain.Tick) {
	bucket := domain.BucketStartFor(tick.EventTime, a.width)

	a.mu.Lock()
	current := a.open[tick.Symbol]

	var closed *domain.Candle
	if current == nil || !current.BucketStart.Equal(bucket) {
		closed = current
		a.open[tick.Symbol] = domain.NewCandle(tick, bucket)
	} else {
		current.Update(tick)
	}
	a.mu.Unlock()

	if closed != nil {
		a.persist(ctx, closed)
	}
}

// Start launches the background sweep.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ticker := time.NewTicker(a.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.Sweep(ctx)
			}
		}
	}()
}

// Sweep closes and flushes every open candle whose bucket end is already in
// the past, even absent a new tick.
func (a *Aggregator) Sweep(ctx context.Context) {
	cutoff := a.now()

	a.mu.Lock()
	var elapsed []*domain.Candle
	for symbol, candle := range a.open {
		if candle.BucketStart.Add(a.width).After(cutoff) {
			continue
		}
		elapsed = append(elapsed, candle)
		delete(a.open, symbol)
	}
	a.mu.Unlock()

	for _, candle := range elapsed {
		a.persist(ctx, candle)
	}
}

// persist upserts a closed candle. The upsert is keyed by (symbol, bucket
// start), so a repeat close of the same bucket is harmless.
func (a *Aggregator) persist(ctx context.Context, candle *domain.Candle) {
	if err := a.store.UpsertCandle(ctx, candle); err != nil {
		a.metrics.RecordError()
		slog.Error("Candle upsert failed",
			slog.String("symbol", candle.Symbol),
			slog.Time("bucket", candle.BucketStart),
			slog.Any("error", err))
		return
	}

	a.metrics.RecordCandleClosed()
	slog.Debug("Candle closed",
		slog.String("symbol", candle.Symbol),
		slog.Time("bucket", candle.BucketStart),
		slog.Int64("volume", candle.Volume))
}

// OpenCandle returns a copy of the currently open candle for a symbol.
func (a *Aggregator) OpenCandle(symbol string) (domain.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	candle, ok := a.open[symbol]
	if !ok {
		return domain.Candle{}, false
	}
	return *candle, true
}

// Close stops the sweep and flushes all still-open candles best-effort.
func (a *Aggregator) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.mu.Lock()
	remaining := make([]*domain.Candle, 0, len(a.open))
	for symbol, candle := range a.open {
		remaining = append(remaining, candle)
		delete(a.open, symbol)
	}
	a.mu.Unlock()

	for _, candle := range remaining {
		a.persist(ctx, candle)
	}
}
