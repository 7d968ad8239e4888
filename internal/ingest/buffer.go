package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tickpulse/internal/domain"
	"tickpulse/internal/infra"
)

// Buffer queues ticks from the feed delivery context and persists them in
// batches from a background flusher, so a slow database never blocks tick
// delivery. Push never blocks; a full batch or the flush timer, whichever
// comes first, triggers a write.
type Buffer struct {
	store   domain.TickWriter
	metrics *infra.Metrics

	batchSize     int
	flushInterval time.Duration
	retryAttempts int
	retryBackoff  time.Duration

	mu      sync.Mutex
	pending []domain.Tick

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBuffer creates an ingestion buffer wired to the given tick store.
func NewBuffer(store domain.TickWriter, metrics *infra.Metrics, cfg *infra.Config) *Buffer {
	return &Buffer{
		store:         store,
		metrics:       metrics,
		batchSize:     cfg.Ingest.BatchSize,
		flushInterval: time.Duration(cfg.Ingest.FlushIntervalMS) * time.Millisecond,
		retryAttempts: cfg.Ingest.RetryAttempts,
		retryBackoff:  time.Duration(cfg.Ingest.RetryBackoffMS) * time.Millisecond,
		pending:       make([]domain.Tick, 0, cfg.Ingest.BatchSize),
		kick:          make(chan struct{}, 1),
	}
}

// Push enqueues one tick without blocking the caller. Safe to call from the
// feed delivery goroutine(s) concurrently with the flusher.
func (b *Buffer) Push(tick domain.Tick) {
	b.mu.Lock()
	b.pending = append(b.pending, tick)
	full := len(b.pending) >= b.batchSize
	b.mu.Unlock()

	b.metrics.RecordTick(tick.Symbol)

	if full {
		select {
		case b.kick <- struct{}{}:
		default: // flusher already signalled
		}
	}
}

// Start launches the background flusher.
func (b *Buffer) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.flushLoop(ctx)
}

func (b *Buffer) flushLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.kick:
			b.flush(ctx)
		}
	}
}

// flush drains the queue in batch-size chunks.
func (b *Buffer) flush(ctx context.Context) {
	for {
		batch := b.take()
		if len(batch) == 0 {
			return
		}
		b.persistBatch(ctx, batch)
	}
}

// take removes up to one batch from the queue.
func (b *Buffer) take() []domain.Tick {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}
	n := len(b.pending)
	if n > b.batchSize {
		n = b.batchSize
	}
	batch := make([]domain.Tick, n)
	copy(batch, b.pending[:n])
	b.pending = append(b.pending[:0], b.pending[n:]...)
	return batch
}

// persistBatch writes one batch, retrying with growing backoff. After the
// retry budget is spent the batch is dropped: this stream favors
// availability over completeness.
func (b *Buffer) persistBatch(ctx context.Context, batch []domain.Tick) {
	var lastErr error
	for attempt := 1; attempt <= b.retryAttempts; attempt++ {
		if attempt > 1 {
			delay := infra.LinearBackoff(b.retryBackoff, attempt-1)
			select {
			case <-ctx.Done():
				// Shutdown mid-retry: one last immediate try below.
			case <-time.After(delay):
			}
		}

		if err := b.store.SaveTicks(ctx, batch); err != nil {
			lastErr = err
			slog.Warn("Tick batch persist failed",
				slog.Int("attempt", attempt),
				slog.Int("size", len(batch)),
				slog.Any("error", err))
			continue
		}

		b.metrics.RecordBatchFlushed()
		return
	}

	b.metrics.RecordBatchDropped()
	b.metrics.RecordError()
	slog.Error("Tick batch dropped after retries",
		slog.Int("size", len(batch)),
		slog.Int("attempts", b.retryAttempts),
		slog.Any("error", lastErr))
}

// Len returns the number of queued, not yet persisted ticks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close stops the flusher and drains whatever is still queued, best-effort.
func (b *Buffer) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.flush(ctx)
}
