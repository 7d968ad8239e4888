package app

import (
	"context"
	"log/slog"
	"time"

	"tickpulse/internal/book"
	"tickpulse/internal/candle"
	"tickpulse/internal/detector"
	"tickpulse/internal/domain"
	"tickpulse/internal/infra"
	"tickpulse/internal/infra/audit"
	"tickpulse/internal/infra/feed"
	"tickpulse/internal/infra/storage"
	"tickpulse/internal/ingest"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config        *infra.Config
	Storage       *storage.Storage
	Metrics       *infra.Metrics
	Buffer        *ingest.Buffer
	Aggregator    *candle.Aggregator
	Reconstructor *book.Reconstructor
	Detector      *detector.Detector
	Audit         *audit.Publisher

	cancel context.CancelFunc
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB, pipeline wiring)
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("Bootstrapping tickpulse...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("Database initialized", slog.String("path", cfg.Database.Path))

	b.Metrics = infra.GlobalMetrics

	// 4. Audit stream (optional)
	b.Audit = audit.NewPublisher(cfg)
	if b.Audit != nil {
		if err := audit.EnsureTopic(cfg); err != nil {
			slog.Warn("Audit topic bootstrap failed", slog.Any("error", err))
		}
	}

	// 5. Pipeline components
	b.Buffer = ingest.NewBuffer(store, b.Metrics, cfg)
	b.Aggregator = candle.NewAggregator(store, b.Metrics, cfg)
	b.Detector = detector.NewDetector(store, b.Metrics, cfg)

	var onEvent book.EventSink
	if b.Audit != nil {
		onEvent = b.Audit.Publish
	}
	var onSnapshot book.SnapshotSink
	if cfg.Book.PersistSnapshots {
		onSnapshot = b.persistSnapshot
	}
	b.Reconstructor = book.NewReconstructor(cfg, b.Metrics, onEvent, onSnapshot)

	return nil
}

// Start launches every background task of the pipeline.
func (b *Bootstrap) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	b.Buffer.Start(ctx)
	b.Aggregator.Start(ctx)
	b.Detector.Start(ctx)
	if b.Audit != nil {
		b.Audit.Start(ctx)
	}

	go b.logMetrics(ctx)
	slog.Info("Pipeline started")
}

// Shutdown stops background tasks and flushes in-flight state best-effort.
func (b *Bootstrap) Shutdown() {
	if b.cancel != nil {
		b.cancel()
	}

	b.Detector.Stop()
	b.Buffer.Close()
	b.Aggregator.Close()
	if b.Audit != nil {
		b.Audit.Close()
	}
	slog.Info("Pipeline stopped")
}

// Sink returns the feed-facing entry point of the pipeline.
func (b *Bootstrap) Sink() feed.Sink {
	return &pipelineSink{b: b}
}

// pipelineSink fans feed values out to the buffer, the candle aggregator and
// the book reconstructor. Called from the feed delivery goroutine.
type pipelineSink struct {
	b *Bootstrap
}

func (s *pipelineSink) HandleTick(tick domain.Tick) {
	s.b.Buffer.Push(tick)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.b.Aggregator.ProcessTick(ctx, &tick)
}

func (s *pipelineSink) HandleBookEvent(ev domain.OrderBookEvent) {
	s.b.Reconstructor.Apply(ev)
}

func (b *Bootstrap) persistSnapshot(snap domain.OrderBookSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.Storage.SaveSnapshot(ctx, &snap); err != nil {
		b.Metrics.RecordError()
		slog.Warn("Snapshot persist failed",
			slog.String("symbol", snap.Symbol),
			slog.Any("error", err))
	}
}

func (b *Bootstrap) logMetrics(ctx context.Context) {
	interval := time.Duration(b.Config.Metrics.LogIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := b.Metrics.Snapshot()
			slog.Info("Pipeline metrics",
				slog.Uint64("ticks", snap.TicksIngested),
				slog.Uint64("batches_flushed", snap.BatchesFlushed),
				slog.Uint64("batches_dropped", snap.BatchesDropped),
				slog.Uint64("book_events", snap.BookEvents),
				slog.Uint64("snapshots", snap.SnapshotsEmitted),
				slog.Uint64("candles", snap.CandlesClosed),
				slog.Uint64("patterns", snap.PatternsDetected),
				slog.Uint64("errors", snap.ErrorsTotal))
		}
	}
}
