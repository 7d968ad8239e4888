package infra

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticksIngested    atomic.Uint64
	batchesFlushed   atomic.Uint64
	batchesDropped   atomic.Uint64
	bookEvents       atomic.Uint64
	snapshotsEmitted atomic.Uint64
	candlesClosed    atomic.Uint64
	patternsDetected atomic.Uint64
	detectorRuns     atomic.Uint64
	errorsTotal      atomic.Uint64

	// Per-symbol ingest counters
	symbolMu    sync.Mutex
	symbolTicks map[string]*atomic.Uint64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = NewMetrics()

// NewMetrics creates an empty metrics registry.
func NewMetrics() *Metrics {
	return &Metrics{symbolTicks: make(map[string]*atomic.Uint64)}
}

// RecordTick records one ingested tick for a symbol.
func (m *Metrics) RecordTick(symbol string) {
	m.ticksIngested.Add(1)

	m.symbolMu.Lock()
	counter, ok := m.symbolTicks[symbol]
	if !ok {
		counter = &atomic.Uint64{}
		m.symbolTicks[symbol] = counter
	}
	m.symbolMu.Unlock()

	counter.Add(1)
}

// SymbolTicks returns the ingest counter for one symbol.
func (m *Metrics) SymbolTicks(symbol string) uint64 {
	m.symbolMu.Lock()
	counter, ok := m.symbolTicks[symbol]
	m.symbolMu.Unlock()
	if !ok {
		return 0
	}
	return counter.Load()
}

// RecordBatchFlushed records a successfully persisted batch.
func (m *Metrics) RecordBatchFlushed() {
	m.batchesFlushed.Add(1)
}

// RecordBatchDropped records a batch abandoned after exhausting retries.
func (m *Metrics) RecordBatchDropped() {
	m.batchesDropped.Add(1)
}

// RecordBookEvent records one applied order-book operation.
func (m *Metrics) RecordBookEvent() {
	m.bookEvents.Add(1)
}

// RecordSnapshotEmitted records one emitted order-book snapshot.
func (m *Metrics) RecordSnapshotEmitted() {
	m.snapshotsEmitted.Add(1)
}

// RecordCandleClosed records one closed-and-upserted candle.
func (m *Metrics) RecordCandleClosed() {
	m.candlesClosed.Add(1)
}

// RecordPatternDetected records one persisted pattern evaluation.
func (m *Metrics) RecordPatternDetected() {
	m.patternsDetected.Add(1)
}

// RecordDetectorRun records one completed detector sweep.
func (m *Metrics) RecordDetectorRun() {
	m.detectorRuns.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TicksIngested    uint64
	BatchesFlushed   uint64
	BatchesDropped   uint64
	BookEvents       uint64
	SnapshotsEmitted uint64
	CandlesClosed    uint64
	PatternsDetected uint64
	DetectorRuns     uint64
	ErrorsTotal      uint64
	Timestamp        time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TicksIngested:    m.ticksIngested.Load(),
		BatchesFlushed:   m.batchesFlushed.Load(),
		BatchesDropped:   m.batchesDropped.Load(),
		BookEvents:       m.bookEvents.Load(),
		SnapshotsEmitted: m.snapshotsEmitted.Load(),
		CandlesClosed:    m.candlesClosed.Load(),
		PatternsDetected: m.patternsDetected.Load(),
		DetectorRuns:     m.detectorRuns.Load(),
		ErrorsTotal:      m.errorsTotal.Load(),
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ticksIngested.Store(0)
	m.batchesFlushed.Store(0)
	m.batchesDropped.Store(0)
	m.bookEvents.Store(0)
	m.snapshotsEmitted.Store(0)
	m.candlesClosed.Store(0)
	m.patternsDetected.Store(0)
	m.detectorRuns.Store(0)
	m.errorsTotal.Store(0)

	m.symbolMu.Lock()
	m.symbolTicks = make(map[string]*atomic.Uint64)
	m.symbolMu.Unlock()
}
