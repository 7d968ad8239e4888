package domain

import (
	"context"
	"time"
)

// TickWriter persists batches of raw ticks. Implementations must be
// idempotent on the (symbol, event_time, seq) identity key.
type TickWriter interface {
	SaveTicks(ctx context.Context, ticks []Tick) error
}

// CandleWriter upserts a candle keyed by (symbol, bucket start) so that
// repeated closes of the same bucket are idempotent.
type CandleWriter interface {
	UpsertCandle(ctx context.Context, candle *Candle) error
}

// SnapshotWriter persists throttled order-book snapshots.
type SnapshotWriter interface {
	SaveSnapshot(ctx context.Context, snapshot *OrderBookSnapshot) error
}

// TickReader exposes the persisted tick history the detector analyzes.
type TickReader interface {
	ActiveSymbols(ctx context.Context, since time.Time) ([]string, error)
	TicksSince(ctx context.Context, symbol string, since time.Time) ([]Tick, error)
}

// PatternStore persists detector findings. UpsertPatternWithTrades must be
// atomic: either the pattern and all its trades commit, or nothing does.
type PatternStore interface {
	FindPattern(ctx context.Context, symbol, counterparty string) (*RobotPattern, error)
	UpsertPatternWithTrades(ctx context.Context, pattern *RobotPattern, trades []RobotTrade) error
	MarkInactivePatterns(ctx context.Context, olderThan time.Time) (int64, error)
}
