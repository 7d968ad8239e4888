package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tickpulse/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := db.AutoMigrate(
		&domain.Tick{},
		&domain.Candle{},
		&domain.OrderBookSnapshot{},
		&domain.RobotPattern{},
		&domain.RobotTrade{},
	); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	return &Storage{db: db}
}

func sampleTick(symbol string, seq int64, at time.Time) domain.Tick {
	return domain.Tick{
		Symbol:    symbol,
		Venue:     "XEXCH",
		Price:     decimal.NewFromFloat(10.5),
		Volume:    100,
		EventTime: at,
		Seq:       seq,
		BuyParty:  "B1",
		SellParty: "S1",
		Side:      domain.TradeDirBuy,
	}
}

func TestSaveTicksIsIdempotent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	batch := []domain.Tick{
		sampleTick("X", 1, at),
		sampleTick("X", 2, at.Add(time.Second)),
	}

	if err := s.SaveTicks(ctx, batch); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	// Redelivery of the same batch must not create duplicates.
	redelivered := []domain.Tick{
		sampleTick("X", 1, at),
		sampleTick("X", 2, at.Add(time.Second)),
	}
	if err := s.SaveTicks(ctx, redelivered); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	ticks, err := s.TicksSince(ctx, "X", at.Add(-time.Minute))
	if err != nil {
		t.Fatalf("TicksSince failed: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks after redelivery, got %d", len(ticks))
	}
}

func TestSaveTicksEmptyBatch(t *testing.T) {
	s := setupTestDB(t)

	if err := s.SaveTicks(context.Background(), nil); err != nil {
		t.Fatalf("empty batch should be a no-op, got %v", err)
	}
}

func TestActiveSymbols(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	now := time.Now()
	if err := s.SaveTicks(ctx, []domain.Tick{
		sampleTick("X", 1, now.Add(-time.Minute)),
		sampleTick("X", 2, now.Add(-time.Second)),
		sampleTick("Y", 1, now.Add(-2*time.Hour)), // stale
	}); err != nil {
		t.Fatalf("SaveTicks failed: %v", err)
	}

	symbols, err := s.ActiveSymbols(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ActiveSymbols failed: %v", err)
	}
	if len(symbols) != 1 || symbols[0] != "X" {
		t.Errorf("expected [X], got %v", symbols)
	}
}

func TestUpsertCandleOverwritesSameBucket(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	bucket := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	candle := &domain.Candle{
		Symbol:      "X",
		BucketStart: bucket,
		Open:        decimal.NewFromFloat(10.0),
		High:        decimal.NewFromFloat(10.5),
		Low:         decimal.NewFromFloat(10.0),
		Close:       decimal.NewFromFloat(10.2),
		Volume:      225,
		TickCount:   3,
	}
	if err := s.UpsertCandle(ctx, candle); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	// A late tick re-closes the same bucket with updated values.
	revised := *candle
	revised.Close = decimal.NewFromFloat(10.3)
	revised.Volume = 250
	revised.TickCount = 4
	if err := s.UpsertCandle(ctx, &revised); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	candles, err := s.CandlesRange(ctx, "X", bucket.Add(-time.Minute), bucket.Add(time.Minute))
	if err != nil {
		t.Fatalf("CandlesRange failed: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle row, got %d", len(candles))
	}
	if !candles[0].Close.Equal(decimal.NewFromFloat(10.3)) || candles[0].Volume != 250 {
		t.Errorf("upsert did not overwrite: close=%v volume=%d", candles[0].Close, candles[0].Volume)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	// No snapshot yet: not found is not an error.
	snap, err := s.LatestSnapshot(ctx, "X")
	if err != nil {
		t.Fatalf("LatestSnapshot failed: %v", err)
	}
	if snap != nil {
		t.Fatal("expected nil snapshot for unseen symbol")
	}

	at := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	if err := s.SaveSnapshot(ctx, &domain.OrderBookSnapshot{
		Symbol: "X",
		Time:   at,
		Bids: []domain.OrderBookLevel{
			{Price: decimal.NewFromFloat(10.0), Quantity: 5, OrderCount: 1},
		},
		Asks: []domain.OrderBookLevel{
			{Price: decimal.NewFromFloat(10.1), Quantity: 3, OrderCount: 2},
		},
	}); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if err := s.SaveSnapshot(ctx, &domain.OrderBookSnapshot{
		Symbol: "X",
		Time:   at.Add(time.Second),
		Bids: []domain.OrderBookLevel{
			{Price: decimal.NewFromFloat(10.05), Quantity: 4, OrderCount: 1},
		},
	}); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	snap, err = s.LatestSnapshot(ctx, "X")
	if err != nil {
		t.Fatalf("LatestSnapshot failed: %v", err)
	}
	if snap == nil {
		t.Fatal("expected a snapshot")
	}
	if !snap.Time.Equal(at.Add(time.Second)) {
		t.Errorf("expected the newer snapshot, got time %v", snap.Time)
	}
	if len(snap.Bids) != 1 || !snap.Bids[0].Price.Equal(decimal.NewFromFloat(10.05)) {
		t.Errorf("bid levels did not round-trip: %+v", snap.Bids)
	}
}

func samplePattern(firstSeen, lastSeen time.Time, status domain.PatternStatus) *domain.RobotPattern {
	return &domain.RobotPattern{
		Symbol:           "X",
		Venue:            "XEXCH",
		Counterparty:     "ALGO1",
		PatternType:      domain.PatternTypeTWAP,
		FirstSeen:        firstSeen,
		LastSeen:         lastSeen,
		TotalVolume:      5000,
		TradeCount:       10,
		AvgTradeSize:     500,
		FrequencyMinutes: 5,
		Confidence:       0.8,
		Status:           status,
		MarketVolumePct:  42,
		VolumeTier:       domain.TierAbove10,
	}
}

func sampleTrades(n int, start time.Time) []domain.RobotTrade {
	trades := make([]domain.RobotTrade, 0, n)
	for i := 0; i < n; i++ {
		trades = append(trades, domain.RobotTrade{
			Symbol:       "X",
			Counterparty: "ALGO1",
			Time:         start.Add(time.Duration(i) * 5 * time.Minute),
			Price:        decimal.NewFromFloat(100.0),
			Volume:       500,
			Side:         "BUY",
		})
	}
	return trades
}

func TestUpsertPatternInsertThenUpdate(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	firstSeen := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	p := samplePattern(firstSeen, firstSeen.Add(time.Hour), domain.StatusSuspicious)
	if err := s.UpsertPatternWithTrades(ctx, p, sampleTrades(3, firstSeen)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("pattern should have an ID after insert")
	}

	// Second evaluation of the same identity updates the row in place and
	// must keep the earliest first sighting.
	laterWindow := samplePattern(firstSeen.Add(30*time.Minute), firstSeen.Add(2*time.Hour), domain.StatusActive)
	if err := s.UpsertPatternWithTrades(ctx, laterWindow, sampleTrades(2, firstSeen.Add(time.Hour))); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	found, err := s.FindPattern(ctx, "X", "ALGO1")
	if err != nil {
		t.Fatalf("FindPattern failed: %v", err)
	}
	if found == nil {
		t.Fatal("pattern not found")
	}
	if found.ID != p.ID {
		t.Errorf("expected same row updated, got id %d vs %d", found.ID, p.ID)
	}
	if !found.FirstSeen.Equal(firstSeen) {
		t.Errorf("earliest first sighting lost: %v", found.FirstSeen)
	}
	if found.Status != domain.StatusActive {
		t.Errorf("expected status ACTIVE after update, got %s", found.Status)
	}

	trades, err := s.PatternTrades(ctx, found.ID)
	if err != nil {
		t.Fatalf("PatternTrades failed: %v", err)
	}
	if len(trades) != 5 {
		t.Errorf("expected 5 accumulated trade rows, got %d", len(trades))
	}
}

func TestFindPatternNotFound(t *testing.T) {
	s := setupTestDB(t)

	found, err := s.FindPattern(context.Background(), "X", "NOBODY")
	if err != nil {
		t.Fatalf("FindPattern failed: %v", err)
	}
	if found != nil {
		t.Fatal("expected nil for unknown pattern identity")
	}
}

func TestMarkInactivePatternsFlagsOnce(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	old := time.Now().Add(-72 * time.Hour)
	p := samplePattern(old, old.Add(time.Hour), domain.StatusActive)
	if err := s.UpsertPatternWithTrades(ctx, p, nil); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	cutoff := time.Now().Add(-48 * time.Hour)
	flagged, err := s.MarkInactivePatterns(ctx, cutoff)
	if err != nil {
		t.Fatalf("MarkInactivePatterns failed: %v", err)
	}
	if flagged != 1 {
		t.Fatalf("expected 1 newly flagged pattern, got %d", flagged)
	}

	// Already notified: the second maintenance pass flags nothing.
	flagged, err = s.MarkInactivePatterns(ctx, cutoff)
	if err != nil {
		t.Fatalf("second MarkInactivePatterns failed: %v", err)
	}
	if flagged != 0 {
		t.Errorf("expected 0 on repeat pass, got %d", flagged)
	}

	found, err := s.FindPattern(ctx, "X", "ALGO1")
	if err != nil || found == nil {
		t.Fatalf("FindPattern failed: %v", err)
	}
	if found.Status != domain.StatusInactive || !found.InactivityNotified {
		t.Errorf("expected INACTIVE+notified, got %s notified=%v", found.Status, found.InactivityNotified)
	}
}

func TestReactivationClearsInactivityFlag(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	old := time.Now().Add(-72 * time.Hour)
	p := samplePattern(old, old.Add(time.Hour), domain.StatusActive)
	if err := s.UpsertPatternWithTrades(ctx, p, nil); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := s.MarkInactivePatterns(ctx, time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("MarkInactivePatterns failed: %v", err)
	}

	// Fresh ACTIVE evidence resets the notification latch.
	fresh := samplePattern(time.Now().Add(-time.Hour), time.Now(), domain.StatusActive)
	if err := s.UpsertPatternWithTrades(ctx, fresh, nil); err != nil {
		t.Fatalf("reactivation upsert failed: %v", err)
	}

	found, err := s.FindPattern(ctx, "X", "ALGO1")
	if err != nil || found == nil {
		t.Fatalf("FindPattern failed: %v", err)
	}
	if found.InactivityNotified {
		t.Error("inactivity flag should clear when the pattern is ACTIVE again")
	}
	if found.Status != domain.StatusActive {
		t.Errorf("expected ACTIVE, got %s", found.Status)
	}
}
