package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tickpulse/internal/domain"
	"tickpulse/internal/infra"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage persists ticks, candles, snapshots and detected patterns in a
// SQLite time-series store behind a bounded connection pool. Writers that
// hit an exhausted pool wait for a free connection instead of failing;
// that is the database/sql contract for MaxOpenConns.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database and migrates the schema.
func NewStorage(cfg *infra.Config) (*Storage, error) {
	dbPath := cfg.Database.Path

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.Database.MinConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Auto Migration
	if err := db.AutoMigrate(
		&domain.Tick{},
		&domain.Candle{},
		&domain.OrderBookSnapshot{},
		&domain.RobotPattern{},
		&domain.RobotTrade{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// ======================================================================================
// Tick Operations
// ======================================================================================

// SaveTicks inserts a batch of ticks. Rows whose identity key
// (symbol, event_time, seq) already exists are skipped, so re-ingesting the
// same tick is a no-op rather than a duplicate.
func (s *Storage) SaveTicks(ctx context.Context, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "event_time"}, {Name: "seq"}},
			DoNothing: true,
		}).
		CreateInBatches(ticks, 500).Error
	if err != nil {
		return domain.NewStorageError("save_ticks", err)
	}
	return nil
}

// TicksSince returns all ticks for a symbol from `since` onward, oldest first.
func (s *Storage) TicksSince(ctx context.Context, symbol string, since time.Time) ([]domain.Tick, error) {
	var ticks []domain.Tick
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND event_time >= ?", symbol, since).
		Order("event_time ASC").
		Find(&ticks).Error
	return ticks, err
}

// ActiveSymbols returns the distinct symbols with at least one tick since the
// given time.
func (s *Storage) ActiveSymbols(ctx context.Context, since time.Time) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).
		Model(&domain.Tick{}).
		Where("event_time >= ?", since).
		Distinct().
		Pluck("symbol", &symbols).Error
	return symbols, err
}

// ======================================================================================
// Candle Operations
// ======================================================================================

// UpsertCandle writes a candle keyed by (symbol, bucket_start). Closing the
// same bucket twice with identical input leaves the row unchanged.
func (s *Storage) UpsertCandle(ctx context.Context, candle *domain.Candle) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}, {Name: "bucket_start"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"open", "high", "low", "close", "volume", "notional", "tick_count",
			}),
		}).
		Create(candle).Error
	if err != nil {
		return domain.NewStorageError("upsert_candle", err)
	}
	return nil
}

// CandlesRange returns candles for a symbol within [from, to), oldest first.
func (s *Storage) CandlesRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.Candle, error) {
	var candles []domain.Candle
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND bucket_start >= ? AND bucket_start < ?", symbol, from, to).
		Order("bucket_start ASC").
		Find(&candles).Error
	return candles, err
}

// ======================================================================================
// Snapshot Operations
// ======================================================================================

// SaveSnapshot persists one throttled order-book snapshot.
func (s *Storage) SaveSnapshot(ctx context.Context, snapshot *domain.OrderBookSnapshot) error {
	if err := s.db.WithContext(ctx).Create(snapshot).Error; err != nil {
		return domain.NewStorageError("save_snapshot", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot for a symbol.
func (s *Storage) LatestSnapshot(ctx context.Context, symbol string) (*domain.OrderBookSnapshot, error) {
	var snap domain.OrderBookSnapshot
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("time DESC").
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &snap, err
}

// ======================================================================================
// Pattern Operations
// ======================================================================================

// FindPattern retrieves a pattern by its (symbol, counterparty) identity.
func (s *Storage) FindPattern(ctx context.Context, symbol, counterparty string) (*domain.RobotPattern, error) {
	var pattern domain.RobotPattern
	err := s.db.WithContext(ctx).
		First(&pattern, "symbol = ? AND counterparty = ?", symbol, counterparty).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &pattern, err
}

// UpsertPatternWithTrades updates or inserts a pattern and inserts its trade
// rows in a single transaction. A partial write (pattern without trades, or
// trades without pattern) is never observable.
func (s *Storage) UpsertPatternWithTrades(ctx context.Context, pattern *domain.RobotPattern, trades []domain.RobotTrade) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.RobotPattern
		err := tx.First(&existing, "symbol = ? AND counterparty = ?", pattern.Symbol, pattern.Counterparty).Error
		switch {
		case err == nil:
			// Update in place, preserving identity and first sighting.
			pattern.ID = existing.ID
			pattern.CreatedAt = existing.CreatedAt
			if existing.FirstSeen.Before(pattern.FirstSeen) {
				pattern.FirstSeen = existing.FirstSeen
			}
			if pattern.Status == domain.StatusActive {
				pattern.InactivityNotified = false
			} else {
				pattern.InactivityNotified = existing.InactivityNotified
			}
			if err := tx.Save(pattern).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(pattern).Error; err != nil {
				return err
			}
		default:
			return err
		}

		for i := range trades {
			trades[i].PatternID = pattern.ID
		}
		if len(trades) > 0 {
			if err := tx.CreateInBatches(trades, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.NewStorageError("upsert_pattern", err)
	}
	return nil
}

// MarkInactivePatterns flags patterns whose last activity is older than the
// threshold, once. Returns the number of newly flagged patterns.
func (s *Storage) MarkInactivePatterns(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&domain.RobotPattern{}).
		Where("last_seen < ? AND inactivity_notified = ?", olderThan, false).
		Updates(map[string]interface{}{
			"status":              domain.StatusInactive,
			"inactivity_notified": true,
		})
	if res.Error != nil {
		return 0, domain.NewStorageError("mark_inactive", res.Error)
	}
	return res.RowsAffected, nil
}

// PatternTrades returns the trade rows attributed to a pattern.
func (s *Storage) PatternTrades(ctx context.Context, patternID uint64) ([]domain.RobotTrade, error) {
	var trades []domain.RobotTrade
	err := s.db.WithContext(ctx).
		Where("pattern_id = ?", patternID).
		Order("time ASC").
		Find(&trades).Error
	return trades, err
}
