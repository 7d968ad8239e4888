package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is an OHLCV summary of ticks within one fixed time bucket.
// It is mutable while the bucket is open and upserted (idempotently, keyed by
// symbol + bucket start) once closed.
type Candle struct {
	Symbol      string          `gorm:"primaryKey" json:"symbol"`
	BucketStart time.Time       `gorm:"primaryKey" json:"bucket_start"`
	Open        decimal.Decimal `gorm:"type:decimal(20,8)" json:"open"`
	High        decimal.Decimal `gorm:"type:decimal(20,8)" json:"high"`
	Low         decimal.Decimal `gorm:"type:decimal(20,8)" json:"low"`
	Close       decimal.Decimal `gorm:"type:decimal(20,8)" json:"close"`
	Volume      int64           `json:"volume"`
	Notional    decimal.Decimal `gorm:"type:decimal(24,8)" json:"notional"`
	TickCount   int64           `json:"tick_count"`
}

// BucketStartFor floors t onto the bucket grid of the given width.
func BucketStartFor(t time.Time, width time.Duration) time.Time {
	return t.Truncate(width)
}

// NewCandle opens a candle seeded with the first tick of a bucket.
func NewCandle(tick *Tick, bucketStart time.Time) *Candle {
	return &Candle{
		Symbol:      tick.Symbol,
		BucketStart: bucketStart,
		Open:        tick.Price,
		High:        tick.Price,
		Low:         tick.Price,
		Close:       tick.Price,
		Volume:      tick.Volume,
		Notional:    tick.NotionalValue(),
		TickCount:   1,
	}
}

// Update folds one more tick of the same bucket into the candle.
func (c *Candle) Update(tick *Tick) {
	if tick.Price.GreaterThan(c.High) {
		c.High = tick.Price
	}
	if tick.Price.LessThan(c.Low) {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Volume += tick.Volume
	c.Notional = c.Notional.Add(tick.NotionalValue())
	c.TickCount++
}
