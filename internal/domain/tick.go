package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade direction codes as delivered by the feed adapter.
const (
	TradeDirBuy  int8 = 1
	TradeDirSell int8 = -1
)

// Tick represents a single executed trade report. Ticks are immutable once
// ingested; the identity key (symbol, event_time, seq) makes re-ingestion
// idempotent.
type Tick struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol    string          `gorm:"index:idx_tick_identity,unique;index:idx_tick_symbol_time" json:"symbol"`
	Venue     string          `json:"venue"`
	Price     decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
	Volume    int64           `json:"volume"`
	EventTime time.Time       `gorm:"index:idx_tick_identity,unique;index:idx_tick_symbol_time" json:"event_time"`
	Seq       int64           `gorm:"index:idx_tick_identity,unique" json:"seq"`

	// Optional counterparty identifiers, one per side of the trade.
	BuyParty  string `json:"buy_party,omitempty"`
	SellParty string `json:"sell_party,omitempty"`

	// Optional signed direction code (TradeDirBuy / TradeDirSell, 0 unknown).
	Side int8 `json:"side,omitempty"`

	// Optional notional value. Zero means "not provided"; use NotionalValue.
	Notional decimal.Decimal `gorm:"type:decimal(24,8)" json:"notional,omitempty"`
}

// NotionalValue returns the trade notional, computing price*volume when the
// feed did not provide one.
func (t *Tick) NotionalValue() decimal.Decimal {
	if !t.Notional.IsZero() {
		return t.Notional
	}
	return t.Price.Mul(decimal.NewFromInt(t.Volume))
}
