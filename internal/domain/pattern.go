package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PatternStatus classifies how confident the detector currently is that a
// counterparty is an algorithmic-execution participant.
type PatternStatus string

const (
	StatusActive     PatternStatus = "ACTIVE"
	StatusSuspicious PatternStatus = "SUSPICIOUS"
	StatusInactive   PatternStatus = "INACTIVE"
)

// PatternTypeTWAP marks trade clusters with regular size/frequency/price
// behavior consistent with time-weighted automated execution.
const PatternTypeTWAP = "TWAP"

// Volume tiers for market-share reporting. Boundaries are inclusive upward:
// exactly 5% falls into Tier5To10.
const (
	TierBelow1  = "<1%"
	Tier1To5    = "1-5%"
	Tier5To10   = "5-10%"
	TierAbove10 = ">10%"
)

// ClassifyVolumeTier maps a market volume percentage onto a reporting tier.
func ClassifyVolumeTier(pct float64) string {
	switch {
	case pct < 1:
		return TierBelow1
	case pct < 5:
		return Tier1To5
	case pct < 10:
		return Tier5To10
	default:
		return TierAbove10
	}
}

// RobotPattern is one detected algorithmic participant on one symbol.
// There is exactly one logical row per (symbol, counterparty); it is updated
// in place as new evidence arrives.
type RobotPattern struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol       string `gorm:"index:idx_pattern_identity,unique" json:"symbol"`
	Venue        string `json:"venue"`
	Counterparty string `gorm:"index:idx_pattern_identity,unique" json:"counterparty"`
	PatternType  string `json:"pattern_type"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `gorm:"index" json:"last_seen"`

	TotalVolume      int64   `json:"total_volume"`
	TradeCount       int64   `json:"trade_count"`
	AvgTradeSize     float64 `json:"avg_trade_size"`
	FrequencyMinutes float64 `json:"frequency_minutes"`
	PriceAggression  float64 `json:"price_aggression"`
	Confidence       float64 `json:"confidence"`

	Status             PatternStatus `gorm:"index" json:"status"`
	MarketVolumePct    float64       `json:"market_volume_pct"`
	VolumeTier         string        `json:"volume_tier"`
	InactivityNotified bool          `json:"inactivity_notified"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RobotTrade is one trade attributed to a detected pattern. Rows are created
// only inside the same transaction as their owning pattern write.
type RobotTrade struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	PatternID    uint64          `gorm:"index" json:"pattern_id"`
	Symbol       string          `json:"symbol"`
	Counterparty string          `json:"counterparty"`
	Time         time.Time       `json:"time"`
	Price        decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
	Volume       int64           `json:"volume"`
	Side         string          `json:"side"` // "BUY" or "SELL"
}
