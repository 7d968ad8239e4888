package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookSide identifies which half of the order book an operation targets.
type BookSide uint8

const (
	SideBid BookSide = iota + 1
	SideAsk
)

// String returns the string representation of BookSide
func (s BookSide) String() string {
	switch s {
	case SideBid:
		return "BID"
	case SideAsk:
		return "ASK"
	default:
		return "UNKNOWN"
	}
}

// BookAction is the kind of incremental order-book mutation.
type BookAction uint8

const (
	ActionAdd BookAction = iota + 1
	ActionEdit
	ActionDelete
	ActionDeleteFrom // truncate from position to end
	ActionSnapshot   // full replacement of both sides
)

// String returns the string representation of BookAction
func (a BookAction) String() string {
	switch a {
	case ActionAdd:
		return "ADD"
	case ActionEdit:
		return "EDIT"
	case ActionDelete:
		return "DELETE"
	case ActionDeleteFrom:
		return "DELETE_FROM"
	case ActionSnapshot:
		return "SNAPSHOT"
	default:
		return "UNKNOWN"
	}
}

// OrderBookLevel is one price point with aggregated resting quantity and
// order count. Position 0 in a side array is always the best level.
type OrderBookLevel struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   int64           `json:"quantity"`
	OrderCount int32           `json:"order_count"`
}

// OrderBookEvent is a single decoded book mutation from the feed adapter.
// Events are transient; they only reach the audit stream, never the store.
type OrderBookEvent struct {
	Symbol     string          `json:"symbol"`
	Time       time.Time       `json:"time"`
	Action     BookAction      `json:"action"`
	Side       BookSide        `json:"side"`
	Position   int             `json:"position"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int64           `json:"quantity"`
	OrderCount int32           `json:"order_count"`

	// Populated for ActionSnapshot only.
	Bids []OrderBookLevel `json:"bids,omitempty"`
	Asks []OrderBookLevel `json:"asks,omitempty"`
}

// OrderBookSnapshot is a full view of one symbol's book at a point in time.
// Invariant: bids non-increasing in price by position, asks non-decreasing.
type OrderBookSnapshot struct {
	ID     uint64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol string           `gorm:"index:idx_snapshot_symbol_time" json:"symbol"`
	Time   time.Time        `gorm:"index:idx_snapshot_symbol_time" json:"time"`
	Seq    int64            `json:"seq,omitempty"`
	Bids   []OrderBookLevel `gorm:"serializer:json" json:"bids"`
	Asks   []OrderBookLevel `gorm:"serializer:json" json:"asks"`
}
