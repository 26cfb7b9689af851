// Package model defines the core domain types shared across the paper
// trading engine. All monetary values use shopspring/decimal — never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side distinguishes long and short position rows. A ticker may carry
// at most one position per side at a time.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Action is the kind of trade recorded in the transaction ledger.
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionShort Action = "SHORT"
	ActionCover Action = "COVER"
)

// OrderType selects the trigger semantics of a pending order.
type OrderType string

const (
	OrderLimit OrderType = "LIMIT"
	OrderStop  OrderType = "STOP"
)

// OrderSide is the direction of a pending order.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// OrderStatus is the lifecycle state of a pending order.
// PENDING is the only non-terminal state.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderExpired   OrderStatus = "EXPIRED"
)

// Account is the single synthetic trading account. Cash never goes
// negative after a successful operation; trades that would overdraw
// are rejected, not clamped. MarginUsed tracks the aggregate entry
// value of open short positions, held aside from cash.
type Account struct {
	Cash               decimal.Decimal `json:"cash" db:"cash"`
	MarginUsed         decimal.Decimal `json:"margin_used" db:"margin_used"`
	SlippageBps        decimal.Decimal `json:"slippage_bps" db:"slippage_bps"`
	CommissionPerShare decimal.Decimal `json:"commission_per_share" db:"commission_per_share"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// Position is an open holding, keyed by (ticker, side). Shares is
// strictly positive while the row exists; a position closed to zero
// is deleted, never persisted at zero.
type Position struct {
	Ticker    string          `json:"ticker" db:"ticker"`
	AssetType string          `json:"asset_type" db:"asset_type"`
	Side      Side            `json:"side" db:"side"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	AvgCost   decimal.Decimal `json:"avg_cost" db:"avg_cost"` // volume-weighted average execution price
	OpenedAt  time.Time       `json:"opened_at" db:"opened_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable record of an executed trade. Once
// created, these are never modified or deleted except by a full
// portfolio reset. PnL is set only on closing trades (SELL, COVER).
type Transaction struct {
	ID         string           `json:"id" db:"id"`
	Ticker     string           `json:"ticker" db:"ticker"`
	AssetType  string           `json:"asset_type" db:"asset_type"`
	Action     Action           `json:"action" db:"action"`
	Side       Side             `json:"side" db:"side"`
	Shares     decimal.Decimal  `json:"shares" db:"shares"`
	Price      decimal.Decimal  `json:"price" db:"price"` // slippage-adjusted execution price
	Slippage   decimal.Decimal  `json:"slippage" db:"slippage"`
	Commission decimal.Decimal  `json:"commission" db:"commission"`
	Total      decimal.Decimal  `json:"total" db:"total"`
	PnL        *decimal.Decimal `json:"pnl,omitempty" db:"pnl"`
	Timestamp  time.Time        `json:"timestamp" db:"timestamp"`
}

// PendingOrder is a resting LIMIT or STOP order. It transitions out of
// PENDING exactly once, to FILLED, CANCELLED, or EXPIRED; terminal
// states are immutable.
type PendingOrder struct {
	ID          string          `json:"id" db:"id"`
	Ticker      string          `json:"ticker" db:"ticker"`
	AssetType   string          `json:"asset_type" db:"asset_type"`
	OrderType   OrderType       `json:"order_type" db:"order_type"`
	Side        OrderSide       `json:"side" db:"side"`
	Shares      decimal.Decimal `json:"shares" db:"shares"`
	TargetPrice decimal.Decimal `json:"target_price" db:"target_price"`
	Status      OrderStatus     `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	FilledAt    *time.Time      `json:"filled_at,omitempty" db:"filled_at"`
	ExpiresAt   time.Time       `json:"expires_at" db:"expires_at"`
}

// EquityPoint is one sample of the equity curve. DailyReturn is the
// fractional change from the immediately preceding point (zero for
// the first point).
type EquityPoint struct {
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
	TotalValue     decimal.Decimal `json:"total_value" db:"total_value"`
	Cash           decimal.Decimal `json:"cash" db:"cash"`
	PositionsValue decimal.Decimal `json:"positions_value" db:"positions_value"`
	DailyReturn    decimal.Decimal `json:"daily_return" db:"daily_return"`
}

// DailySnapshot is an end-of-day valuation, upserted by date so a
// repeated valuation cycle within one day stays idempotent.
type DailySnapshot struct {
	Date           string          `json:"date" db:"date"` // YYYY-MM-DD
	TotalValue     decimal.Decimal `json:"total_value" db:"total_value"`
	Cash           decimal.Decimal `json:"cash" db:"cash"`
	PositionsValue decimal.Decimal `json:"positions_value" db:"positions_value"`
}
