// Package pricing implements the execution cost model for simulated
// fills: basis-point slippage that always moves the price against the
// trader, and per-share commission with a fixed minimum.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidParams is returned when a model is constructed with a
// negative slippage or commission rate.
var ErrInvalidParams = errors.New("pricing: slippage and commission rates must be non-negative")

// Direction is the side of the market the trader crosses. Buys (and
// short covers) pay up; sells (and short opens) receive less.
type Direction int

const (
	// Pay marks trades that lift the offer: BUY and COVER.
	Pay Direction = iota
	// Receive marks trades that hit the bid: SELL and SHORT.
	Receive
)

var bpsDivisor = decimal.NewFromInt(10000)

// Model holds the simulation cost parameters for one account.
type Model struct {
	slippageBps        decimal.Decimal
	commissionPerShare decimal.Decimal
	minCommission      decimal.Decimal
}

// NewModel validates and constructs a cost model.
func NewModel(slippageBps, commissionPerShare, minCommission decimal.Decimal) (*Model, error) {
	if slippageBps.IsNegative() || commissionPerShare.IsNegative() || minCommission.IsNegative() {
		return nil, ErrInvalidParams
	}
	return &Model{
		slippageBps:        slippageBps,
		commissionPerShare: commissionPerShare,
		minCommission:      minCommission,
	}, nil
}

// Slippage returns the signed per-share price adjustment for a quoted
// price: positive when paying (trader pays more), negative when
// receiving (trader receives less). Slippage is always adverse.
func (m *Model) Slippage(price decimal.Decimal, dir Direction) decimal.Decimal {
	slip := price.Mul(m.slippageBps).Div(bpsDivisor)
	if dir == Receive {
		return slip.Neg()
	}
	return slip
}

// ExecutionPrice returns the quoted price adjusted for slippage.
func (m *Model) ExecutionPrice(price decimal.Decimal, dir Direction) decimal.Decimal {
	return price.Add(m.Slippage(price, dir))
}

// Commission returns max(shares * perShare, minCommission).
func (m *Model) Commission(shares decimal.Decimal) decimal.Decimal {
	c := shares.Abs().Mul(m.commissionPerShare)
	if c.LessThan(m.minCommission) {
		return m.minCommission
	}
	return c
}
