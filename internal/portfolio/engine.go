// Package portfolio implements the paper-trading core: a ledger-backed
// trade executor, a resting order book, and portfolio analytics for a
// single synthetic account.
//
// The engine never fetches market data. Every operation that needs a
// price takes it as an argument; the calling layer owns quote
// retrieval. All monetary values use shopspring/decimal — never
// float64 for money.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finiq/paper-engine/internal/metrics"
	"github.com/finiq/paper-engine/internal/model"
	"github.com/finiq/paper-engine/internal/pricing"
	"github.com/finiq/paper-engine/internal/risk"
	"github.com/finiq/paper-engine/internal/store"
)

// Simulation defaults, matching an IBKR-style retail cost profile.
var (
	DefaultInitialCash        = decimal.NewFromInt(100000)
	DefaultSlippageBps        = decimal.NewFromInt(5)
	DefaultCommissionPerShare = decimal.NewFromFloat(0.005)
	DefaultMinCommission      = decimal.NewFromInt(1)
)

// Config carries the account's simulation parameters. Zero fields
// fall back to the package defaults.
type Config struct {
	InitialCash        decimal.Decimal
	SlippageBps        decimal.Decimal
	CommissionPerShare decimal.Decimal
	MinCommission      decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.InitialCash.IsZero() {
		c.InitialCash = DefaultInitialCash
	}
	if c.SlippageBps.IsZero() {
		c.SlippageBps = DefaultSlippageBps
	}
	if c.CommissionPerShare.IsZero() {
		c.CommissionPerShare = DefaultCommissionPerShare
	}
	if c.MinCommission.IsZero() {
		c.MinCommission = DefaultMinCommission
	}
	return c
}

// InitialAccount builds the account row the store is seeded with and
// that Reset reinstalls.
func (c Config) InitialAccount() model.Account {
	c = c.withDefaults()
	now := time.Now().UTC()
	return model.Account{
		Cash:               c.InitialCash,
		MarginUsed:         decimal.Zero,
		SlippageBps:        c.SlippageBps,
		CommissionPerShare: c.CommissionPerShare,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Engine applies trades, orders, and valuations against the ledger
// store. Mutating calls run in one exclusive writer section (RWMutex
// write lock) wrapped in a store transaction; reads share the read
// lock and never observe a half-applied mutation.
type Engine struct {
	store  store.Store
	limits *risk.Limits
	cfg    Config
	mu     sync.RWMutex
}

// NewEngine creates an engine on top of st. limits may be nil to
// disable risk caps.
func NewEngine(st store.Store, limits *risk.Limits, cfg Config) *Engine {
	return &Engine{
		store:  st,
		limits: limits,
		cfg:    cfg.withDefaults(),
	}
}

// InitialCash returns the configured starting balance.
func (e *Engine) InitialCash() decimal.Decimal { return e.cfg.InitialCash }

// Fill is the execution record returned from a successful trade.
type Fill struct {
	Action         model.Action     `json:"action"`
	Ticker         string           `json:"ticker"`
	Shares         decimal.Decimal  `json:"shares"`
	Price          decimal.Decimal  `json:"price"`    // slippage-adjusted execution price
	Slippage       decimal.Decimal  `json:"slippage"` // per-share, signed (adverse)
	Commission     decimal.Decimal  `json:"commission"`
	Total          decimal.Decimal  `json:"total"`
	PnL            *decimal.Decimal `json:"pnl,omitempty"`
	MarginRequired *decimal.Decimal `json:"margin_required,omitempty"`
	RemainingCash  decimal.Decimal  `json:"remaining_cash"`
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func validateTrade(ticker string, shares, price decimal.Decimal) error {
	if strings.TrimSpace(ticker) == "" {
		return fmt.Errorf("%w: ticker is required", ErrInvalidInput)
	}
	if shares.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: shares must be positive, got %s", ErrInvalidInput, shares)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidInput, price)
	}
	return nil
}

// Buy opens or extends a LONG position at the quoted price.
func (e *Engine) Buy(ctx context.Context, ticker string, shares, price decimal.Decimal, assetType string) (*Fill, error) {
	if err := validateTrade(ticker, shares, price); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buyLocked(ctx, normalizeTicker(ticker), shares, price, assetType)
}

func (e *Engine) buyLocked(ctx context.Context, ticker string, shares, price decimal.Decimal, assetType string) (*Fill, error) {
	var fill *Fill
	err := e.store.Tx(ctx, func(st store.Store) error {
		acct, err := st.GetAccount(ctx)
		if err != nil {
			return err
		}
		cost, err := pricing.NewModel(acct.SlippageBps, acct.CommissionPerShare, e.cfg.MinCommission)
		if err != nil {
			return err
		}

		slip := cost.Slippage(price, pricing.Pay)
		execPrice := price.Add(slip)
		commission := cost.Commission(shares)
		totalCost := shares.Mul(execPrice).Add(commission)

		if totalCost.GreaterThan(acct.Cash) {
			return fmt.Errorf("%w: need %s, have %s",
				ErrInsufficientFunds, totalCost.StringFixed(2), acct.Cash.StringFixed(2))
		}

		pos, err := st.GetPosition(ctx, ticker, model.SideLong)
		if err != nil && !isNotFound(err) {
			return err
		}

		if err := e.checkLimits(ctx, st, ticker, model.SideLong, pos, shares, execPrice); err != nil {
			return err
		}

		now := time.Now().UTC()
		if pos != nil {
			newShares := pos.Shares.Add(shares)
			// Volume-weighted average cost.
			pos.AvgCost = pos.Shares.Mul(pos.AvgCost).Add(shares.Mul(execPrice)).Div(newShares)
			pos.Shares = newShares
			pos.UpdatedAt = now
		} else {
			pos = &model.Position{
				Ticker:    ticker,
				AssetType: assetType,
				Side:      model.SideLong,
				Shares:    shares,
				AvgCost:   execPrice,
				OpenedAt:  now,
				UpdatedAt: now,
			}
		}
		if err := st.UpsertPosition(ctx, pos); err != nil {
			return err
		}

		acct.Cash = acct.Cash.Sub(totalCost)
		if err := st.SaveAccount(ctx, acct); err != nil {
			return err
		}

		if err := st.InsertTransaction(ctx, &model.Transaction{
			ID:         uuid.New().String(),
			Ticker:     ticker,
			AssetType:  assetType,
			Action:     model.ActionBuy,
			Side:       model.SideLong,
			Shares:     shares,
			Price:      execPrice,
			Slippage:   slip.Abs().Mul(shares),
			Commission: commission,
			Total:      totalCost,
			Timestamp:  now,
		}); err != nil {
			return err
		}

		fill = &Fill{
			Action:        model.ActionBuy,
			Ticker:        ticker,
			Shares:        shares,
			Price:         execPrice,
			Slippage:      slip,
			Commission:    commission,
			Total:         totalCost,
			RemainingCash: acct.Cash,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(model.ActionBuy)).Inc()
	slog.Info("trade executed",
		"action", "BUY",
		"ticker", ticker,
		"shares", shares.String(),
		"exec_price", fill.Price.String(),
		"total", fill.Total.String(),
		"cash", fill.RemainingCash.String(),
	)
	return fill, nil
}

// Sell closes some or all of a LONG position at the quoted price.
func (e *Engine) Sell(ctx context.Context, ticker string, shares, price decimal.Decimal) (*Fill, error) {
	if err := validateTrade(ticker, shares, price); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sellLocked(ctx, normalizeTicker(ticker), shares, price)
}

func (e *Engine) sellLocked(ctx context.Context, ticker string, shares, price decimal.Decimal) (*Fill, error) {
	var fill *Fill
	err := e.store.Tx(ctx, func(st store.Store) error {
		acct, err := st.GetAccount(ctx)
		if err != nil {
			return err
		}
		cost, err := pricing.NewModel(acct.SlippageBps, acct.CommissionPerShare, e.cfg.MinCommission)
		if err != nil {
			return err
		}

		pos, err := st.GetPosition(ctx, ticker, model.SideLong)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: have 0 %s shares, selling %s",
					ErrInsufficientPosition, ticker, shares)
			}
			return err
		}
		if pos.Shares.LessThan(shares) {
			return fmt.Errorf("%w: have %s %s shares, selling %s",
				ErrInsufficientPosition, pos.Shares, ticker, shares)
		}

		slip := cost.Slippage(price, pricing.Receive)
		execPrice := price.Add(slip)
		commission := cost.Commission(shares)
		proceeds := shares.Mul(execPrice).Sub(commission)
		pnl := execPrice.Sub(pos.AvgCost).Mul(shares).Sub(commission)

		now := time.Now().UTC()
		remaining := pos.Shares.Sub(shares)
		if remaining.LessThanOrEqual(decimal.Zero) {
			if err := st.DeletePosition(ctx, ticker, model.SideLong); err != nil {
				return err
			}
		} else {
			pos.Shares = remaining
			pos.UpdatedAt = now
			if err := st.UpsertPosition(ctx, pos); err != nil {
				return err
			}
		}

		acct.Cash = acct.Cash.Add(proceeds)
		if err := st.SaveAccount(ctx, acct); err != nil {
			return err
		}

		if err := st.InsertTransaction(ctx, &model.Transaction{
			ID:         uuid.New().String(),
			Ticker:     ticker,
			AssetType:  pos.AssetType,
			Action:     model.ActionSell,
			Side:       model.SideLong,
			Shares:     shares,
			Price:      execPrice,
			Slippage:   slip.Abs().Mul(shares),
			Commission: commission,
			Total:      proceeds,
			PnL:        &pnl,
			Timestamp:  now,
		}); err != nil {
			return err
		}

		fill = &Fill{
			Action:        model.ActionSell,
			Ticker:        ticker,
			Shares:        shares,
			Price:         execPrice,
			Slippage:      slip,
			Commission:    commission,
			Total:         proceeds,
			PnL:           &pnl,
			RemainingCash: acct.Cash,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(model.ActionSell)).Inc()
	slog.Info("trade executed",
		"action", "SELL",
		"ticker", ticker,
		"shares", shares.String(),
		"exec_price", fill.Price.String(),
		"pnl", fill.PnL.String(),
		"cash", fill.RemainingCash.String(),
	)
	return fill, nil
}

// ShortSell opens or extends a SHORT position. The short is fully
// margined: the entire notional plus commission is deducted from cash
// at open, and no sale proceeds are credited. This is a paper-trading
// simplification, not a brokerage credit model; CoverShort releases
// the margin together with realized P&L.
func (e *Engine) ShortSell(ctx context.Context, ticker string, shares, price decimal.Decimal, assetType string) (*Fill, error) {
	if err := validateTrade(ticker, shares, price); err != nil {
		return nil, err
	}
	ticker = normalizeTicker(ticker)
	e.mu.Lock()
	defer e.mu.Unlock()

	var fill *Fill
	err := e.store.Tx(ctx, func(st store.Store) error {
		acct, err := st.GetAccount(ctx)
		if err != nil {
			return err
		}
		cost, err := pricing.NewModel(acct.SlippageBps, acct.CommissionPerShare, e.cfg.MinCommission)
		if err != nil {
			return err
		}

		slip := cost.Slippage(price, pricing.Receive)
		execPrice := price.Add(slip)
		commission := cost.Commission(shares)
		marginRequired := shares.Mul(execPrice).Add(commission)

		if marginRequired.GreaterThan(acct.Cash) {
			return fmt.Errorf("%w: need %s margin, have %s",
				ErrInsufficientFunds, marginRequired.StringFixed(2), acct.Cash.StringFixed(2))
		}

		pos, err := st.GetPosition(ctx, ticker, model.SideShort)
		if err != nil && !isNotFound(err) {
			return err
		}

		if err := e.checkLimits(ctx, st, ticker, model.SideShort, pos, shares, execPrice); err != nil {
			return err
		}

		now := time.Now().UTC()
		if pos != nil {
			newShares := pos.Shares.Add(shares)
			pos.AvgCost = pos.Shares.Mul(pos.AvgCost).Add(shares.Mul(execPrice)).Div(newShares)
			pos.Shares = newShares
			pos.UpdatedAt = now
		} else {
			pos = &model.Position{
				Ticker:    ticker,
				AssetType: assetType,
				Side:      model.SideShort,
				Shares:    shares,
				AvgCost:   execPrice,
				OpenedAt:  now,
				UpdatedAt: now,
			}
		}
		if err := st.UpsertPosition(ctx, pos); err != nil {
			return err
		}

		acct.Cash = acct.Cash.Sub(marginRequired)
		acct.MarginUsed = acct.MarginUsed.Add(shares.Mul(execPrice))
		if err := st.SaveAccount(ctx, acct); err != nil {
			return err
		}

		if err := st.InsertTransaction(ctx, &model.Transaction{
			ID:         uuid.New().String(),
			Ticker:     ticker,
			AssetType:  assetType,
			Action:     model.ActionShort,
			Side:       model.SideShort,
			Shares:     shares,
			Price:      execPrice,
			Slippage:   slip.Abs().Mul(shares),
			Commission: commission,
			Total:      marginRequired,
			Timestamp:  now,
		}); err != nil {
			return err
		}

		fill = &Fill{
			Action:         model.ActionShort,
			Ticker:         ticker,
			Shares:         shares,
			Price:          execPrice,
			Slippage:       slip,
			Commission:     commission,
			Total:          marginRequired,
			MarginRequired: &marginRequired,
			RemainingCash:  acct.Cash,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(model.ActionShort)).Inc()
	slog.Info("trade executed",
		"action", "SHORT",
		"ticker", ticker,
		"shares", shares.String(),
		"exec_price", fill.Price.String(),
		"margin_required", fill.MarginRequired.String(),
		"cash", fill.RemainingCash.String(),
	)
	return fill, nil
}

// CoverShort buys back some or all of a SHORT position, releasing the
// held margin back to cash along with the realized P&L.
func (e *Engine) CoverShort(ctx context.Context, ticker string, shares, price decimal.Decimal) (*Fill, error) {
	if err := validateTrade(ticker, shares, price); err != nil {
		return nil, err
	}
	ticker = normalizeTicker(ticker)
	e.mu.Lock()
	defer e.mu.Unlock()

	var fill *Fill
	err := e.store.Tx(ctx, func(st store.Store) error {
		acct, err := st.GetAccount(ctx)
		if err != nil {
			return err
		}
		cost, err := pricing.NewModel(acct.SlippageBps, acct.CommissionPerShare, e.cfg.MinCommission)
		if err != nil {
			return err
		}

		pos, err := st.GetPosition(ctx, ticker, model.SideShort)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: no %s short position", ErrInsufficientPosition, ticker)
			}
			return err
		}
		if pos.Shares.LessThan(shares) {
			return fmt.Errorf("%w: have %s %s short shares, covering %s",
				ErrInsufficientPosition, pos.Shares, ticker, shares)
		}

		slip := cost.Slippage(price, pricing.Pay)
		execPrice := price.Add(slip)
		commission := cost.Commission(shares)

		// Short profit when the price fell since the open.
		entryValue := shares.Mul(pos.AvgCost)
		coverCost := shares.Mul(execPrice)
		pnl := entryValue.Sub(coverCost).Sub(commission)

		acct.Cash = acct.Cash.Add(entryValue).Add(pnl)
		acct.MarginUsed = acct.MarginUsed.Sub(entryValue)
		if acct.MarginUsed.IsNegative() {
			acct.MarginUsed = decimal.Zero
		}
		if err := st.SaveAccount(ctx, acct); err != nil {
			return err
		}

		now := time.Now().UTC()
		remaining := pos.Shares.Sub(shares)
		if remaining.LessThanOrEqual(decimal.Zero) {
			if err := st.DeletePosition(ctx, ticker, model.SideShort); err != nil {
				return err
			}
		} else {
			pos.Shares = remaining
			pos.UpdatedAt = now
			if err := st.UpsertPosition(ctx, pos); err != nil {
				return err
			}
		}

		if err := st.InsertTransaction(ctx, &model.Transaction{
			ID:         uuid.New().String(),
			Ticker:     ticker,
			AssetType:  pos.AssetType,
			Action:     model.ActionCover,
			Side:       model.SideShort,
			Shares:     shares,
			Price:      execPrice,
			Slippage:   slip.Abs().Mul(shares),
			Commission: commission,
			Total:      coverCost.Add(commission),
			PnL:        &pnl,
			Timestamp:  now,
		}); err != nil {
			return err
		}

		fill = &Fill{
			Action:        model.ActionCover,
			Ticker:        ticker,
			Shares:        shares,
			Price:         execPrice,
			Slippage:      slip,
			Commission:    commission,
			Total:         coverCost.Add(commission),
			PnL:           &pnl,
			RemainingCash: acct.Cash,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(model.ActionCover)).Inc()
	slog.Info("trade executed",
		"action", "COVER",
		"ticker", ticker,
		"shares", shares.String(),
		"exec_price", fill.Price.String(),
		"pnl", fill.PnL.String(),
		"cash", fill.RemainingCash.String(),
	)
	return fill, nil
}

// checkLimits applies the optional risk caps to an opening trade.
func (e *Engine) checkLimits(ctx context.Context, st store.Store, ticker string, side model.Side, pos *model.Position, shares, execPrice decimal.Decimal) error {
	if e.limits == nil {
		return nil
	}

	posValue := shares.Mul(execPrice)
	if pos != nil {
		posValue = posValue.Add(pos.Shares.Mul(pos.AvgCost))
	}

	positions, err := st.GetPositions(ctx)
	if err != nil {
		return err
	}
	exposure := shares.Mul(execPrice)
	for _, p := range positions {
		exposure = exposure.Add(p.Shares.Mul(p.AvgCost))
	}

	if err := e.limits.Check(posValue, exposure); err != nil {
		metrics.RiskRejections.Inc()
		return fmt.Errorf("risk check for %s/%s: %w", ticker, side, err)
	}
	return nil
}

// Reset clears all accumulated state and reinstalls the starting
// account. It always succeeds and is idempotent.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	acct := e.cfg.InitialAccount()
	if err := e.store.Reset(ctx, &acct); err != nil {
		return err
	}
	slog.Info("portfolio reset", "cash", acct.Cash.String())
	return nil
}

// UpdateSettings mutates the simulation parameters. Nil fields are
// left unchanged; negative values are rejected.
func (e *Engine) UpdateSettings(ctx context.Context, slippageBps, commissionPerShare *decimal.Decimal) error {
	if slippageBps != nil && slippageBps.IsNegative() {
		return fmt.Errorf("%w: slippage_bps must be non-negative", ErrInvalidInput)
	}
	if commissionPerShare != nil && commissionPerShare.IsNegative() {
		return fmt.Errorf("%w: commission_per_share must be non-negative", ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.UpdateSettings(ctx, slippageBps, commissionPerShare)
}

// Account returns the current account row.
func (e *Engine) Account(ctx context.Context) (*model.Account, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.GetAccount(ctx)
}

// Positions returns all open positions.
func (e *Engine) Positions(ctx context.Context) ([]model.Position, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.GetPositions(ctx)
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
