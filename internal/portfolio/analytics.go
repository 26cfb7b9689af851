package portfolio

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finiq/paper-engine/internal/metrics"
	"github.com/finiq/paper-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// tradingDaysPerYear is the annualization factor for daily returns.
const tradingDaysPerYear = 252

// PositionView is one open position marked against the supplied
// market price.
type PositionView struct {
	Ticker        string          `json:"ticker"`
	AssetType     string          `json:"asset_type"`
	Side          model.Side      `json:"side"`
	Shares        decimal.Decimal `json:"shares"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	PnL           decimal.Decimal `json:"pnl"`
	PnLPct        decimal.Decimal `json:"pnl_pct"`
	AllocationPct decimal.Decimal `json:"allocation_pct"`
}

// Summary is the full portfolio valuation snapshot.
type Summary struct {
	Cash               decimal.Decimal `json:"cash"`
	PositionsValue     decimal.Decimal `json:"positions_value"`
	TotalValue         decimal.Decimal `json:"total_value"`
	TotalPnL           decimal.Decimal `json:"total_pnl"`
	TotalPnLPct        decimal.Decimal `json:"total_pnl_pct"`
	InitialCapital     decimal.Decimal `json:"initial_capital"`
	MarginUsed         decimal.Decimal `json:"margin_used"`
	BuyingPower        decimal.Decimal `json:"buying_power"`
	CashAllocationPct  decimal.Decimal `json:"cash_allocation_pct"`
	SlippageBps        decimal.Decimal `json:"slippage_bps"`
	CommissionPerShare decimal.Decimal `json:"commission_per_share"`
	Positions          []PositionView  `json:"positions"`
}

// Summary values every open position against the supplied prices.
// Positions without a quote are marked at their average cost. Total
// account value = cash + long market value + marginUsed + short
// unrealized P&L: margin was pre-deducted from cash at the short's
// open, so this reconstructs the short exposure.
func (e *Engine) Summary(ctx context.Context, prices map[string]decimal.Decimal) (*Summary, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.summaryLocked(ctx, prices)
}

func (e *Engine) summaryLocked(ctx context.Context, prices map[string]decimal.Decimal) (*Summary, error) {
	acct, err := e.store.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := e.store.GetPositions(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]PositionView, 0, len(positions))
	longValue := decimal.Zero
	shortUnrealized := decimal.Zero

	for _, p := range positions {
		current, ok := prices[p.Ticker]
		if !ok {
			current = p.AvgCost
		}

		costBasis := p.Shares.Mul(p.AvgCost)
		var marketValue, pnl decimal.Decimal
		if p.Side == model.SideLong {
			marketValue = p.Shares.Mul(current)
			pnl = marketValue.Sub(costBasis)
			longValue = longValue.Add(marketValue)
		} else {
			// Short value is the entry value; margin already holds it.
			marketValue = costBasis
			pnl = p.AvgCost.Sub(current).Mul(p.Shares)
			shortUnrealized = shortUnrealized.Add(pnl)
		}

		pnlPct := decimal.Zero
		if costBasis.IsPositive() {
			pnlPct = pnl.Div(costBasis).Mul(hundred)
		}

		views = append(views, PositionView{
			Ticker:       p.Ticker,
			AssetType:    p.AssetType,
			Side:         p.Side,
			Shares:       p.Shares,
			AvgCost:      p.AvgCost.Round(2),
			CurrentPrice: current.Round(2),
			MarketValue:  marketValue.Round(2),
			CostBasis:    costBasis.Round(2),
			PnL:          pnl.Round(2),
			PnLPct:       pnlPct.Round(2),
		})
	}

	totalValue := acct.Cash.Add(longValue).Add(acct.MarginUsed).Add(shortUnrealized)
	totalPnL := totalValue.Sub(e.cfg.InitialCash)

	for i := range views {
		if totalValue.IsPositive() {
			views[i].AllocationPct = views[i].MarketValue.Abs().Div(totalValue).Mul(hundred).Round(2)
		}
	}

	cashAlloc := hundred
	if totalValue.IsPositive() {
		cashAlloc = acct.Cash.Div(totalValue).Mul(hundred).Round(2)
	}

	return &Summary{
		Cash:               acct.Cash.Round(2),
		PositionsValue:     longValue.Round(2),
		TotalValue:         totalValue.Round(2),
		TotalPnL:           totalPnL.Round(2),
		TotalPnLPct:        totalPnL.Div(e.cfg.InitialCash).Mul(hundred).Round(2),
		InitialCapital:     e.cfg.InitialCash,
		MarginUsed:         acct.MarginUsed.Round(2),
		BuyingPower:        acct.Cash.Round(2),
		CashAllocationPct:  cashAlloc,
		SlippageBps:        acct.SlippageBps,
		CommissionPerShare: acct.CommissionPerShare,
		Positions:          views,
	}, nil
}

// RecordEquityPoint appends a point to the equity curve. The daily
// return is the fractional change from the previous point, zero for
// the first.
func (e *Engine) RecordEquityPoint(ctx context.Context, totalValue, cash, positionsValue decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dailyReturn := decimal.Zero
	last, err := e.store.LastEquityPoint(ctx)
	if err != nil && !isNotFound(err) {
		return err
	}
	if last != nil && last.TotalValue.IsPositive() {
		dailyReturn = totalValue.Sub(last.TotalValue).Div(last.TotalValue)
	}

	if err := e.store.InsertEquityPoint(ctx, &model.EquityPoint{
		Timestamp:      time.Now().UTC(),
		TotalValue:     totalValue,
		Cash:           cash,
		PositionsValue: positionsValue,
		DailyReturn:    dailyReturn,
	}); err != nil {
		return err
	}

	metrics.PortfolioValue.Set(totalValue.InexactFloat64())
	return nil
}

// SaveDailySnapshot upserts today's end-of-day valuation, so repeated
// calls within one day overwrite rather than append.
func (e *Engine) SaveDailySnapshot(ctx context.Context, totalValue, cash, positionsValue decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.store.UpsertDailySnapshot(ctx, &model.DailySnapshot{
		Date:           time.Now().UTC().Format("2006-01-02"),
		TotalValue:     totalValue,
		Cash:           cash,
		PositionsValue: positionsValue,
	})
}

// EquityCurve returns up to limit points, oldest first.
func (e *Engine) EquityCurve(ctx context.Context, limit int) ([]model.EquityPoint, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.GetEquityCurve(ctx, limit)
}

// Transactions returns up to limit ledger records, newest first.
func (e *Engine) Transactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.GetTransactions(ctx, limit)
}

// ProfitFactor is gross profit over gross loss. JSON has no infinity
// literal, so the "all profit, zero loss" sentinel marshals as the
// string "inf".
type ProfitFactor float64

func (p ProfitFactor) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(p), 1) {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(math.Round(float64(p)*100) / 100)
}

// Stats are the risk and performance metrics derived from the full
// transaction ledger and equity curve.
type Stats struct {
	SharpeRatio     float64         `json:"sharpe_ratio"`
	SortinoRatio    float64         `json:"sortino_ratio"`
	CalmarRatio     float64         `json:"calmar_ratio"`
	MaxDrawdownPct  float64         `json:"max_drawdown_pct"`
	ProfitFactor    ProfitFactor    `json:"profit_factor"`
	WinRate         float64         `json:"win_rate"`
	TotalTrades     int             `json:"total_trades"`
	WinningTrades   int             `json:"winning_trades"`
	LosingTrades    int             `json:"losing_trades"`
	AvgWin          decimal.Decimal `json:"avg_win"`
	AvgLoss         decimal.Decimal `json:"avg_loss"`
	BestTrade       decimal.Decimal `json:"best_trade"`
	WorstTrade      decimal.Decimal `json:"worst_trade"`
	TotalReturnPct  decimal.Decimal `json:"total_return_pct"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	TotalSlippage   decimal.Decimal `json:"total_slippage"`
	GrossProfit     decimal.Decimal `json:"gross_profit"`
	GrossLoss       decimal.Decimal `json:"gross_loss"`
}

func emptyStats() *Stats {
	return &Stats{
		AvgWin:          decimal.Zero,
		AvgLoss:         decimal.Zero,
		BestTrade:       decimal.Zero,
		WorstTrade:      decimal.Zero,
		TotalReturnPct:  decimal.Zero,
		TotalCommission: decimal.Zero,
		TotalSlippage:   decimal.Zero,
		GrossProfit:     decimal.Zero,
		GrossLoss:       decimal.Zero,
	}
}

// Analytics computes Stats from the full history. Ratios fall back to
// zero when there is not enough data (fewer than two non-zero daily
// returns, or a zero denominator). Trade statistics use only closing
// trades (those carrying a realized P&L).
func (e *Engine) Analytics(ctx context.Context, prices map[string]decimal.Decimal) (*Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	txns, err := e.store.GetTransactions(ctx, 0)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return emptyStats(), nil
	}

	equity, err := e.store.GetEquityCurve(ctx, 0)
	if err != nil {
		return nil, err
	}

	stats := emptyStats()
	stats.SharpeRatio, stats.SortinoRatio, stats.CalmarRatio, stats.MaxDrawdownPct = ratios(equity)

	// Closing trades only.
	var pnls []decimal.Decimal
	for _, t := range txns {
		stats.TotalCommission = stats.TotalCommission.Add(t.Commission)
		stats.TotalSlippage = stats.TotalSlippage.Add(t.Slippage.Abs())
		if t.PnL != nil {
			pnls = append(pnls, *t.PnL)
		}
	}
	stats.TotalCommission = stats.TotalCommission.Round(2)
	stats.TotalSlippage = stats.TotalSlippage.Round(2)

	if len(pnls) > 0 {
		var winSum, lossSum decimal.Decimal
		var wins, losses int
		best, worst := pnls[0], pnls[0]
		for _, p := range pnls {
			if p.IsPositive() {
				wins++
				winSum = winSum.Add(p)
			} else {
				losses++
				lossSum = lossSum.Add(p)
			}
			if p.GreaterThan(best) {
				best = p
			}
			if p.LessThan(worst) {
				worst = p
			}
		}

		stats.TotalTrades = len(pnls)
		stats.WinningTrades = wins
		stats.LosingTrades = losses
		stats.WinRate = math.Round(float64(wins)/float64(len(pnls))*1000) / 10
		stats.GrossProfit = winSum.Round(2)
		stats.GrossLoss = lossSum.Abs().Round(2)
		stats.BestTrade = best.Round(2)
		stats.WorstTrade = worst.Round(2)
		if wins > 0 {
			stats.AvgWin = winSum.Div(decimal.NewFromInt(int64(wins))).Round(2)
		}
		if losses > 0 {
			stats.AvgLoss = lossSum.Div(decimal.NewFromInt(int64(losses))).Round(2)
		}

		switch {
		case stats.GrossLoss.IsPositive():
			stats.ProfitFactor = ProfitFactor(stats.GrossProfit.InexactFloat64() / stats.GrossLoss.InexactFloat64())
		case stats.GrossProfit.IsPositive():
			stats.ProfitFactor = ProfitFactor(math.Inf(1))
		}
	}

	summary, err := e.summaryLocked(ctx, prices)
	if err != nil {
		return nil, err
	}
	stats.TotalReturnPct = summary.TotalPnLPct

	return stats, nil
}

// ratios computes Sharpe, Sortino, Calmar, and max drawdown from the
// equity curve. Zero daily returns are excluded from the return
// series; downside deviation is the root-mean-square of the negative
// returns.
func ratios(equity []model.EquityPoint) (sharpe, sortino, calmar, maxDrawdownPct float64) {
	var returns []float64
	for _, pt := range equity {
		if !pt.DailyReturn.IsZero() {
			returns = append(returns, pt.DailyReturn.InexactFloat64())
		}
	}
	if len(returns) < 2 {
		return 0, 0, 0, 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance, downsideSq float64
	negatives := 0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
		if r < 0 {
			downsideSq += r * r
			negatives++
		}
	}
	stdev := math.Sqrt(variance / float64(len(returns)))
	annualize := math.Sqrt(tradingDaysPerYear)

	if stdev > 0 {
		sharpe = mean / stdev * annualize
	}
	if negatives > 0 {
		downside := math.Sqrt(downsideSq / float64(negatives))
		if downside > 0 {
			sortino = mean / downside * annualize
		}
	}

	// Max drawdown over the equity value series.
	values := make([]float64, len(equity))
	for i, pt := range equity {
		values[i] = pt.TotalValue.InexactFloat64()
	}
	peak := values[0]
	maxDD := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	maxDrawdownPct = maxDD * 100

	if maxDD > 0 && values[0] > 0 {
		totalReturn := values[len(values)-1]/values[0] - 1
		calmar = totalReturn / maxDD
	}
	return sharpe, sortino, calmar, maxDrawdownPct
}
