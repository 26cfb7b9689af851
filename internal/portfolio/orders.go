package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finiq/paper-engine/internal/metrics"
	"github.com/finiq/paper-engine/internal/model"
)

// DefaultOrderTTL is how long a resting order stays live when the
// caller does not specify an expiry.
const DefaultOrderTTL = 24 * time.Hour

// PlaceLimitOrder rests a LIMIT order: BUY fills at or below the
// target price, SELL at or above it.
func (e *Engine) PlaceLimitOrder(ctx context.Context, ticker string, side model.OrderSide, shares, targetPrice decimal.Decimal, assetType string, ttl time.Duration) (*model.PendingOrder, error) {
	return e.placeOrder(ctx, model.OrderLimit, ticker, side, shares, targetPrice, assetType, ttl)
}

// PlaceStopOrder rests a STOP order: SELL fills at or below the
// target (stop-loss), BUY at or above it (stop-buy).
func (e *Engine) PlaceStopOrder(ctx context.Context, ticker string, side model.OrderSide, shares, targetPrice decimal.Decimal, assetType string, ttl time.Duration) (*model.PendingOrder, error) {
	return e.placeOrder(ctx, model.OrderStop, ticker, side, shares, targetPrice, assetType, ttl)
}

func (e *Engine) placeOrder(ctx context.Context, orderType model.OrderType, ticker string, side model.OrderSide, shares, targetPrice decimal.Decimal, assetType string, ttl time.Duration) (*model.PendingOrder, error) {
	if err := validateTrade(ticker, shares, targetPrice); err != nil {
		return nil, err
	}
	if side != model.OrderBuy && side != model.OrderSell {
		return nil, fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidInput, side)
	}
	if ttl <= 0 {
		ttl = DefaultOrderTTL
	}

	now := time.Now().UTC()
	ord := &model.PendingOrder{
		ID:          uuid.New().String(),
		Ticker:      normalizeTicker(ticker),
		AssetType:   assetType,
		OrderType:   orderType,
		Side:        side,
		Shares:      shares,
		TargetPrice: targetPrice,
		Status:      model.OrderPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.InsertOrder(ctx, ord); err != nil {
		return nil, err
	}

	metrics.OrdersPlaced.WithLabelValues(string(orderType)).Inc()
	slog.Info("order placed",
		"order_id", ord.ID,
		"type", string(orderType),
		"side", string(side),
		"ticker", ord.Ticker,
		"shares", shares.String(),
		"target", targetPrice.String(),
		"expires_at", ord.ExpiresAt,
	)
	return ord, nil
}

// CancelOrder cancels a PENDING order. Cancelling an order already in
// a terminal state is a no-op that returns its current record;
// unknown IDs return ErrOrderNotFound.
func (e *Engine) CancelOrder(ctx context.Context, id string) (*model.PendingOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ok, err := e.store.SetOrderStatus(ctx, id, model.OrderPending, model.OrderCancelled, nil)
	if err != nil {
		return nil, err
	}
	if ok {
		metrics.OrdersCancelled.Inc()
		slog.Info("order cancelled", "order_id", id)
	}

	ord, err := e.store.GetOrder(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		return nil, err
	}
	return ord, nil
}

// PendingOrders returns all live orders. Expiration is lazy: orders
// past their expiry are flipped to EXPIRED before listing.
func (e *Engine) PendingOrders(ctx context.Context) ([]model.PendingOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.expireLocked(ctx); err != nil {
		return nil, err
	}
	return e.store.ListOrdersByStatus(ctx, model.OrderPending)
}

func (e *Engine) expireLocked(ctx context.Context) error {
	n, err := e.store.ExpireOrders(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.OrdersExpired.Add(float64(n))
		slog.Info("orders expired", "count", n)
	}
	return nil
}

// OrderFill pairs a triggered order with its execution outcome. Err
// is set when the order triggered but the executor rejected the trade
// (e.g. insufficient funds at fill time); the order still counts as
// FILLED, matching the mark-then-execute flow.
type OrderFill struct {
	Order model.PendingOrder `json:"order"`
	Fill  *Fill              `json:"fill,omitempty"`
	Err   string             `json:"error,omitempty"`
}

// CheckAndFill evaluates every PENDING order against the supplied
// market prices and executes those whose trigger condition is met.
// Fills execute at the live market print, not the order's target
// price. Orders whose ticker has no supplied price are left
// untouched. Best-effort: individual execution failures are reported
// in the result list, never returned as an error.
func (e *Engine) CheckAndFill(ctx context.Context, prices map[string]decimal.Decimal) ([]OrderFill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.expireLocked(ctx); err != nil {
		return nil, err
	}

	pending, err := e.store.ListOrdersByStatus(ctx, model.OrderPending)
	if err != nil {
		return nil, err
	}

	var filled []OrderFill
	for _, ord := range pending {
		marketPrice, ok := prices[ord.Ticker]
		if !ok {
			continue
		}
		if !shouldFill(ord, marketPrice) {
			continue
		}

		now := time.Now().UTC()
		transitioned, err := e.store.SetOrderStatus(ctx, ord.ID, model.OrderPending, model.OrderFilled, &now)
		if err != nil {
			return nil, err
		}
		if !transitioned {
			continue // lost the race to another terminal transition
		}
		ord.Status = model.OrderFilled
		ord.FilledAt = &now

		var fill *Fill
		var execErr error
		if ord.Side == model.OrderBuy {
			fill, execErr = e.buyLocked(ctx, ord.Ticker, ord.Shares, marketPrice, ord.AssetType)
		} else {
			fill, execErr = e.sellLocked(ctx, ord.Ticker, ord.Shares, marketPrice)
		}

		result := OrderFill{Order: ord, Fill: fill}
		if execErr != nil {
			result.Err = execErr.Error()
			slog.Warn("order triggered but execution failed",
				"order_id", ord.ID, "ticker", ord.Ticker, "err", execErr)
		} else {
			metrics.OrdersFilled.WithLabelValues(string(ord.OrderType)).Inc()
			slog.Info("order filled",
				"order_id", ord.ID,
				"type", string(ord.OrderType),
				"side", string(ord.Side),
				"ticker", ord.Ticker,
				"market_price", marketPrice.String(),
				"target", ord.TargetPrice.String(),
			)
		}
		filled = append(filled, result)
	}
	return filled, nil
}

// shouldFill evaluates an order's trigger against the market print.
// LIMIT orders fill on a favorable cross; STOP orders on an adverse
// one.
func shouldFill(ord model.PendingOrder, marketPrice decimal.Decimal) bool {
	switch ord.OrderType {
	case model.OrderLimit:
		if ord.Side == model.OrderBuy {
			return marketPrice.LessThanOrEqual(ord.TargetPrice)
		}
		return marketPrice.GreaterThanOrEqual(ord.TargetPrice)
	case model.OrderStop:
		if ord.Side == model.OrderSell {
			return marketPrice.LessThanOrEqual(ord.TargetPrice) // stop-loss
		}
		return marketPrice.GreaterThanOrEqual(ord.TargetPrice) // stop-buy
	}
	return false
}
